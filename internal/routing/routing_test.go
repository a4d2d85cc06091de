package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"signline/internal/domain"
)

func signer(action domain.Action, order int, status domain.Status) domain.Signer {
	return domain.Signer{Action: action, RoutingOrder: order, Status: status}
}

func TestNextEligibleWithoutRouting(t *testing.T) {
	signers := []domain.Signer{
		signer(domain.ActionSign, 2, domain.StatusPending),
		signer(domain.ActionSign, 0, domain.StatusSent),
		signer(domain.ActionView, 0, domain.StatusPending),
		signer(domain.ActionSign, 1, domain.StatusPending),
	}
	assert.Equal(t, []int{0, 3}, NextEligible(signers, false))
}

func TestNextEligibleLowestOrderBatch(t *testing.T) {
	signers := []domain.Signer{
		signer(domain.ActionSign, 1, domain.StatusPending),
		signer(domain.ActionSign, 0, domain.StatusPending),
		signer(domain.ActionSign, 0, domain.StatusPending),
		signer(domain.ActionSign, 2, domain.StatusPending),
	}
	assert.Equal(t, []int{1, 2}, NextEligible(signers, true))

	signers[1].Status = domain.StatusCompleted
	signers[2].Status = domain.StatusSent
	assert.Empty(t, NextEligible(signers, true), "order 1 waits for the whole order 0 wave")

	signers[2].Status = domain.StatusCompleted
	assert.Equal(t, []int{0}, NextEligible(signers, true))
}

func TestNextEligibleIgnoresFollowers(t *testing.T) {
	signers := []domain.Signer{
		signer(domain.ActionView, 0, domain.StatusPending),
		signer(domain.ActionCopy, 0, domain.StatusPending),
		signer(domain.ActionSign, 5, domain.StatusPending),
	}
	assert.Equal(t, []int{2}, NextEligible(signers, true))
}

func TestNextEligibleExhausted(t *testing.T) {
	signers := []domain.Signer{
		signer(domain.ActionSign, 0, domain.StatusCompleted),
		signer(domain.ActionView, 1, domain.StatusPending),
	}
	assert.Empty(t, NextEligible(signers, true))
	assert.Empty(t, NextEligible(signers, false))
	assert.True(t, SignersComplete(signers))
	assert.Equal(t, []int{1}, PendingFollowers(signers))
}
