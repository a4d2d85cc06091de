// Package routing decides which signers are notified next.
package routing

import (
	"sort"

	"signline/internal/domain"
)

// NextEligible returns the indexes of the signers to dispatch now, in ascending order.
// Only pending signers that must sign take part. With routing enabled the batch is
// every such signer sharing the lowest routing order, and it stays empty while a
// signer from an earlier wave is still outstanding; otherwise it is all of them.
func NextEligible(signers []domain.Signer, routingEnabled bool) []int {
	var candidates []int
	minOrder := 0
	for i, s := range signers {
		if s.Action != domain.ActionSign || s.Status != domain.StatusPending {
			continue
		}
		if len(candidates) == 0 || s.RoutingOrder < minOrder {
			minOrder = s.RoutingOrder
		}
		candidates = append(candidates, i)
	}
	if !routingEnabled || len(candidates) == 0 {
		return candidates
	}
	for _, s := range signers {
		if s.Action != domain.ActionSign || s.RoutingOrder >= minOrder {
			continue
		}
		if s.Status == domain.StatusSent || s.Status == domain.StatusDelivered {
			return nil
		}
	}
	batch := make([]int, 0, len(candidates))
	for _, i := range candidates {
		if signers[i].RoutingOrder == minOrder {
			batch = append(batch, i)
		}
	}
	sort.Ints(batch)
	return batch
}

// SignersComplete reports whether every signer that must sign has completed.
// An envelope without such signers is vacuously complete.
func SignersComplete(signers []domain.Signer) bool {
	for _, s := range signers {
		if s.Action == domain.ActionSign && s.Status != domain.StatusCompleted {
			return false
		}
	}
	return true
}

// PendingFollowers returns viewers and copy recipients still waiting for dispatch.
func PendingFollowers(signers []domain.Signer) []int {
	var out []int
	for i, s := range signers {
		if s.Action == domain.ActionSign {
			continue
		}
		if s.Status == domain.StatusPending {
			out = append(out, i)
		}
	}
	return out
}
