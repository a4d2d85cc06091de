package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signline/internal/domain"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	iss := Issuer{Secret: "s3cret"}
	want := domain.RecipientClaims{EnvelopeID: "env-1", Email: "a@x.io", SignerIndex: 0}
	raw, err := iss.Issue(want)
	require.NoError(t, err)

	got, err := iss.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	raw, err := Issuer{Secret: "one"}.Issue(domain.RecipientClaims{EnvelopeID: "e", Email: "a@x.io", SignerIndex: 1})
	require.NoError(t, err)
	_, err = Issuer{Secret: "two"}.Verify(raw)
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestVerifyRejectsOtherAlgorithms(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"envId": "e", "email": "a@x.io", "i": 0})
	raw, err := tok.SignedString([]byte("s"))
	require.NoError(t, err)
	_, err = Issuer{Secret: "s"}.Verify(raw)
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestVerifyRequiresIndex(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"envId": "e", "email": "a@x.io"})
	raw, err := tok.SignedString([]byte("s"))
	require.NoError(t, err)
	_, err = Issuer{Secret: "s"}.Verify(raw)
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	iss := Issuer{Secret: "s", TTL: time.Hour, Now: func() time.Time { return now }}
	raw, err := iss.Issue(domain.RecipientClaims{EnvelopeID: "e", Email: "a@x.io", SignerIndex: 2})
	require.NoError(t, err)

	later := iss
	later.Now = func() time.Time { return now.Add(2 * time.Hour) }
	_, err = later.Verify(raw)
	assert.True(t, errors.Is(err, ErrInvalid))

	_, err = iss.Verify(raw)
	assert.NoError(t, err)
}
