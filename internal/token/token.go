// Package token issues and verifies signer capability tokens.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"signline/internal/domain"
)

var ErrInvalid = errors.New("invalid capability token")

// claims is the wire form: {envId, email, i}.
type claims struct {
	jwt.RegisteredClaims
	EnvelopeID  string `json:"envId"`
	Email       string `json:"email"`
	SignerIndex *int   `json:"i"`
}

// Issuer signs and verifies HS256 capability tokens. A zero TTL issues tokens
// that do not expire.
type Issuer struct {
	Secret string
	TTL    time.Duration
	Now    func() time.Time
}

func (i Issuer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

// Issue binds a signer of an envelope to a token.
func (i Issuer) Issue(c domain.RecipientClaims) (string, error) {
	if strings.TrimSpace(i.Secret) == "" {
		return "", errors.New("token secret not configured")
	}
	idx := c.SignerIndex
	now := i.now()
	cl := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  c.Email,
			IssuedAt: jwt.NewNumericDate(now),
		},
		EnvelopeID:  c.EnvelopeID,
		Email:       c.Email,
		SignerIndex: &idx,
	}
	if i.TTL > 0 {
		cl.ExpiresAt = jwt.NewNumericDate(now.Add(i.TTL))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString([]byte(i.Secret))
}

// Verify checks the signature and returns the bound claims.
func (i Issuer) Verify(raw string) (domain.RecipientClaims, error) {
	if strings.TrimSpace(i.Secret) == "" {
		return domain.RecipientClaims{}, errors.New("token secret not configured")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	cl := &claims{}
	parsed, err := parser.ParseWithClaims(strings.TrimSpace(raw), cl, func(t *jwt.Token) (any, error) {
		return []byte(i.Secret), nil
	})
	if err != nil {
		return domain.RecipientClaims{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !parsed.Valid {
		return domain.RecipientClaims{}, ErrInvalid
	}
	if cl.EnvelopeID == "" || cl.Email == "" || cl.SignerIndex == nil || *cl.SignerIndex < 0 {
		return domain.RecipientClaims{}, fmt.Errorf("%w: missing envelope, email or signer index", ErrInvalid)
	}
	return domain.RecipientClaims{
		EnvelopeID:  cl.EnvelopeID,
		Email:       cl.Email,
		SignerIndex: *cl.SignerIndex,
	}, nil
}
