package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"signline/internal/domain"
)

type claimsKey struct{}

// verifyFunc resolves a capability token into the signer it was issued for.
type verifyFunc func(raw string) (domain.RecipientClaims, error)

func withClaims(ctx context.Context, c domain.RecipientClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

func claimsFromContext(ctx context.Context) (domain.RecipientClaims, huma.StatusError) {
	if c, ok := ctx.Value(claimsKey{}).(domain.RecipientClaims); ok {
		return c, nil
	}
	return domain.RecipientClaims{}, newAPIError(http.StatusUnauthorized, "unauthorized", "capability token required", nil)
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// capabilityToken reads the token from Authorization first, then ?token=.
func capabilityToken(req *http.Request) (string, bool) {
	if authz := strings.TrimSpace(req.Header.Get("Authorization")); authz != "" {
		return bearerToken(authz)
	}
	tok := strings.TrimSpace(req.URL.Query().Get("token"))
	return tok, tok != ""
}

func validAPIKey(want, got string) bool {
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// newAuthMiddleware guards the API base path. Signing routes take a
// capability token; every other route takes the API key when one is set.
func newAuthMiddleware(basePath, apiKey string, verify verifyFunc) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	specPath := path.Join(basePath, "openapi.json")
	signingPrefix := path.Join(basePath, "signing") + "/"
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath+"/") {
				next.ServeHTTP(w, req)
				return
			}
			if req.URL.Path == healthPath || req.URL.Path == specPath {
				next.ServeHTTP(w, req)
				return
			}

			if strings.HasPrefix(req.URL.Path, signingPrefix) {
				raw, ok := capabilityToken(req)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "capability token required", nil))
					return
				}
				claims, err := verify(raw)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_token", "invalid or expired token", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withClaims(req.Context(), claims)))
				return
			}

			if apiKey != "" && !validAPIKey(apiKey, strings.TrimSpace(req.Header.Get("X-Api-Key"))) {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}

// clientIP prefers the first X-Forwarded-For hop and drops the IPv4-mapped
// IPv6 prefix.
func clientIP(req *http.Request) string {
	if req == nil {
		return ""
	}
	ip := ""
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		ip = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if ip == "" {
		ip = req.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
	}
	return strings.TrimPrefix(ip, "::ffff:")
}
