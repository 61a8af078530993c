package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// Principal is an authenticated operator. KeyID is a digest of the API key
// and is safe to log.
type Principal struct {
	KeyID string
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

func ParseBearer(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

// KeyID returns a stable, non-reversible identifier for an API key.
func KeyID(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return "k_" + hex.EncodeToString(sum[:16])
}

// Authorize checks token against every configured key in constant time.
func Authorize(keys map[string]struct{}, token string) (*Principal, bool) {
	if token == "" {
		return nil, false
	}
	match := 0
	for key := range keys {
		match |= subtle.ConstantTimeCompare([]byte(key), []byte(token))
	}
	if match != 1 {
		return nil, false
	}
	return &Principal{KeyID: KeyID(token)}, true
}
