package middleware

import (
	"context"
	"net/http"

	"github.com/cipherworks/fhemarket/pkg/models"
)

type contextKey string

const (
	addressKey   contextKey = "address"
	keyPrefixKey contextKey = "key_prefix"
	scopesKey    contextKey = "api_key_scopes"
)

// SetAddress binds the authenticated ledger address to the context.
func SetAddress(ctx context.Context, addr models.Address) context.Context {
	return context.WithValue(ctx, addressKey, addr)
}

// GetAddress returns the caller's ledger address set by auth middleware.
func GetAddress(r *http.Request) (models.Address, bool) {
	addr, ok := r.Context().Value(addressKey).(models.Address)
	return addr, ok
}

// ExportedKeyPrefixKey returns the context key for key_prefix (for testing).
func ExportedKeyPrefixKey() contextKey {
	return keyPrefixKey
}

func setKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

// SetScopes binds the API key's scopes to the context.
func SetScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, scopesKey, scopes)
}

func getScopes(r *http.Request) []string {
	scopes, _ := r.Context().Value(scopesKey).([]string)
	return scopes
}
