// Package auth resolves bearer tokens to scoped principals for the HTTP API.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Scopes understood by the API. "*" grants everything.
const (
	ScopeAll      = "*"
	ScopePoolsRO  = "pools:ro"
	ScopePoolsRW  = "pools:rw"
	ScopeTasksRO  = "tasks:ro"
	ScopeTasksRW  = "tasks:rw"
	ScopeEventsRO = "events:ro"
)

var resources = []string{"pools", "tasks", "events"}

// ScopeInfo documents one scope.
type ScopeInfo struct {
	Name        string
	Description string
}

// Scopes lists every scope with a one-line description.
func Scopes() []ScopeInfo {
	return []ScopeInfo{
		{ScopeAll, "Full administrative access (all scopes)"},
		{ScopePoolsRO, "List pools and inspect workers"},
		{ScopePoolsRW, "Register pools at runtime"},
		{ScopeTasksRO, "Read tasks, pool queues and the task log"},
		{ScopeTasksRW, "Submit and cancel tasks"},
		{ScopeEventsRO, "Follow the notification stream (SSE)"},
	}
}

// GenerateToken returns a random 32-byte token, hex encoded.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

type Principal struct {
	Token  string
	Scopes map[string]struct{}
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func ExtractBearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	token := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	if token == "" {
		return "", errors.New("missing API key")
	}
	return token, nil
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Authenticate matches a presented bearer token against configured tokens.
// If apiKey matches, it authenticates as admin with scope "*".
func Authenticate(presented string, apiKey string, tokens []TokenConfig) (Principal, bool) {
	if constantTimeEqual(presented, apiKey) {
		return Principal{
			Token:  presented,
			Scopes: map[string]struct{}{ScopeAll: {}},
		}, true
	}

	for _, t := range tokens {
		if constantTimeEqual(presented, t.Token) {
			return Principal{
				Token:  presented,
				Scopes: normalizeScopes(t.Scopes),
			}, true
		}
	}
	return Principal{}, false
}

func normalizeScopes(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out[s] = struct{}{}
	}

	// Write implies read for well-known resources.
	for _, res := range resources {
		if _, ok := out[res+":rw"]; ok {
			out[res+":ro"] = struct{}{}
		}
	}
	return out
}

// HasAnyScope reports whether p holds "*" or any of required.
func HasAnyScope(p Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := p.Scopes[ScopeAll]; ok {
		return true
	}
	for _, s := range required {
		if _, ok := p.Scopes[s]; ok {
			return true
		}
	}
	return false
}
