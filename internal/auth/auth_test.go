package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid", "Bearer test-key", "test-key", false},
		{"padded", "Bearer   test-key  ", "test-key", false},
		{"missing", "", "", true},
		{"basic", "Basic abc", "", true},
		{"blank", "Bearer   ", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			got, err := ExtractBearerToken(req)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	tokens := []TokenConfig{
		{Token: "reader", Scopes: []string{ScopePoolsRO, " "}},
		{Token: "writer", Scopes: []string{ScopeTasksRW}},
	}

	p, ok := Authenticate("admin-key", "admin-key", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeTasksRW))

	p, ok = Authenticate("reader", "admin-key", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopePoolsRO))
	assert.False(t, HasAnyScope(p, ScopePoolsRW, ScopeTasksRO))
	assert.Len(t, p.Scopes, 1)

	p, ok = Authenticate("writer", "", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeTasksRO), "rw implies ro")
	assert.False(t, HasAnyScope(p, ScopeEventsRO))

	_, ok = Authenticate("nope", "admin-key", tokens)
	assert.False(t, ok)
	_, ok = Authenticate("", "", tokens)
	assert.False(t, ok, "empty key never matches")
}

func TestPrincipalContext(t *testing.T) {
	t.Parallel()

	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{Token: "x"})
	p, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "x", p.Token)
	assert.True(t, HasAnyScope(p), "no required scopes")
}

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	a, err := GenerateToken()
	require.NoError(t, err)
	b, err := GenerateToken()
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}

func TestScopesAreDescribed(t *testing.T) {
	t.Parallel()

	for _, s := range Scopes() {
		assert.NotEmpty(t, s.Description, s.Name)
	}
	assert.Equal(t, ScopeAll, Scopes()[0].Name)
}
