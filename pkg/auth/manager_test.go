package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequest(t *testing.T, headers map[string]string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestAPIKeyProvider(t *testing.T) {
	p := NewAPIKeyProvider("", []APIKeyCredential{
		{Key: "secret-key", UserID: "alice", Scopes: []string{"files:read"}},
	}, nil)

	t.Run("valid key", func(t *testing.T) {
		ac, err := p.Authenticate(newRequest(t, map[string]string{"X-API-Key": "secret-key"}))
		require.NoError(t, err)
		require.NotNil(t, ac)
		assert.Equal(t, "alice", ac.UserID)
		assert.Equal(t, AuthTypeAPIKey, ac.AuthType)
		assert.True(t, ac.HasScope("files:read"))
	})

	t.Run("wrong key", func(t *testing.T) {
		ac, err := p.Authenticate(newRequest(t, map[string]string{"X-API-Key": "nope"}))
		assert.Nil(t, ac)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("no header declines", func(t *testing.T) {
		ac, err := p.Authenticate(newRequest(t, nil))
		assert.Nil(t, ac)
		assert.NoError(t, err)
	})
}

func TestBearerProvider(t *testing.T) {
	p := NewBearerProvider([]BearerCredential{
		{Token: "tok-123", UserID: "bob", Scopes: []string{"api:write"}},
	}, ScopeHierarchy{"api:write": {"api:read"}})

	t.Run("valid token expands scopes", func(t *testing.T) {
		ac, err := p.Authenticate(newRequest(t, map[string]string{"Authorization": "Bearer tok-123"}))
		require.NoError(t, err)
		require.NotNil(t, ac)
		assert.True(t, ac.HasScope("api:write"))
		assert.True(t, ac.HasScope("api:read"))
	})

	t.Run("wrong token", func(t *testing.T) {
		_, err := p.Authenticate(newRequest(t, map[string]string{"Authorization": "Bearer other"}))
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("no authorization header declines", func(t *testing.T) {
		ac, err := p.Authenticate(newRequest(t, nil))
		assert.Nil(t, ac)
		assert.NoError(t, err)
	})
}

func TestManagerChainOrder(t *testing.T) {
	bearer := NewBearerProvider([]BearerCredential{
		{Token: "tok", UserID: "from-bearer", Scopes: []string{"a"}},
	}, nil)
	apiKey := NewAPIKeyProvider("", []APIKeyCredential{
		{Key: "key", UserID: "from-apikey", Scopes: []string{"b"}},
	}, nil)
	m := NewManager(true, nil, bearer, apiKey)

	t.Run("first matching provider wins", func(t *testing.T) {
		ac, err := m.Authenticate(newRequest(t, map[string]string{
			"Authorization": "Bearer tok",
			"X-API-Key":     "key",
		}))
		require.NoError(t, err)
		assert.Equal(t, "from-bearer", ac.UserID)
	})

	t.Run("later provider picks up declined request", func(t *testing.T) {
		ac, err := m.Authenticate(newRequest(t, map[string]string{"X-API-Key": "key"}))
		require.NoError(t, err)
		assert.Equal(t, "from-apikey", ac.UserID)
	})

	t.Run("no credentials", func(t *testing.T) {
		_, err := m.Authenticate(newRequest(t, nil))
		assert.ErrorIs(t, err, ErrMissingCredentials)
	})
}

func TestManagerHTTPMiddleware(t *testing.T) {
	m := NewManager(true, nil, NewAPIKeyProvider("", []APIKeyCredential{
		{Key: "key", UserID: "alice"},
	}, nil))

	var got *AuthContext
	handler := m.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))

	t.Run("authenticated request carries context", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newRequest(t, map[string]string{"X-API-Key": "key"}))
		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, got)
		assert.Equal(t, "alice", got.UserID)
	})

	t.Run("unauthenticated request gets 401", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newRequest(t, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestCheckScopes(t *testing.T) {
	t.Run("no requirement always passes", func(t *testing.T) {
		m := NewManager(false, nil)
		assert.NoError(t, m.CheckScopes(nil, nil))
	})

	t.Run("auth disabled fails closed on scoped access", func(t *testing.T) {
		m := NewManager(false, nil)
		err := m.CheckScopes(nil, []string{"files:read"})
		require.Error(t, err)
		var ae *AuthError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, KindUnauthorized, ae.Kind)
	})

	t.Run("missing scope is forbidden", func(t *testing.T) {
		m := NewManager(true, nil)
		ac := &AuthContext{Scopes: map[string]struct{}{"a": {}}}
		err := m.CheckScopes(ac, []string{"b"})
		var ae *AuthError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, KindForbidden, ae.Kind)
	})

	t.Run("wildcard satisfies anything", func(t *testing.T) {
		m := NewManager(true, nil)
		ac := &AuthContext{Scopes: map[string]struct{}{Wildcard: {}}}
		assert.NoError(t, m.CheckScopes(ac, []string{"x", "y:z"}))
	})
}
