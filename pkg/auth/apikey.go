package auth

import (
	"crypto/subtle"
	"net/http"
)

// APIKeyCredential binds one key to its principal and direct scopes.
type APIKeyCredential struct {
	Key    string
	UserID string
	Scopes []string
}

// APIKeyProvider authenticates requests carrying an X-API-Key header.
// Key comparison is constant-time.
type APIKeyProvider struct {
	header    string
	keys      []APIKeyCredential
	hierarchy ScopeHierarchy
}

// NewAPIKeyProvider creates a provider for the given credentials.
// header defaults to X-API-Key.
func NewAPIKeyProvider(header string, keys []APIKeyCredential, hierarchy ScopeHierarchy) *APIKeyProvider {
	if header == "" {
		header = "X-API-Key"
	}
	return &APIKeyProvider{header: header, keys: keys, hierarchy: hierarchy}
}

func (p *APIKeyProvider) Name() string { return string(AuthTypeAPIKey) }

func (p *APIKeyProvider) Authenticate(r *http.Request) (*AuthContext, error) {
	presented := r.Header.Get(p.header)
	if presented == "" {
		return nil, nil
	}

	for _, cred := range p.keys {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(cred.Key)) == 1 {
			userID := cred.UserID
			if userID == "" {
				userID = "api-key-user"
			}
			return &AuthContext{
				UserID:   userID,
				AuthType: AuthTypeAPIKey,
				Scopes:   p.hierarchy.Expand(cred.Scopes),
			}, nil
		}
	}

	return nil, ErrInvalidCredentials
}
