package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerCredential binds one static bearer token to its principal.
type BearerCredential struct {
	Token  string
	UserID string
	Scopes []string
}

// BearerProvider authenticates requests carrying a static bearer token in
// the Authorization header. Token comparison is constant-time.
type BearerProvider struct {
	tokens    []BearerCredential
	hierarchy ScopeHierarchy
}

func NewBearerProvider(tokens []BearerCredential, hierarchy ScopeHierarchy) *BearerProvider {
	return &BearerProvider{tokens: tokens, hierarchy: hierarchy}
}

func (p *BearerProvider) Name() string { return string(AuthTypeBearer) }

func (p *BearerProvider) Authenticate(r *http.Request) (*AuthContext, error) {
	presented, ok := bearerToken(r)
	if !ok {
		return nil, nil
	}

	for _, cred := range p.tokens {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(cred.Token)) == 1 {
			userID := cred.UserID
			if userID == "" {
				userID = "bearer-user"
			}
			return &AuthContext{
				UserID:   userID,
				AuthType: AuthTypeBearer,
				Scopes:   p.hierarchy.Expand(cred.Scopes),
			}, nil
		}
	}

	return nil, ErrInvalidCredentials
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader || token == "" {
		return "", false
	}
	return token, true
}
