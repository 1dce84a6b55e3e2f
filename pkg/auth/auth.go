// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AgentUp Authors

// Package auth provides unified authentication and scope-based authorization.
//
// Credentials are validated by a chain of providers (jwt, bearer, api_key)
// tried in configured order; the first provider returning a valid context
// wins. Granted scopes are expanded through a configured hierarchy before
// enforcement.
package auth

import (
	"context"
	"net/http"
	"time"
)

// AuthType identifies how a request was authenticated.
type AuthType string

const (
	AuthTypeJWT    AuthType = "jwt"
	AuthTypeBearer AuthType = "bearer"
	AuthTypeAPIKey AuthType = "api_key"
	AuthTypeOAuth2 AuthType = "oauth2"
	AuthTypeBasic  AuthType = "basic"
)

// AuthContext is the result of successful authentication. Scopes holds the
// post-expansion scope set.
type AuthContext struct {
	UserID    string
	AuthType  AuthType
	Scopes    map[string]struct{}
	ExpiresAt time.Time
	Claims    map[string]any
}

// HasScope reports whether the expanded scope set satisfies scope.
// The wildcard grants everything.
func (a *AuthContext) HasScope(scope string) bool {
	if a == nil {
		return false
	}
	if _, ok := a.Scopes[Wildcard]; ok {
		return true
	}
	_, ok := a.Scopes[scope]
	return ok
}

// RequireScopes returns ErrScopeDenied naming the first missing scope.
func (a *AuthContext) RequireScopes(scopes []string) error {
	for _, scope := range scopes {
		if !a.HasScope(scope) {
			return &AuthError{
				Kind:    KindForbidden,
				Message: "missing required scope: " + scope,
			}
		}
	}
	return nil
}

// Provider validates credentials from a request. A provider returns
// (nil, nil) to decline without failing the chain.
type Provider interface {
	Name() string
	Authenticate(r *http.Request) (*AuthContext, error)
}

type contextKey string

const authContextKey contextKey = "auth_context"

// ContextWithAuth attaches an AuthContext to a context.
func ContextWithAuth(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}

// FromContext returns the AuthContext, or nil if the request is anonymous.
func FromContext(ctx context.Context) *AuthContext {
	if ac, ok := ctx.Value(authContextKey).(*AuthContext); ok {
		return ac
	}
	return nil
}
