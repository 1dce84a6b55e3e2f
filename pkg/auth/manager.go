package auth

import (
	"encoding/json"
	"net/http"

	"github.com/agentup/agentup/pkg/logger"
)

// Manager runs the provider chain. Providers are consulted in configured
// order; the first valid context wins and the rest are not consulted.
type Manager struct {
	providers []Provider
	hierarchy ScopeHierarchy
	enabled   bool
}

// NewManager creates a manager. With enabled=false every request is treated
// as anonymous; requests that later require a scope fail closed.
func NewManager(enabled bool, hierarchy ScopeHierarchy, providers ...Provider) *Manager {
	return &Manager{
		providers: providers,
		hierarchy: hierarchy,
		enabled:   enabled,
	}
}

// Enabled reports whether authentication is configured on.
func (m *Manager) Enabled() bool { return m.enabled }

// Hierarchy returns the configured scope hierarchy.
func (m *Manager) Hierarchy() ScopeHierarchy { return m.hierarchy }

// Providers returns the configured provider chain.
func (m *Manager) Providers() []Provider { return m.providers }

// Authenticate runs the provider chain for a request.
func (m *Manager) Authenticate(r *http.Request) (*AuthContext, error) {
	if !m.enabled {
		return nil, nil
	}

	log := logger.GetLogger()
	var lastErr error
	for _, p := range m.providers {
		ac, err := p.Authenticate(r)
		if err != nil {
			lastErr = err
			log.Debug("auth provider rejected request", "provider", p.Name(), "error", err)
			continue
		}
		if ac != nil {
			return ac, nil
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrMissingCredentials
}

// HTTPMiddleware authenticates every request and stores the AuthContext in
// the request context. Failures respond 401 with a JSON error body.
func (m *Manager) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled {
			next.ServeHTTP(w, r)
			return
		}

		ac, err := m.Authenticate(r)
		if err != nil {
			status := http.StatusUnauthorized
			if ae, ok := err.(*AuthError); ok && ae.Kind == KindForbidden {
				status = http.StatusForbidden
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithAuth(r.Context(), ac)))
	})
}

// CheckScopes verifies required scopes against an AuthContext. With auth
// disabled, any scope requirement fails closed: unauthenticated requests
// must never reach scoped capabilities.
func (m *Manager) CheckScopes(ac *AuthContext, required []string) error {
	if len(required) == 0 {
		return nil
	}
	if ac == nil {
		if !m.enabled {
			return &AuthError{
				Kind:    KindUnauthorized,
				Message: "capability requires scopes but authentication is disabled",
			}
		}
		return ErrMissingCredentials
	}
	return ac.RequireScopes(required)
}
