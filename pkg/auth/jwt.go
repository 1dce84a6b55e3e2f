package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// JWTConfig configures JWT validation. Either Secret (shared-key HMAC) or
// JWKSURL (asymmetric keys fetched from the issuer) must be set.
type JWTConfig struct {
	Secret    string
	Algorithm string // defaults to HS256 when Secret is set
	JWKSURL   string
	Issuer    string
	Audience  string
}

// JWTProvider validates JWT bearer tokens. When a JWKS URL is configured the
// key set is cached and auto-refreshed to handle key rotation.
type JWTProvider struct {
	cfg       JWTConfig
	alg       jwa.SignatureAlgorithm
	cache     *jwk.Cache
	hierarchy ScopeHierarchy
}

// NewJWTProvider creates a JWT provider. With a JWKS URL the initial fetch
// runs eagerly so misconfiguration fails at startup.
func NewJWTProvider(cfg JWTConfig, hierarchy ScopeHierarchy) (*JWTProvider, error) {
	p := &JWTProvider{cfg: cfg, hierarchy: hierarchy}

	switch {
	case cfg.Secret != "":
		alg := cfg.Algorithm
		if alg == "" {
			alg = "HS256"
		}
		sigAlg, ok := signatureAlgorithm(alg)
		if !ok {
			return nil, fmt.Errorf("unsupported JWT algorithm: %s", alg)
		}
		p.alg = sigAlg

	case cfg.JWKSURL != "":
		ctx := context.Background()
		cache := jwk.NewCache(ctx)
		if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
			return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
		}
		if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
			return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", cfg.JWKSURL, err)
		}
		p.cache = cache

	default:
		return nil, fmt.Errorf("jwt auth requires either secret or jwks_url")
	}

	return p, nil
}

func (p *JWTProvider) Name() string { return string(AuthTypeJWT) }

func (p *JWTProvider) Authenticate(r *http.Request) (*AuthContext, error) {
	tokenString, ok := bearerToken(r)
	if !ok {
		return nil, nil
	}

	opts := []jwt.ParseOption{jwt.WithValidate(true)}
	if p.cache != nil {
		keyset, err := p.cache.Get(r.Context(), p.cfg.JWKSURL)
		if err != nil {
			return nil, &AuthError{Kind: KindUnauthorized, Message: "failed to get JWKS", Err: err}
		}
		opts = append(opts, jwt.WithKeySet(keyset))
	} else {
		opts = append(opts, jwt.WithKey(p.alg, []byte(p.cfg.Secret)))
	}
	if p.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.cfg.Issuer))
	}
	if p.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(p.cfg.Audience))
	}

	token, err := jwt.Parse([]byte(tokenString), opts...)
	if err != nil {
		return nil, &AuthError{Kind: KindUnauthorized, Message: "invalid token", Err: err}
	}

	userID := token.Subject()
	if userID == "" {
		if v, ok := token.Get("user_id"); ok {
			if s, ok := v.(string); ok {
				userID = s
			}
		}
	}

	scopes := extractScopes(token)

	claims := make(map[string]any)
	for iter := token.Iterate(r.Context()); iter.Next(r.Context()); {
		pair := iter.Pair()
		if key, ok := pair.Key.(string); ok {
			claims[key] = pair.Value
		}
	}

	return &AuthContext{
		UserID:    userID,
		AuthType:  AuthTypeJWT,
		Scopes:    p.hierarchy.Expand(scopes),
		ExpiresAt: token.Expiration(),
		Claims:    claims,
	}, nil
}

// extractScopes reads the scopes claim as either a space-separated string
// or a string array. The "scope" claim is accepted as an alias.
func extractScopes(token jwt.Token) []string {
	raw, ok := token.Get("scopes")
	if !ok {
		raw, ok = token.Get("scope")
	}
	if !ok {
		return nil
	}

	switch v := raw.(type) {
	case string:
		return strings.Fields(v)
	case []any:
		scopes := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				scopes = append(scopes, s)
			}
		}
		return scopes
	case []string:
		return v
	}
	return nil
}

func signatureAlgorithm(name string) (jwa.SignatureAlgorithm, bool) {
	for _, alg := range jwa.SignatureAlgorithms() {
		if string(alg) == name {
			return alg, true
		}
	}
	return "", false
}
