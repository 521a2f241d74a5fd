package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/kadirpekel/torii/pkg/config"
)

// Validation errors.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// JWTValidator validates JWTs. With a JWKS URL the key set is fetched and
// cached with auto-refresh to survive key rotation; with a shared secret
// tokens are verified as HS256.
type JWTValidator struct {
	jwksURL  string
	cache    *jwk.Cache
	secret   []byte
	issuer   string
	audience string
}

// NewValidator builds a validator from config, or nil when auth is
// disabled.
func NewValidator(cfg config.AuthConfig) (*JWTValidator, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	v := &JWTValidator{issuer: cfg.Issuer, audience: cfg.Audience}
	switch {
	case cfg.JWKSURL != "":
		cache := jwk.NewCache(context.Background())
		if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
			return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
		}
		v.jwksURL = cfg.JWKSURL
		v.cache = cache
	case cfg.Secret != "":
		v.secret = []byte(cfg.Secret)
	default:
		return nil, fmt.Errorf("auth enabled but neither jwks_url nor secret configured")
	}
	return v, nil
}

// ValidateToken parses and verifies the token, then extracts claims.
func (v *JWTValidator) ValidateToken(ctx context.Context, raw string) (*Claims, error) {
	options := []jwt.ParseOption{jwt.WithContext(ctx), jwt.WithValidate(true)}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		options = append(options, jwt.WithAudience(v.audience))
	}

	if v.cache != nil {
		keySet, err := v.cache.Get(ctx, v.jwksURL)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
		}
		options = append(options, jwt.WithKeySet(keySet))
	} else {
		options = append(options, jwt.WithKey(jwa.HS256, v.secret))
	}

	token, err := jwt.Parse([]byte(raw), options...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return extractClaims(token), nil
}

func extractClaims(token jwt.Token) *Claims {
	claims := &Claims{
		Subject: token.Subject(),
		Custom:  map[string]any{},
	}
	for key, value := range token.PrivateClaims() {
		switch key {
		case "email":
			claims.Email, _ = value.(string)
		case "role":
			claims.Role, _ = value.(string)
		case "tenant_id":
			claims.TenantID, _ = value.(string)
		default:
			claims.Custom[key] = value
		}
	}
	return claims
}
