package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vatochito/gateway/internal/models"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Claims represents JWT claims. user_id and username are set by the
// platform's own tokens; sub and preferred_username cover OIDC providers.
type Claims struct {
	UserID            string `json:"user_id,omitempty"`
	Username          string `json:"username,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	jwt.RegisteredClaims
}

// Identity resolves the user carried by the claims
func (c *Claims) Identity() (models.Identity, error) {
	id := c.UserID
	if id == "" {
		id = c.Subject
	}
	if id == "" {
		return models.Identity{}, fmt.Errorf("%w: token has no subject", models.ErrUnauthenticated)
	}

	name := c.Username
	if name == "" {
		name = c.PreferredUsername
	}
	return models.Identity{ID: id, Username: name}, nil
}

// TokenVerifier validates bearer tokens and resolves the identity in them
type TokenVerifier struct {
	keyFunc jwt.Keyfunc
	opts    []jwt.ParserOption
	jwks    *keyfunc.JWKS
}

// NewHMACVerifier verifies HS256 tokens signed with secret
func NewHMACVerifier(secret, issuer string) (*TokenVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	key := []byte(secret)
	return &TokenVerifier{
		keyFunc: func(*jwt.Token) (interface{}, error) { return key, nil },
		opts:    parserOptions(issuer, jwt.SigningMethodHS256.Alg()),
	}, nil
}

// NewJWKSVerifier verifies RS256 tokens against the key set served at
// jwksURL, refreshing it in the background until ctx is done
func NewJWKSVerifier(ctx context.Context, jwksURL, issuer string, log *zap.Logger) (*TokenVerifier, error) {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.Warn("jwks refresh failed", zap.String("url", jwksURL), zap.Error(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load jwks from %s: %w", jwksURL, err)
	}
	return &TokenVerifier{
		keyFunc: jwks.Keyfunc,
		opts:    parserOptions(issuer, jwt.SigningMethodRS256.Alg()),
		jwks:    jwks,
	}, nil
}

func parserOptions(issuer, alg string) []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{alg}),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return opts
}

// Verify validates and parses a JWT token. Every failure wraps
// models.ErrUnauthenticated.
func (v *TokenVerifier) Verify(tokenString string) (models.Identity, error) {
	if tokenString == "" {
		return models.Identity{}, fmt.Errorf("%w: no token provided", models.ErrUnauthenticated)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyFunc, v.opts...)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", models.ErrUnauthenticated, err)
	}
	if !token.Valid {
		return models.Identity{}, fmt.Errorf("%w: %v", models.ErrUnauthenticated, jwt.ErrSignatureInvalid)
	}

	return claims.Identity()
}

// Close stops the background key refresh, if any
func (v *TokenVerifier) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}

// GenerateToken generates an HS256 token for a user. The gateway never
// issues tokens itself; this serves local tooling and tests.
func GenerateToken(secret, userID, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
