package identity

import (
	"errors"
	"fmt"
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents the bearer token claims the gateway accepts.
type Claims struct {
	Username string `json:"username"`
	IsStaff  bool   `json:"is_staff"`
	jwt.RegisteredClaims
}

// TokenConfig holds JWT verification settings.
type TokenConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
}

// TokenVerifier validates bearer tokens minted by the web application.
type TokenVerifier struct {
	cfg TokenConfig
}

// NewTokenVerifier returns nil when no secret is configured.
func NewTokenVerifier(cfg TokenConfig) *TokenVerifier {
	if len(cfg.Secret) == 0 {
		return nil
	}
	return &TokenVerifier{cfg: cfg}
}

// Verify parses and validates a token and returns its identity.
func (v *TokenVerifier) Verify(tokenString string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.cfg.Secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, errors.New("invalid token claims")
	}
	if v.cfg.Issuer != "" && claims.Issuer != v.cfg.Issuer {
		return Identity{}, errors.New("invalid issuer")
	}
	if v.cfg.Audience != "" && !slices.Contains(claims.Audience, v.cfg.Audience) {
		return Identity{}, errors.New("invalid audience")
	}
	if claims.Username == "" {
		return Identity{}, errors.New("token has no username")
	}

	return Identity{Name: claims.Username, IsStaff: claims.IsStaff}, nil
}
