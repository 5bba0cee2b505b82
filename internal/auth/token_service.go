package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents the signed identity claims carried by a token
type Claims struct {
	Email          string  `json:"email"`
	Role           string  `json:"role"`
	OrganizationID *string `json:"organizationId,omitempty"`
	StoreID        *string `json:"storeId,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the user ID from the Subject claim
func (c *Claims) UserID() string {
	return c.Subject
}

// TokenService mints and verifies HS256 tokens. One symmetric secret is
// loaded at startup and shared by every server instance, so a token minted
// anywhere verifies everywhere.
type TokenService struct {
	secret      string
	tokenExpiry time.Duration
	issuer      string
}

// TokenServiceConfig holds configuration for TokenService
type TokenServiceConfig struct {
	Secret      string
	TokenExpiry time.Duration
	Issuer      string
}

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg TokenServiceConfig) *TokenService {
	return &TokenService{
		secret:      cfg.Secret,
		tokenExpiry: cfg.TokenExpiry,
		issuer:      cfg.Issuer,
	}
}

// MintInput is the identity snapshot embedded in a token
type MintInput struct {
	UserID         string
	Email          string
	Role           string
	OrganizationID *string
	StoreID        *string
}

// Mint generates a signed token for the given identity with a fresh expiry.
// Minting alone never touches the session registry; callers that re-mint for
// a live session must update the session row themselves.
func (s *TokenService) Mint(in MintInput) (token string, expiresAt time.Time, err error) {
	now := time.Now()
	expiresAt = now.Add(s.tokenExpiry)

	claims := Claims{
		Email:          in.Email,
		Role:           in.Role,
		OrganizationID: in.OrganizationID,
		StoreID:        in.StoreID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   in.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Verify validates a token and returns the decoded claims. Failures map to
// exactly one of ErrTokenExpired, ErrTokenInvalidSignature, ErrTokenMalformed.
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return []byte(s.secret), nil
	})

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrTokenInvalidSignature
		default:
			return nil, ErrTokenMalformed
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

// HashToken returns the SHA-256 hash of a token for session registry storage.
// The raw token never hits the database.
func (s *TokenService) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// TokenExpiry returns the configured token lifetime
func (s *TokenService) TokenExpiry() time.Duration {
	return s.tokenExpiry
}
