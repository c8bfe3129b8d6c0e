package jwt

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type AccessClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

type RefreshClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// TokenIssuer mints and verifies both token classes. The access and refresh
// classes are signed with distinct key material so that compromise of one
// cannot forge the other.
type TokenIssuer interface {
	GenerateAccessToken(userID uuid.UUID, email string) (token string, exp time.Time, err error)
	GenerateRefreshToken(userID uuid.UUID, email string) (token string, exp time.Time, err error)
	ValidateAccessToken(token string) (claims AccessClaims, err error)
	ValidateRefreshToken(token string) (claims RefreshClaims, err error)
}
