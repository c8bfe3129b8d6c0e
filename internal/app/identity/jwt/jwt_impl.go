package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	customErrors "github.com/kseleznyov/identity-service/internal/domain/identity/errors"
	jwt2 "github.com/kseleznyov/identity-service/internal/domain/identity/jwt"
	"github.com/kseleznyov/identity-service/internal/infra/config"
)

type TokenIssuerImpl struct {
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	audience   string
}

func NewTokenIssuer(cfg *config.Config) (*TokenIssuerImpl, error) {
	if cfg.AccessTokenSecret == "" || cfg.RefreshTokenSecret == "" {
		return nil, customErrors.NewInvalidArgument("token secrets must be set")
	}
	if cfg.AccessTokenSecret == cfg.RefreshTokenSecret {
		return nil, customErrors.NewInvalidArgument("access and refresh secrets must differ")
	}

	return &TokenIssuerImpl{
		accessKey:  []byte(cfg.AccessTokenSecret),
		refreshKey: []byte(cfg.RefreshTokenSecret),
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
	}, nil
}

func (t *TokenIssuerImpl) GenerateAccessToken(userID uuid.UUID, email string) (string, time.Time, error) {
	now := time.Now()

	claims := jwt2.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    t.issuer,
			Audience:  jwt.ClaimStrings{t.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.accessTTL)),
			ID:        uuid.NewString(),
		},
		Email: email,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.accessKey)
	if err != nil {
		return "", time.Time{}, customErrors.WrapInternal(err, "sign access token")
	}

	return signed, claims.ExpiresAt.Time, nil
}

func (t *TokenIssuerImpl) GenerateRefreshToken(userID uuid.UUID, email string) (string, time.Time, error) {
	now := time.Now()

	claims := jwt2.RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    t.issuer,
			Audience:  jwt.ClaimStrings{t.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.refreshTTL)),
			ID:        uuid.NewString(),
		},
		Email: email,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.refreshKey)
	if err != nil {
		return "", time.Time{}, customErrors.WrapInternal(err, "sign refresh token")
	}

	return signed, claims.ExpiresAt.Time, nil
}

func (t *TokenIssuerImpl) ValidateAccessToken(raw string) (jwt2.AccessClaims, error) {
	token, err := jwt.ParseWithClaims(raw, &jwt2.AccessClaims{}, func(tok *jwt.Token) (interface{}, error) {
		if tok.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, customErrors.ErrUnauthenticated
		}
		return t.accessKey, nil
	}, jwt.WithIssuedAt(), jwt.WithLeeway(2*time.Minute))

	if err != nil || !token.Valid {
		return jwt2.AccessClaims{}, customErrors.ErrUnauthenticated
	}

	claims, ok := token.Claims.(*jwt2.AccessClaims)
	if !ok {
		return jwt2.AccessClaims{}, customErrors.WrapInternal(
			errors.New("claims not AccessClaims"), "ValidateAccessToken",
		)
	}

	if err := t.checkIssuerAudience(claims.Issuer, claims.Audience); err != nil {
		return jwt2.AccessClaims{}, customErrors.ErrUnauthenticated
	}

	return *claims, nil
}

func (t *TokenIssuerImpl) ValidateRefreshToken(raw string) (jwt2.RefreshClaims, error) {
	token, err := jwt.ParseWithClaims(raw, &jwt2.RefreshClaims{}, func(tok *jwt.Token) (interface{}, error) {
		if tok.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, customErrors.ErrAccessDenied
		}
		return t.refreshKey, nil
	}, jwt.WithIssuedAt(), jwt.WithLeeway(2*time.Minute))

	if err != nil || !token.Valid {
		return jwt2.RefreshClaims{}, customErrors.ErrAccessDenied
	}

	claims, ok := token.Claims.(*jwt2.RefreshClaims)
	if !ok {
		return jwt2.RefreshClaims{}, customErrors.WrapInternal(
			errors.New("claims not RefreshClaims"), "ValidateRefreshToken",
		)
	}

	if err := t.checkIssuerAudience(claims.Issuer, claims.Audience); err != nil {
		return jwt2.RefreshClaims{}, customErrors.ErrAccessDenied
	}

	return *claims, nil
}

func (t *TokenIssuerImpl) checkIssuerAudience(issuer string, audience jwt.ClaimStrings) error {
	if t.issuer != "" && issuer != t.issuer {
		return customErrors.ErrUnauthenticated
	}

	if t.audience != "" {
		okAudi := false
		for _, a := range audience {
			if a == t.audience {
				okAudi = true
				break
			}
		}
		if !okAudi {
			return customErrors.ErrUnauthenticated
		}
	}
	return nil
}
