package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kseleznyov/identity-service/internal/adapters/transport/http/dto"
	"github.com/kseleznyov/identity-service/internal/app/identity/cache"
	customErrors "github.com/kseleznyov/identity-service/internal/domain/identity/errors"
	"github.com/kseleznyov/identity-service/internal/domain/identity/jwt"
	"github.com/kseleznyov/identity-service/internal/domain/identity/model"
	"github.com/kseleznyov/identity-service/internal/domain/identity/repo"
	"github.com/kseleznyov/identity-service/internal/infra/config"
	"go.uber.org/zap"
)

var argonParams = &argon2id.Params{
	Memory:      64 * 1024, // 64 MiB
	Iterations:  2,
	Parallelism: 4,
	SaltLength:  16,
	KeyLength:   32,
}

type identityService struct {
	userRepo repo.UserRepo
	jobRepo  repo.JobRepo
	users    *cache.UserCache
	issuer   jwt.TokenIssuer
	cfg      *config.Config
	v        *validator.Validate
	log      *zap.Logger
}

type Service interface {
	Signup(context.Context, dto.SignupDTO) (model.TokenPair, error)
	Login(context.Context, dto.LoginDTO) (model.TokenPair, error)
	Logout(ctx context.Context, subject uuid.UUID) error
	Refresh(ctx context.Context, subject uuid.UUID, refreshToken string) (model.TokenPair, error)
	VerifyAccess(ctx context.Context, accessToken string) (subject uuid.UUID, email string, err error)
	Lookup(ctx context.Context, id uuid.UUID) (model.Profile, error)
}

func New(
	ur repo.UserRepo,
	jr repo.JobRepo,
	uc *cache.UserCache,
	iss jwt.TokenIssuer,
	cfg *config.Config,
	v *validator.Validate,
	log *zap.Logger,
) Service {
	return &identityService{
		userRepo: ur, jobRepo: jr, users: uc, issuer: iss, cfg: cfg, v: v, log: log,
	}
}

func (s *identityService) Signup(ctx context.Context, in dto.SignupDTO) (model.TokenPair, error) {
	if err := s.v.Struct(in); err != nil {
		return model.TokenPair{}, customErrors.NewInvalidArgument(err.Error())
	}

	passwordHash, err := argon2id.CreateHash(in.Password+s.cfg.PasswordPepper, argonParams)
	if err != nil {
		return model.TokenPair{}, customErrors.WrapInternal(err, "Signup")
	}

	user := model.User{
		ID:           uuid.New(),
		Email:        normalizeEmail(in.Email),
		Name:         in.Name,
		PasswordHash: passwordHash,
	}
	if _, err = s.userRepo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, customErrors.ErrAlreadyExists) {
			return model.TokenPair{}, customErrors.ErrAlreadyExists
		}
		return model.TokenPair{}, err
	}

	pair, err := s.issueAndBind(ctx, user.ID, user.Email)
	if err != nil {
		return model.TokenPair{}, err
	}

	s.enqueue(ctx, model.JobUserCreated, jobPayload{UserID: user.ID.String(), Email: user.Email})

	return pair, nil
}

func (s *identityService) Login(ctx context.Context, in dto.LoginDTO) (model.TokenPair, error) {
	if err := s.v.Struct(in); err != nil {
		return model.TokenPair{}, customErrors.NewInvalidArgument(err.Error())
	}

	user, err := s.userRepo.GetUserByEmail(ctx, normalizeEmail(in.Email))
	switch {
	case errors.Is(err, customErrors.ErrNotFound):
		// Unknown email and wrong password must be indistinguishable.
		return model.TokenPair{}, customErrors.ErrAccessDenied
	case err != nil:
		return model.TokenPair{}, err
	}

	ok, err := argon2id.ComparePasswordAndHash(in.Password+s.cfg.PasswordPepper, user.PasswordHash)
	if err != nil {
		return model.TokenPair{}, customErrors.WrapInternal(err, "Login")
	}
	if !ok {
		return model.TokenPair{}, customErrors.ErrAccessDenied
	}

	pair, err := s.issueAndBind(ctx, user.ID, user.Email)
	if err != nil {
		return model.TokenPair{}, err
	}

	s.enqueue(ctx, model.JobUserLoggedIn, jobPayload{UserID: user.ID.String()})

	return pair, nil
}

// Logout clears the stored refresh fingerprint, which makes every outstanding
// refresh token for the subject unusable. Revoking an already revoked or
// unknown subject is a no-op.
func (s *identityService) Logout(ctx context.Context, subject uuid.UUID) error {
	err := s.userRepo.UpdateRefreshFingerprint(ctx, subject, "")
	if err != nil && !errors.Is(err, customErrors.ErrNotFound) {
		return err
	}
	return nil
}

func (s *identityService) Refresh(ctx context.Context, subject uuid.UUID, refreshToken string) (model.TokenPair, error) {
	claims, err := s.issuer.ValidateRefreshToken(refreshToken)
	if err != nil {
		return model.TokenPair{}, customErrors.ErrAccessDenied
	}
	if claims.Subject != subject.String() {
		return model.TokenPair{}, customErrors.ErrAccessDenied
	}

	user, err := s.userRepo.GetUserByID(ctx, subject)
	switch {
	case errors.Is(err, customErrors.ErrNotFound):
		return model.TokenPair{}, customErrors.ErrAccessDenied
	case err != nil:
		return model.TokenPair{}, err
	}

	// No stored fingerprint means no active session to rotate.
	if user.RefreshFingerprint == "" {
		return model.TokenPair{}, customErrors.ErrAccessDenied
	}

	ok, err := argon2id.ComparePasswordAndHash(refreshToken, user.RefreshFingerprint)
	if err != nil {
		return model.TokenPair{}, customErrors.WrapInternal(err, "Refresh")
	}
	if !ok {
		return model.TokenPair{}, customErrors.ErrAccessDenied
	}

	return s.issueAndBind(ctx, user.ID, user.Email)
}

// VerifyAccess is a pure signature and expiry check against the access-class
// key. It never touches storage.
func (s *identityService) VerifyAccess(_ context.Context, accessToken string) (uuid.UUID, string, error) {
	claims, err := s.issuer.ValidateAccessToken(accessToken)
	if err != nil {
		return uuid.Nil, "", customErrors.ErrUnauthenticated
	}

	uid, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, "", customErrors.ErrUnauthenticated
	}

	return uid, claims.Email, nil
}

func (s *identityService) Lookup(ctx context.Context, id uuid.UUID) (model.Profile, error) {
	return s.users.Get(ctx, cache.UserKey(id), func(ctx context.Context) (model.Profile, error) {
		user, err := s.userRepo.GetUserByID(ctx, id)
		if err != nil {
			return model.Profile{}, err
		}
		return user.Profile(), nil
	})
}

// issueAndBind mints a fresh pair and overwrites the stored refresh
// fingerprint with the new refresh token's hash, superseding every previously
// issued refresh token for the subject.
func (s *identityService) issueAndBind(ctx context.Context, uid uuid.UUID, email string) (model.TokenPair, error) {
	at, atExp, err := s.issuer.GenerateAccessToken(uid, email)
	if err != nil {
		return model.TokenPair{}, customErrors.WrapInternal(err, "GenerateAccessToken")
	}
	rt, rtExp, err := s.issuer.GenerateRefreshToken(uid, email)
	if err != nil {
		return model.TokenPair{}, customErrors.WrapInternal(err, "GenerateRefreshToken")
	}

	fingerprint, err := argon2id.CreateHash(rt, argonParams)
	if err != nil {
		return model.TokenPair{}, customErrors.WrapInternal(err, "HashRefreshToken")
	}
	if err := s.userRepo.UpdateRefreshFingerprint(ctx, uid, fingerprint); err != nil {
		return model.TokenPair{}, err
	}

	now := time.Now()
	return model.TokenPair{
		AccessToken:  at,
		RefreshToken: rt,
		AccessTTL:    atExp.Sub(now),
		RefreshTTL:   rtExp.Sub(now),
		UserID:       uid,
	}, nil
}

// normalizeEmail folds the login key to one casing so that lookups and the
// unique constraint are case-insensitive.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type jobPayload struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
}

// enqueue is fire-and-forget: the request outcome never depends on the job
// making it into the queue.
func (s *identityService) enqueue(ctx context.Context, jobType string, payload jobPayload) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("marshal job payload", zap.String("type", jobType), zap.Error(err))
		return
	}
	if _, err := s.jobRepo.InsertJob(ctx, model.Job{Type: jobType, Payload: string(raw)}); err != nil {
		s.log.Error("enqueue job", zap.String("type", jobType), zap.Error(err))
	}
}
