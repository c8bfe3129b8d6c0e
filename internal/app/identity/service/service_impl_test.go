package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kseleznyov/identity-service/internal/adapters/transport/http/dto"
	"github.com/kseleznyov/identity-service/internal/app/identity/cache"
	appjwt "github.com/kseleznyov/identity-service/internal/app/identity/jwt"
	appsvc "github.com/kseleznyov/identity-service/internal/app/identity/service"
	customErrors "github.com/kseleznyov/identity-service/internal/domain/identity/errors"
	"github.com/kseleznyov/identity-service/internal/domain/identity/model"
	"github.com/kseleznyov/identity-service/internal/infra/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

/* ──────────────────────────────── stubs ──────────────────────────────── */

type userRepoStub struct {
	users        map[uuid.UUID]model.User
	getByIDCalls int
}

func newUserRepoStub() *userRepoStub {
	return &userRepoStub{users: make(map[uuid.UUID]model.User)}
}

func (u *userRepoStub) CreateUser(_ context.Context, m model.User) (uuid.UUID, error) {
	for _, v := range u.users {
		if v.Email == m.Email {
			return uuid.Nil, customErrors.ErrAlreadyExists
		}
	}
	m.CreatedAt = time.Now()
	u.users[m.ID] = m
	return m.ID, nil
}

func (u *userRepoStub) GetUserByEmail(_ context.Context, email string) (model.User, error) {
	for _, v := range u.users {
		if v.Email == email {
			return v, nil
		}
	}
	return model.User{}, customErrors.ErrNotFound
}

func (u *userRepoStub) GetUserByID(_ context.Context, id uuid.UUID) (model.User, error) {
	u.getByIDCalls++
	v, ok := u.users[id]
	if !ok {
		return model.User{}, customErrors.ErrNotFound
	}
	return v, nil
}

func (u *userRepoStub) UpdateRefreshFingerprint(_ context.Context, id uuid.UUID, fingerprint string) error {
	v, ok := u.users[id]
	if !ok {
		return customErrors.ErrNotFound
	}
	v.RefreshFingerprint = fingerprint
	u.users[id] = v
	return nil
}

type jobRepoStub struct {
	jobs []model.Job
}

func (j *jobRepoStub) InsertJob(_ context.Context, job model.Job) (uuid.UUID, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	j.jobs = append(j.jobs, job)
	return job.ID, nil
}

func (j *jobRepoStub) ClaimOldestPending(context.Context) (model.Job, error) {
	return model.Job{}, customErrors.ErrNotFound
}

func (j *jobRepoStub) FinalizeJob(context.Context, uuid.UUID, model.JobStatus, string, string) error {
	return nil
}

type cacheStoreStub struct {
	values map[string]string
}

func (c *cacheStoreStub) Get(_ context.Context, key string) (string, error) {
	v, ok := c.values[key]
	if !ok {
		return "", customErrors.ErrNotFound
	}
	return v, nil
}

func (c *cacheStoreStub) Set(_ context.Context, key, value string, _ time.Duration) error {
	c.values[key] = value
	return nil
}

/* ───────────────────────────── helpers ───────────────────────────── */

func newSvc(t *testing.T) (appsvc.Service, *userRepoStub, *jobRepoStub) {
	t.Helper()

	ur := newUserRepoStub()
	jr := &jobRepoStub{}
	cs := &cacheStoreStub{values: make(map[string]string)}

	cfg := &config.Config{
		AccessTokenSecret:  "at-secret-for-tests",
		RefreshTokenSecret: "rt-secret-for-tests",
		AccessTokenTTL:     15 * time.Minute,
		RefreshTokenTTL:    7 * 24 * time.Hour,
		Issuer:             "test",
		Audience:           "test",
		PasswordPepper:     "pepper",
		UserCacheTTL:       120 * time.Second,
	}

	issuer, err := appjwt.NewTokenIssuer(cfg)
	require.NoError(t, err)

	v := validator.New()
	require.NoError(t, v.RegisterValidation("strongpwd", func(_ validator.FieldLevel) bool { return true }))

	uc := cache.NewUserCache(cs, cfg.UserCacheTTL, zap.NewNop())
	svc := appsvc.New(ur, jr, uc, issuer, cfg, v, zap.NewNop())
	return svc, ur, jr
}

func signupAlice(t *testing.T, svc appsvc.Service) model.TokenPair {
	t.Helper()
	pair, err := svc.Signup(context.Background(), dto.SignupDTO{
		Email:    "alice@example.com",
		Password: "Str0ngPass",
		Name:     "Alice",
	})
	require.NoError(t, err)
	return pair
}

/* ──────────────────────────────── tests ──────────────────────────────── */

func TestSignup_IssuesVerifiablePairAndEnqueuesJob(t *testing.T) {
	svc, ur, jr := newSvc(t)
	pair := signupAlice(t, svc)

	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	subject, email, err := svc.VerifyAccess(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, pair.UserID, subject)
	require.Equal(t, "alice@example.com", email)

	// The new refresh fingerprint was bound to the identity.
	stored := ur.users[pair.UserID]
	require.NotEmpty(t, stored.RefreshFingerprint)
	require.NotContains(t, stored.RefreshFingerprint, pair.RefreshToken)

	require.Len(t, jr.jobs, 1)
	require.Equal(t, model.JobUserCreated, jr.jobs[0].Type)
	require.Contains(t, jr.jobs[0].Payload, "alice@example.com")
}

func TestSignup_DuplicateEmail(t *testing.T) {
	svc, _, _ := newSvc(t)
	signupAlice(t, svc)

	_, err := svc.Signup(context.Background(), dto.SignupDTO{
		Email:    "alice@example.com",
		Password: "Str0ngPass",
		Name:     "Alice II",
	})
	require.ErrorIs(t, err, customErrors.ErrAlreadyExists)
}

func TestLogin_WrongPasswordAndUnknownEmailLookAlike(t *testing.T) {
	svc, _, _ := newSvc(t)
	signupAlice(t, svc)

	_, errWrong := svc.Login(context.Background(), dto.LoginDTO{
		Email: "alice@example.com", Password: "WrongPass1",
	})
	require.ErrorIs(t, errWrong, customErrors.ErrAccessDenied)

	_, errUnknown := svc.Login(context.Background(), dto.LoginDTO{
		Email: "nobody@example.com", Password: "Str0ngPass",
	})
	require.ErrorIs(t, errUnknown, customErrors.ErrAccessDenied)
}

func TestEmailIsCaseNormalized(t *testing.T) {
	svc, _, _ := newSvc(t)
	ctx := context.Background()

	pair, err := svc.Signup(ctx, dto.SignupDTO{
		Email:    "Alice@Example.COM",
		Password: "Str0ngPass",
		Name:     "Alice",
	})
	require.NoError(t, err)

	// The login key is one casing regardless of how it was entered.
	_, err = svc.Login(ctx, dto.LoginDTO{
		Email: "alice@example.com", Password: "Str0ngPass",
	})
	require.NoError(t, err)

	_, err = svc.Login(ctx, dto.LoginDTO{
		Email: "ALICE@example.com", Password: "Str0ngPass",
	})
	require.NoError(t, err)

	// A second account differing only by case collides with the first.
	_, err = svc.Signup(ctx, dto.SignupDTO{
		Email:    "aLiCe@eXaMpLe.CoM",
		Password: "Str0ngPass",
		Name:     "Not Alice",
	})
	require.ErrorIs(t, err, customErrors.ErrAlreadyExists)

	got, err := svc.Lookup(ctx, pair.UserID)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", got.Email)
}

func TestLogin_RotatesRefreshTokenAndEnqueuesJob(t *testing.T) {
	svc, _, jr := newSvc(t)
	first := signupAlice(t, svc)

	second, err := svc.Login(context.Background(), dto.LoginDTO{
		Email: "alice@example.com", Password: "Str0ngPass",
	})
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	require.Len(t, jr.jobs, 2)
	require.Equal(t, model.JobUserLoggedIn, jr.jobs[1].Type)

	// The login superseded the signup pair: the old refresh token no longer
	// matches the stored fingerprint even though it has not expired.
	_, err = svc.Refresh(context.Background(), first.UserID, first.RefreshToken)
	require.ErrorIs(t, err, customErrors.ErrAccessDenied)

	// The fresh one rotates fine.
	_, err = svc.Refresh(context.Background(), second.UserID, second.RefreshToken)
	require.NoError(t, err)
}

func TestRefresh_RotationInvalidatesPresentedToken(t *testing.T) {
	svc, _, _ := newSvc(t)
	pair := signupAlice(t, svc)
	ctx := context.Background()

	rotated, err := svc.Refresh(ctx, pair.UserID, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// Replaying the consumed token fails.
	_, err = svc.Refresh(ctx, pair.UserID, pair.RefreshToken)
	require.ErrorIs(t, err, customErrors.ErrAccessDenied)
}

func TestRefresh_SubjectMismatch(t *testing.T) {
	svc, _, _ := newSvc(t)
	pair := signupAlice(t, svc)

	_, err := svc.Refresh(context.Background(), uuid.New(), pair.RefreshToken)
	require.ErrorIs(t, err, customErrors.ErrAccessDenied)
}

func TestRefresh_AccessTokenIsNotARefreshToken(t *testing.T) {
	svc, _, _ := newSvc(t)
	pair := signupAlice(t, svc)

	_, err := svc.Refresh(context.Background(), pair.UserID, pair.AccessToken)
	require.ErrorIs(t, err, customErrors.ErrAccessDenied)
}

func TestLogout_RevokesOutstandingRefreshTokens(t *testing.T) {
	svc, _, _ := newSvc(t)
	pair := signupAlice(t, svc)
	ctx := context.Background()

	require.NoError(t, svc.Logout(ctx, pair.UserID))

	_, err := svc.Refresh(ctx, pair.UserID, pair.RefreshToken)
	require.ErrorIs(t, err, customErrors.ErrAccessDenied)

	// Idempotent, including for unknown subjects.
	require.NoError(t, svc.Logout(ctx, pair.UserID))
	require.NoError(t, svc.Logout(ctx, uuid.New()))
}

func TestVerifyAccess_RejectsGarbage(t *testing.T) {
	svc, _, _ := newSvc(t)

	_, _, err := svc.VerifyAccess(context.Background(), "garbage")
	require.ErrorIs(t, err, customErrors.ErrUnauthenticated)
}

func TestLookup_SecondReadServedFromCache(t *testing.T) {
	svc, ur, _ := newSvc(t)
	pair := signupAlice(t, svc)
	ctx := context.Background()

	got, err := svc.Lookup(ctx, pair.UserID)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", got.Email)
	loads := ur.getByIDCalls

	again, err := svc.Lookup(ctx, pair.UserID)
	require.NoError(t, err)
	require.Equal(t, got.ID, again.ID)
	require.Equal(t, loads, ur.getByIDCalls)
}

func TestLookup_UnknownIDIsNotFound(t *testing.T) {
	svc, _, _ := newSvc(t)

	_, err := svc.Lookup(context.Background(), uuid.New())
	require.ErrorIs(t, err, customErrors.ErrNotFound)
}
