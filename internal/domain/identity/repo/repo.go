package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kseleznyov/identity-service/internal/domain/identity/model"
)

type UserRepo interface {
	CreateUser(ctx context.Context, user model.User) (uuid.UUID, error)
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (model.User, error)
	// UpdateRefreshFingerprint overwrites the stored fingerprint for the user.
	// An empty fingerprint clears it (revocation). Last write wins.
	UpdateRefreshFingerprint(ctx context.Context, id uuid.UUID, fingerprint string) error
}

type JobRepo interface {
	InsertJob(ctx context.Context, job model.Job) (uuid.UUID, error)
	// ClaimOldestPending atomically flips the oldest pending job to processing
	// and returns it. At most one concurrent caller receives a given job; the
	// rest get ErrNotFound.
	ClaimOldestPending(ctx context.Context) (model.Job, error)
	FinalizeJob(ctx context.Context, id uuid.UUID, status model.JobStatus, result, errMsg string) error
}

type CacheStore interface {
	// Get returns the cached value for key, or ErrNotFound when the key is
	// absent or expired.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}
