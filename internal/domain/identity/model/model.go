package model

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	Name         string
	PasswordHash string `gorm:"not null"`
	// RefreshFingerprint holds the argon2id hash of the currently valid
	// refresh token. Empty means no active session to rotate or revoke.
	RefreshFingerprint string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Profile is the externally visible projection of a User. Password and
// fingerprint hashes never leave the service, so only this shape is cached
// and returned from lookups.
type Profile struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u User) Profile() Profile {
	return Profile{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		CreatedAt: u.CreatedAt,
	}
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	UserID       uuid.UUID
}

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

const (
	JobUserCreated  = "user.created"
	JobUserLoggedIn = "user.login"
)

type Job struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Type      string    `gorm:"not null"`
	Payload   string    `gorm:"type:jsonb"`
	Status    JobStatus `gorm:"not null;default:pending;index:idx_jobs_status_created_at,priority:1"`
	Result    string
	Error     string
	CreatedAt time.Time `gorm:"index:idx_jobs_status_created_at,priority:2"`
	UpdatedAt time.Time
}

// Terminal reports whether the job reached a final state. A terminal job is
// never transitioned again.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}
