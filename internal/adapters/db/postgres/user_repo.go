package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	customErrors "github.com/kseleznyov/identity-service/internal/domain/identity/errors"
	"github.com/kseleznyov/identity-service/internal/domain/identity/model"
	"gorm.io/gorm"
)

type PostgresUserRepo struct {
	db *gorm.DB
}

func NewPostgresUserRepo(db *gorm.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

func (p *PostgresUserRepo) CreateUser(ctx context.Context, user model.User) (uuid.UUID, error) {
	res := p.db.WithContext(ctx).Create(&user)
	if err := res.Error; err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return uuid.Nil, customErrors.ErrAlreadyExists
		}
		return uuid.Nil, customErrors.WrapStoreUnavailable(err, "CreateUser")
	}
	return user.ID, nil
}

func (p *PostgresUserRepo) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	var u model.User
	res := p.db.WithContext(ctx).Where("email = ?", email).First(&u)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return model.User{}, customErrors.ErrNotFound
	}
	if err := res.Error; err != nil {
		return model.User{}, customErrors.WrapStoreUnavailable(err, "GetUserByEmail")
	}

	return u, nil
}

func (p *PostgresUserRepo) GetUserByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	var u model.User
	res := p.db.WithContext(ctx).Where("id = ?", id).First(&u)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return model.User{}, customErrors.ErrNotFound
	}
	if err := res.Error; err != nil {
		return model.User{}, customErrors.WrapStoreUnavailable(err, "GetUserByID")
	}

	return u, nil
}

// UpdateRefreshFingerprint is a plain last-write-wins single-column update.
// Concurrent rotations for the same user can overwrite each other; that race
// is accepted, not guarded.
func (p *PostgresUserRepo) UpdateRefreshFingerprint(ctx context.Context, id uuid.UUID, fingerprint string) error {
	res := p.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", id).
		Update("refresh_fingerprint", fingerprint)
	if err := res.Error; err != nil {
		return customErrors.WrapStoreUnavailable(err, "UpdateRefreshFingerprint")
	}
	if res.RowsAffected == 0 {
		return customErrors.ErrNotFound
	}

	return nil
}
