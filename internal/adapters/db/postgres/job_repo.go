package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	customErrors "github.com/kseleznyov/identity-service/internal/domain/identity/errors"
	"github.com/kseleznyov/identity-service/internal/domain/identity/model"
	"gorm.io/gorm"
)

type PostgresJobRepo struct {
	db *gorm.DB
}

func NewPostgresJobRepo(db *gorm.DB) *PostgresJobRepo {
	return &PostgresJobRepo{db: db}
}

func (p *PostgresJobRepo) InsertJob(ctx context.Context, job model.Job) (uuid.UUID, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = model.JobPending
	}
	// The payload column is jsonb; an empty string would not cast.
	if job.Payload == "" {
		job.Payload = "{}"
	}

	res := p.db.WithContext(ctx).Create(&job)
	if err := res.Error; err != nil {
		return uuid.Nil, customErrors.WrapStoreUnavailable(err, "InsertJob")
	}
	return job.ID, nil
}

// ClaimOldestPending picks the oldest pending job and flips it to processing
// with a conditional update keyed on the pending status. The flip is the
// correctness mechanism: of N concurrent claimers only the one whose update
// matches a row gets the job, the rest see ErrNotFound. A claimer that loses
// the race does not fall through to the next pending job; it simply reports
// none and the next poll tick tries again.
func (p *PostgresJobRepo) ClaimOldestPending(ctx context.Context) (model.Job, error) {
	var j model.Job
	res := p.db.WithContext(ctx).
		Where("status = ?", model.JobPending).
		Order("created_at ASC, id ASC").
		First(&j)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return model.Job{}, customErrors.ErrNotFound
	}
	if err := res.Error; err != nil {
		return model.Job{}, customErrors.WrapStoreUnavailable(err, "ClaimOldestPending")
	}

	upd := p.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ?", j.ID, model.JobPending).
		Update("status", model.JobProcessing)
	if err := upd.Error; err != nil {
		return model.Job{}, customErrors.WrapStoreUnavailable(err, "ClaimOldestPending")
	}
	if upd.RowsAffected == 0 {
		// Lost the race to a concurrent claimer.
		return model.Job{}, customErrors.ErrNotFound
	}

	j.Status = model.JobProcessing
	return j, nil
}

func (p *PostgresJobRepo) FinalizeJob(ctx context.Context, id uuid.UUID, status model.JobStatus, result, errMsg string) error {
	if !status.Terminal() {
		return customErrors.NewInvalidArgument("finalize requires a terminal status")
	}

	// Only a processing job may reach a terminal state; backward or repeated
	// transitions match no row.
	upd := p.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ?", id, model.JobProcessing).
		Updates(map[string]interface{}{
			"status": status,
			"result": result,
			"error":  errMsg,
		})
	if err := upd.Error; err != nil {
		return customErrors.WrapStoreUnavailable(err, "FinalizeJob")
	}
	if upd.RowsAffected == 0 {
		return customErrors.ErrNotFound
	}

	return nil
}
