package transcription

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/clinicledger/internal/platform/apperr"
	"github.com/ehr/clinicledger/internal/platform/db"
)

type repoPG struct{ db db.DB }

func NewRepoPG(handle db.DB) Repository { return &repoPG{db: handle} }

func (r *repoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.db) }

func (r *repoPG) Insert(ctx context.Context, j *Job) error {
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO transcription_job
		(id, patient_id, submitted_by, audio_ref, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		j.ID, j.PatientID, j.SubmittedBy, j.AudioRef, string(j.Status), j.CreatedAt)
	return db.Classify(err, "insert transcription job")
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	var j Job
	var status string
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, patient_id, submitted_by, audio_ref, status, text, error,
			event_id, created_at, updated_at
		FROM transcription_job WHERE id = $1`, id).
		Scan(&j.ID, &j.PatientID, &j.SubmittedBy, &j.AudioRef, &status, &j.Text, &j.Error,
			&j.EventID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, db.Classify(err, "transcription job")
	}
	j.Status = Status(status)
	return &j, nil
}

func (r *repoPG) setStatus(ctx context.Context, id uuid.UUID, sql string, args ...interface{}) error {
	tag, err := r.conn(ctx).Exec(ctx, sql, append([]interface{}{id}, args...)...)
	if err != nil {
		return db.Classify(err, "update transcription job")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("transcription job")
	}
	return nil
}

func (r *repoPG) MarkRunning(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, `UPDATE transcription_job
		SET status = 'running', updated_at = now() WHERE id = $1`)
}

func (r *repoPG) Complete(ctx context.Context, id uuid.UUID, text string) error {
	return r.setStatus(ctx, id, `UPDATE transcription_job
		SET status = 'completed', text = $2, error = NULL, updated_at = now() WHERE id = $1`, text)
}

func (r *repoPG) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	return r.setStatus(ctx, id, `UPDATE transcription_job
		SET status = 'failed', error = $2, updated_at = now() WHERE id = $1`, reason)
}

func (r *repoPG) LinkEvent(ctx context.Context, id, eventID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE transcription_job
		SET event_id = $2, updated_at = now() WHERE id = $1 AND event_id IS NULL`, id, eventID)
	if err != nil {
		return db.Classify(err, "link transcript event")
	}
	if tag.RowsAffected() == 0 {
		return apperr.InvalidState("transcript is already attached")
	}
	return nil
}
