package transcription

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Insert(ctx context.Context, j *Job) error
	Get(ctx context.Context, id uuid.UUID) (*Job, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	Complete(ctx context.Context, id uuid.UUID, text string) error
	Fail(ctx context.Context, id uuid.UUID, reason string) error
	// LinkEvent records the event a transcript was attached as. It fails with
	// an InvalidStateError if the job is already linked.
	LinkEvent(ctx context.Context, id, eventID uuid.UUID) error
}
