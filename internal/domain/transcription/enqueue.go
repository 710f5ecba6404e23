package transcription

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"github.com/ehr/clinicledger/internal/platform/db"
)

// Enqueuer schedules a transcription run for a stored job.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID uuid.UUID) error
}

type riverEnqueuer struct {
	client *river.Client[pgx.Tx]
}

// NewRiverEnqueuer inserts jobs through client. Inserts join the transaction
// carried by ctx so a job is only visible to workers once its row commits.
func NewRiverEnqueuer(client *river.Client[pgx.Tx]) Enqueuer {
	return &riverEnqueuer{client: client}
}

func (e *riverEnqueuer) Enqueue(ctx context.Context, jobID uuid.UUID) error {
	tx := db.TxFromContext(ctx)
	if tx == nil {
		return errors.AssertionFailedf("transcription enqueued outside a transaction")
	}
	if _, err := e.client.InsertTx(ctx, tx, JobArgs{JobID: jobID}, nil); err != nil {
		return errors.Wrap(err, "enqueue transcription")
	}
	return nil
}
