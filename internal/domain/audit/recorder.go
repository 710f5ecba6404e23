package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicledger/internal/platform/apperr"
	"github.com/ehr/clinicledger/internal/platform/middleware"
	"github.com/ehr/clinicledger/internal/platform/telemetry"
)

// Recorder appends audit entries on behalf of every component.
type Recorder struct {
	repo    Repository
	metrics *telemetry.Metrics
	now     func() time.Time
}

func NewRecorder(repo Repository, metrics *telemetry.Metrics) *Recorder {
	return &Recorder{repo: repo, metrics: metrics, now: time.Now}
}

// Record stamps and appends e. A failure is returned as a PersistenceError so
// that a mutation sharing the transaction is rolled back with it.
func (r *Recorder) Record(ctx context.Context, e *Entry) error {
	if e.Action == "" {
		return apperr.Validation("audit action is required")
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}
	if e.RequestID == "" {
		e.RequestID = middleware.RequestIDFromContext(ctx)
	}

	if err := r.repo.Append(ctx, e); err != nil {
		r.metrics.ObserveAuditFailure()
		zerolog.Ctx(ctx).Error().Err(err).
			Str("action", e.Action).
			Str("resource_type", e.ResourceType).
			Msg("audit write failed")
		return apperr.Persistence(err, "append audit entry")
	}
	return nil
}
