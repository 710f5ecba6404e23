package transcription

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/riverqueue/river"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicledger/internal/platform/telemetry"
)

const workTimeout = 2 * time.Minute

// Worker executes transcription jobs picked up by River.
type Worker struct {
	river.WorkerDefaults[JobArgs]

	repo        Repository
	transcriber Transcriber
	metrics     *telemetry.Metrics
	logger      zerolog.Logger
}

func NewWorker(repo Repository, transcriber Transcriber, metrics *telemetry.Metrics, logger zerolog.Logger) *Worker {
	if transcriber == nil {
		transcriber = PlaceholderTranscriber{}
	}
	return &Worker{repo: repo, transcriber: transcriber, metrics: metrics, logger: logger}
}

func (w *Worker) Timeout(*river.Job[JobArgs]) time.Duration { return workTimeout }

// Work runs the transcriber and stores its outcome. A failed attempt is
// returned to River for retry; the job row only turns failed on the last one.
func (w *Worker) Work(ctx context.Context, job *river.Job[JobArgs]) error {
	logger := w.logger.With().
		Str("job_id", job.Args.JobID.String()).
		Int("attempt", job.Attempt).
		Logger()
	ctx = logger.WithContext(ctx)

	j, err := w.repo.Get(ctx, job.Args.JobID)
	if err != nil {
		return err
	}
	if j.Status == StatusCompleted || j.Status == StatusFailed {
		logger.Debug().Str("status", string(j.Status)).Msg("transcription already settled")
		return nil
	}

	if err := w.repo.MarkRunning(ctx, j.ID); err != nil {
		return err
	}

	text, err := w.transcriber.Transcribe(ctx, j.AudioRef)
	if err != nil {
		logger.Warn().Err(err).Msg("transcription attempt failed")
		if job.Attempt >= job.MaxAttempts {
			if ferr := w.repo.Fail(ctx, j.ID, err.Error()); ferr != nil {
				return errors.WithSecondaryError(err, ferr)
			}
			w.metrics.ObserveTranscription(string(StatusFailed))
		}
		return err
	}

	if err := w.repo.Complete(ctx, j.ID, text); err != nil {
		return err
	}
	w.metrics.ObserveTranscription(string(StatusCompleted))
	logger.Info().Int("chars", len(text)).Msg("transcription completed")
	return nil
}
