package transcription

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/ehr/clinicledger/internal/domain/audit"
	"github.com/ehr/clinicledger/internal/domain/ledger"
	"github.com/ehr/clinicledger/internal/platform/apperr"
	"github.com/ehr/clinicledger/internal/platform/auth"
	"github.com/ehr/clinicledger/internal/platform/db"
	"github.com/ehr/clinicledger/internal/platform/telemetry"
)

const maxAudioRefLen = 2048

// EventAppender is the ledger entry point transcripts are written through.
type EventAppender interface {
	AppendEvent(ctx context.Context, actor auth.Actor, in ledger.NewEvent) (uuid.UUID, error)
}

type Service struct {
	repo     Repository
	tx       db.Transactor
	guard    *audit.Guard
	recorder *audit.Recorder
	enqueuer Enqueuer
	events   EventAppender
	metrics  *telemetry.Metrics

	now   func() time.Time
	newID func() (uuid.UUID, error)
}

func NewService(repo Repository, tx db.Transactor, guard *audit.Guard, recorder *audit.Recorder,
	enqueuer Enqueuer, events EventAppender, metrics *telemetry.Metrics) *Service {
	return &Service{
		repo:     repo,
		tx:       tx,
		guard:    guard,
		recorder: recorder,
		enqueuer: enqueuer,
		events:   events,
		metrics:  metrics,
		now:      time.Now,
		newID:    uuid.NewV7,
	}
}

// Submit stores a pending job and schedules it in the same transaction.
func (s *Service) Submit(ctx context.Context, actor auth.Actor, in SubmitRequest) (uuid.UUID, error) {
	res := audit.Resource{Type: audit.ResourceTranscription}
	if in.PatientID != nil {
		res.PatientID = *in.PatientID
	}
	if err := s.guard.Authorize(ctx, actor, auth.WriteEvent, audit.ActionSubmit, res); err != nil {
		return uuid.Nil, err
	}

	ref := strings.TrimSpace(in.AudioRef)
	if ref == "" {
		return uuid.Nil, apperr.Validation("audio_ref is required")
	}
	if len(ref) > maxAudioRefLen {
		return uuid.Nil, apperr.Validationf("audio_ref exceeds %d characters", maxAudioRefLen)
	}

	id, err := s.newID()
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "generate job id")
	}
	now := s.now().UTC()
	job := &Job{
		ID:          id,
		PatientID:   in.PatientID,
		SubmittedBy: actor.IDPtr(),
		AudioRef:    ref,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Insert(ctx, job); err != nil {
			return err
		}
		if err := s.enqueuer.Enqueue(ctx, id); err != nil {
			return err
		}
		res.ID = id
		return s.recorder.Record(ctx, audit.NewEntry(actor, audit.ActionSubmit, res).With("audio_ref", ref))
	})
	if err != nil {
		return uuid.Nil, apperr.OrPersistence(err, "submit transcription")
	}

	s.metrics.ObserveTranscription(string(StatusPending))
	return id, nil
}

// Poll reports the state of a job and, once completed, its text.
func (s *Service) Poll(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Job, error) {
	job, err := s.authorizeJob(ctx, actor, auth.ViewTimeline, audit.ActionView, id)
	if err != nil {
		return nil, err
	}
	entry := audit.NewEntry(actor, audit.ActionView, resourceOf(job)).With("status", string(job.Status))
	if err := s.recorder.Record(ctx, entry); err != nil {
		return nil, err
	}
	return job, nil
}

// AttachTranscript appends a completed job's text to the patient's record as
// a "transcript" event. The event and the job link commit together, so a
// transcript is attached at most once.
func (s *Service) AttachTranscript(ctx context.Context, actor auth.Actor, in AttachRequest) (uuid.UUID, error) {
	job, err := s.authorizeJob(ctx, actor, auth.WriteEvent, audit.ActionCreate, in.JobID)
	if err != nil {
		return uuid.Nil, err
	}

	patient := job.PatientID
	if patient == nil {
		patient = in.PatientID
	}
	switch {
	case patient == nil:
		return uuid.Nil, apperr.Validation("patient_id is required for a job submitted without one")
	case in.PatientID != nil && *in.PatientID != *patient:
		return uuid.Nil, apperr.Validation("patient_id does not match the job")
	case job.Status != StatusCompleted:
		return uuid.Nil, apperr.InvalidState("transcription is " + string(job.Status))
	case job.EventID != nil:
		return uuid.Nil, apperr.InvalidState("transcript is already attached")
	}

	text := ""
	if job.Text != nil {
		text = *job.Text
	}
	payload, err := json.Marshal(map[string]string{
		"text":      text,
		"job_id":    job.ID.String(),
		"audio_ref": job.AudioRef,
	})
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "encode transcript payload")
	}

	eventID, err := db.InTxReturn(ctx, s.tx, func(ctx context.Context) (uuid.UUID, error) {
		eventID, err := s.events.AppendEvent(ctx, actor, ledger.NewEvent{
			PatientID:      *patient,
			ProfessionalID: in.ProfessionalID,
			EventType:      "transcript",
			Payload:        payload,
		})
		if err != nil {
			return uuid.Nil, err
		}
		return eventID, s.repo.LinkEvent(ctx, job.ID, eventID)
	})
	if err != nil {
		return uuid.Nil, apperr.OrPersistence(err, "attach transcript")
	}
	return eventID, nil
}

func resourceOf(j *Job) audit.Resource {
	res := audit.Resource{ID: j.ID, Type: audit.ResourceTranscription}
	if j.PatientID != nil {
		res.PatientID = *j.PatientID
	}
	return res
}

func (s *Service) authorizeJob(ctx context.Context, actor auth.Actor, capability auth.Capability,
	action string, id uuid.UUID) (*Job, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	res := audit.Resource{ID: id, Type: audit.ResourceTranscription}
	if job != nil {
		res = resourceOf(job)
	}
	if err := s.guard.Authorize(ctx, actor, capability, action, res); err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apperr.NotFound("transcription job")
	}
	return job, nil
}
