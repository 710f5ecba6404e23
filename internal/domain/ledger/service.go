package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/ehr/clinicledger/internal/domain/audit"
	"github.com/ehr/clinicledger/internal/platform/apperr"
	"github.com/ehr/clinicledger/internal/platform/auth"
	"github.com/ehr/clinicledger/internal/platform/db"
	"github.com/ehr/clinicledger/internal/platform/telemetry"
	"github.com/ehr/clinicledger/pkg/pagination"
)

const maxReasonLen = 2000

// Service owns clinical events and their versions. Every operation is gated,
// and every granted mutation commits together with its audit entry.
type Service struct {
	repo     Repository
	tx       db.Transactor
	guard    *audit.Guard
	recorder *audit.Recorder
	payloads *PayloadValidator
	metrics  *telemetry.Metrics

	now   func() time.Time
	newID func() (uuid.UUID, error)
}

func NewService(repo Repository, tx db.Transactor, guard *audit.Guard, recorder *audit.Recorder,
	payloads *PayloadValidator, metrics *telemetry.Metrics) *Service {
	return &Service{
		repo:     repo,
		tx:       tx,
		guard:    guard,
		recorder: recorder,
		payloads: payloads,
		metrics:  metrics,
		now:      time.Now,
		newID:    uuid.NewV7,
	}
}

// AppendEvent stores a new event at version 1 together with its first version
// row and a "create" audit entry, all in one transaction.
func (s *Service) AppendEvent(ctx context.Context, actor auth.Actor, in NewEvent) (uuid.UUID, error) {
	res := audit.Resource{PatientID: in.PatientID, Type: audit.ResourceEvent}
	if err := s.guard.Authorize(ctx, actor, auth.WriteEvent, audit.ActionCreate, res); err != nil {
		return uuid.Nil, err
	}

	if in.PatientID == uuid.Nil {
		return uuid.Nil, apperr.Validation("patient_id is required")
	}
	if in.ProfessionalID == uuid.Nil {
		return uuid.Nil, apperr.Validation("professional_id is required")
	}
	if err := ValidateEventType(in.EventType); err != nil {
		return uuid.Nil, err
	}
	if err := s.payloads.Validate(in.EventType, in.Payload); err != nil {
		return uuid.Nil, err
	}

	id, err := s.newID()
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "generate event id")
	}
	now := s.now().UTC()
	payload := compact(in.Payload)

	event := &ClinicalEvent{
		ID:             id,
		PatientID:      in.PatientID,
		ProfessionalID: in.ProfessionalID,
		EncounterID:    in.EncounterID,
		EventType:      in.EventType,
		Payload:        payload,
		CurrentVersion: 1,
		CreatedAt:      now,
	}
	version := &EventVersion{
		EventID:        id,
		Version:        1,
		Payload:        payload,
		ProfessionalID: in.ProfessionalID,
		CreatedAt:      now,
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.InsertEvent(ctx, event); err != nil {
			return err
		}
		if err := s.repo.InsertVersion(ctx, version); err != nil {
			return err
		}
		res.ID = id
		entry := audit.NewEntry(actor, audit.ActionCreate, res).
			With("event_type", in.EventType).
			With("version", 1)
		return s.recorder.Record(ctx, entry)
	})
	if err != nil {
		return uuid.Nil, apperr.OrPersistence(err, "append event")
	}

	s.metrics.ObserveLedgerWrite("append")
	return id, nil
}

// AmendEvent appends version current+1 and repoints the event at it. The event
// row is locked for the duration so concurrent amendments queue up and each
// sees the version committed before it.
func (s *Service) AmendEvent(ctx context.Context, actor auth.Actor, in Amendment) (*ClinicalEvent, error) {
	event, err := s.authorizeEvent(ctx, actor, auth.WriteEvent, audit.ActionAmend, in.EventID)
	if err != nil {
		return nil, err
	}

	if in.ProfessionalID == uuid.Nil {
		return nil, apperr.Validation("professional_id is required")
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, apperr.Validation("reason is required")
	}
	if len(reason) > maxReasonLen {
		return nil, apperr.Validationf("reason exceeds %d characters", maxReasonLen)
	}
	if err := s.payloads.Validate(event.EventType, in.Payload); err != nil {
		return nil, err
	}
	payload := compact(in.Payload)

	updated, err := db.InTxReturn(ctx, s.tx, func(ctx context.Context) (*ClinicalEvent, error) {
		head, err := s.repo.LockHead(ctx, in.EventID)
		if err != nil {
			return nil, err
		}
		if head.Deleted {
			return nil, apperr.NotFound("clinical event")
		}

		next := head.CurrentVersion + 1
		if err := s.repo.InsertVersion(ctx, &EventVersion{
			EventID:        in.EventID,
			Version:        next,
			Payload:        payload,
			ProfessionalID: in.ProfessionalID,
			Reason:         &reason,
			CreatedAt:      s.now().UTC(),
		}); err != nil {
			return nil, err
		}
		if err := s.repo.Repoint(ctx, in.EventID, next, payload); err != nil {
			return nil, err
		}

		entry := audit.NewEntry(actor, audit.ActionAmend, audit.Resource{
			PatientID: head.PatientID, ID: in.EventID, Type: audit.ResourceEvent,
		}).
			With("version", next).
			With("previous_version", head.CurrentVersion).
			With("reason", reason)
		if err := s.recorder.Record(ctx, entry); err != nil {
			return nil, err
		}

		out := *event
		out.CurrentVersion = next
		out.Payload = payload
		return &out, nil
	})
	if err != nil {
		return nil, apperr.OrPersistence(err, "amend event")
	}

	s.metrics.ObserveLedgerWrite("amend")
	return updated, nil
}

// DeleteEvent sets the soft-delete flag. Versions are kept.
func (s *Service) DeleteEvent(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	event, err := s.authorizeEvent(ctx, actor, auth.WriteEvent, audit.ActionDelete, id)
	if err != nil {
		return err
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.MarkDeleted(ctx, id); err != nil {
			return err
		}
		return s.recorder.Record(ctx, audit.NewEntry(actor, audit.ActionDelete, audit.Resource{
			PatientID: event.PatientID, ID: id, Type: audit.ResourceEvent,
		}).With("version", event.CurrentVersion))
	})
	if err != nil {
		return apperr.OrPersistence(err, "delete event")
	}

	s.metrics.ObserveLedgerWrite("delete")
	return nil
}

// GetEvent returns the current state of one event.
func (s *Service) GetEvent(ctx context.Context, actor auth.Actor, id uuid.UUID) (*ClinicalEvent, error) {
	event, err := s.authorizeEvent(ctx, actor, auth.ViewTimeline, audit.ActionView, id)
	if err != nil {
		return nil, err
	}
	entry := audit.NewEntry(actor, audit.ActionView, audit.Resource{
		PatientID: event.PatientID, ID: id, Type: audit.ResourceEvent,
	})
	if err := s.recorder.Record(ctx, entry); err != nil {
		return nil, err
	}
	return event, nil
}

// ListVersions returns the full history of an event, oldest first.
func (s *Service) ListVersions(ctx context.Context, actor auth.Actor, id uuid.UUID) ([]*EventVersion, error) {
	event, err := s.authorizeEvent(ctx, actor, auth.ViewTimeline, audit.ActionView, id)
	if err != nil {
		return nil, err
	}
	versions, err := s.repo.ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	entry := audit.NewEntry(actor, audit.ActionView, audit.Resource{
		PatientID: event.PatientID, ID: id, Type: audit.ResourceEventVersion,
	}).With("versions", len(versions))
	if err := s.recorder.Record(ctx, entry); err != nil {
		return nil, err
	}
	return versions, nil
}

// Timeline returns a page of the patient's non-deleted events, newest first.
func (s *Service) Timeline(ctx context.Context, actor auth.Actor, q TimelineQuery) ([]*TimelineEntry, int, error) {
	res := audit.Resource{PatientID: q.PatientID, Type: audit.ResourceTimeline}
	if err := s.guard.Authorize(ctx, actor, auth.ViewTimeline, audit.ActionView, res); err != nil {
		return nil, 0, err
	}

	if q.PatientID == uuid.Nil {
		return nil, 0, apperr.Validation("patient_id is required")
	}
	if q.From != nil && q.To != nil && !q.From.Before(*q.To) {
		return nil, 0, apperr.Validation("from must be before to")
	}
	for _, t := range q.EventTypes {
		if err := ValidateEventType(t); err != nil {
			return nil, 0, err
		}
	}
	if q.Limit <= 0 {
		q.Limit = pagination.DefaultLimit
	}
	if q.Limit > pagination.MaxLimit {
		q.Limit = pagination.MaxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	exists, err := s.repo.PatientExists(ctx, q.PatientID)
	if err != nil {
		return nil, 0, err
	}
	if !exists {
		return nil, 0, apperr.NotFound("patient")
	}

	entries, total, err := s.repo.Timeline(ctx, q)
	if err != nil {
		return nil, 0, err
	}

	entry := audit.NewEntry(actor, audit.ActionView, res).
		With("returned", len(entries)).
		With("offset", q.Offset)
	if len(q.EventTypes) > 0 {
		entry.With("event_types", q.EventTypes)
	}
	if err := s.recorder.Record(ctx, entry); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// authorizeEvent loads an event and runs the gate against its patient. A
// missing or deleted event is only reported as NotFound once the gate has
// allowed the actor, so refused callers cannot learn whether it exists.
func (s *Service) authorizeEvent(ctx context.Context, actor auth.Actor, capability auth.Capability,
	action string, id uuid.UUID) (*ClinicalEvent, error) {
	event, err := s.repo.GetByID(ctx, id)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if event != nil && event.Deleted {
		event = nil
	}

	res := audit.Resource{ID: id, Type: audit.ResourceEvent}
	if event != nil {
		res.PatientID = event.PatientID
	}
	if err := s.guard.Authorize(ctx, actor, capability, action, res); err != nil {
		return nil, err
	}
	if event == nil {
		return nil, apperr.NotFound("clinical event")
	}
	return event, nil
}

func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
