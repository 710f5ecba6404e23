package documents

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicledger/internal/domain/audit"
	"github.com/ehr/clinicledger/internal/platform/apperr"
	"github.com/ehr/clinicledger/internal/platform/auth"
	"github.com/ehr/clinicledger/internal/platform/db"
	"github.com/ehr/clinicledger/internal/platform/telemetry"
)

const maxContentLen = 1 << 20

var documentTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// Service runs the draft to signed workflow. signed is terminal.
type Service struct {
	repo     Repository
	tx       db.Transactor
	guard    *audit.Guard
	recorder *audit.Recorder
	signer   *Signer
	metrics  *telemetry.Metrics

	now   func() time.Time
	newID func() (uuid.UUID, error)
}

func NewService(repo Repository, tx db.Transactor, guard *audit.Guard, recorder *audit.Recorder,
	signer *Signer, metrics *telemetry.Metrics) *Service {
	return &Service{
		repo:     repo,
		tx:       tx,
		guard:    guard,
		recorder: recorder,
		signer:   signer,
		metrics:  metrics,
		now:      time.Now,
		newID:    uuid.NewV7,
	}
}

// CreateDraft inserts a draft. When the draft links an event the gate is
// checked against that event's patient.
func (s *Service) CreateDraft(ctx context.Context, actor auth.Actor, in NewDraft) (*Document, error) {
	var patient uuid.UUID
	var linkErr error
	if in.EventID != nil {
		patient, linkErr = s.repo.EventPatient(ctx, *in.EventID)
		if linkErr != nil && !errors.Is(linkErr, apperr.ErrNotFound) {
			return nil, linkErr
		}
	}

	res := audit.Resource{PatientID: patient, Type: audit.ResourceDocument}
	if err := s.guard.Authorize(ctx, actor, auth.EditDocument, audit.ActionCreate, res); err != nil {
		return nil, err
	}
	if linkErr != nil {
		return nil, linkErr
	}

	if !documentTypePattern.MatchString(in.DocumentType) {
		return nil, apperr.Validation("document_type must be lower snake case")
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, apperr.Validation("content is required")
	}
	if len(in.Content) > maxContentLen {
		return nil, apperr.Validationf("content exceeds %d bytes", maxContentLen)
	}
	if !utf8.ValidString(in.Content) {
		return nil, apperr.Validation("content must be valid UTF-8")
	}
	if strings.ContainsRune(in.Content, 0) {
		return nil, apperr.Validation("content must not contain NUL characters")
	}

	id, err := s.newID()
	if err != nil {
		return nil, errors.Wrap(err, "generate document id")
	}
	doc := &Document{
		ID:           id,
		EventID:      in.EventID,
		DocumentType: in.DocumentType,
		Content:      in.Content,
		Status:       StatusDraft,
		CreatedBy:    actor.IDPtr(),
		CreatedAt:    s.now().UTC(),
	}
	if patient != uuid.Nil {
		doc.PatientID = &patient
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Insert(ctx, doc); err != nil {
			return err
		}
		res.ID = id
		entry := audit.NewEntry(actor, audit.ActionCreate, res).With("document_type", in.DocumentType)
		if in.EventID != nil {
			entry.With("event_id", in.EventID.String())
		}
		return s.recorder.Record(ctx, entry)
	})
	if err != nil {
		return nil, apperr.OrPersistence(err, "create document")
	}

	s.metrics.ObserveLedgerWrite("create_document")
	return doc, nil
}

// Sign moves a draft to signed. The status flip, the signature row and the
// audit entry commit together. Signing a signed document is an
// InvalidStateError and writes nothing, which is what makes a retry after an
// unacknowledged commit safe.
func (s *Service) Sign(ctx context.Context, actor auth.Actor, in SignRequest) (*View, error) {
	view, err := s.authorizeDocument(ctx, actor, auth.EditDocument, audit.ActionSign, in.DocumentID)
	if err != nil {
		return nil, err
	}
	if in.SignerID == uuid.Nil {
		return nil, apperr.Validation("signer_id is required")
	}
	if actor.Role != auth.RoleAdmin && !signsAsSelf(actor, in.SignerID) {
		return nil, s.guard.Deny(ctx, actor, auth.EditDocument, audit.ActionSign, s.resource(view),
			"signer_id does not match the caller's professional id")
	}
	if view.Status == StatusSigned {
		return nil, apperr.InvalidState("document is already signed")
	}

	sig, err := db.InTxReturn(ctx, s.tx, func(ctx context.Context) (*Signature, error) {
		locked, err := s.repo.LockForSign(ctx, in.DocumentID)
		if err != nil {
			return nil, err
		}
		if locked.Status != StatusDraft {
			return nil, apperr.InvalidState("document is already signed")
		}

		sig, err := s.signer.Sign(in.DocumentID, in.SignerID, ContentHash(locked.Content), in.CertificateToken, s.now())
		if err != nil {
			return nil, err
		}
		if err := s.repo.MarkSigned(ctx, in.DocumentID); err != nil {
			return nil, err
		}
		if err := s.repo.InsertSignature(ctx, sig); err != nil {
			return nil, err
		}

		entry := audit.NewEntry(actor, audit.ActionSign, s.resource(view)).
			With("signer_id", in.SignerID.String()).
			With("actor_professional_id", professionalID(actor)).
			With("content_sha256", sig.ContentSHA256).
			With("certificate_serial", sig.Certificate.Serial)
		if err := s.recorder.Record(ctx, entry); err != nil {
			return nil, err
		}
		view.Content = locked.Content
		return sig, nil
	})
	if err != nil {
		return nil, apperr.OrPersistence(err, "sign document")
	}

	s.metrics.ObserveSignature()
	zerolog.Ctx(ctx).Info().
		Str("document_id", in.DocumentID.String()).
		Str("signer_id", in.SignerID.String()).
		Str("certificate_serial", sig.Certificate.Serial).
		Msg("document signed")

	out := *view
	out.Status = StatusSigned
	out.Signature = sig
	intact := true
	out.Intact = &intact
	return &out, nil
}

// Get returns a document with its signature summary.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*View, error) {
	view, err := s.authorizeDocument(ctx, actor, auth.ViewTimeline, audit.ActionView, id)
	if err != nil {
		return nil, err
	}
	if err := s.recorder.Record(ctx, audit.NewEntry(actor, audit.ActionView, s.resource(view))); err != nil {
		return nil, err
	}
	if view.Signature != nil {
		intact := ContentHash(view.Content) == view.Signature.ContentSHA256 && s.signer.Verify(view.Signature) == nil
		if !intact {
			zerolog.Ctx(ctx).Error().Str("document_id", id.String()).Msg("signed document failed verification")
		}
		view.Intact = &intact
	}
	return view, nil
}

// signsAsSelf reports whether signer is the actor's own professional id. Only
// administrators may sign on behalf of another professional.
func signsAsSelf(actor auth.Actor, signer uuid.UUID) bool {
	return actor.ProfessionalID != nil && *actor.ProfessionalID == signer
}

func professionalID(actor auth.Actor) string {
	if actor.ProfessionalID == nil {
		return ""
	}
	return actor.ProfessionalID.String()
}

func (s *Service) resource(v *View) audit.Resource {
	res := audit.Resource{ID: v.ID, Type: audit.ResourceDocument}
	if v.PatientID != nil {
		res.PatientID = *v.PatientID
	}
	return res
}

// authorizeDocument loads a document and gates on its patient. NotFound is
// only reported to callers the gate allows.
func (s *Service) authorizeDocument(ctx context.Context, actor auth.Actor, capability auth.Capability,
	action string, id uuid.UUID) (*View, error) {
	view, err := s.repo.Get(ctx, id)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	res := audit.Resource{ID: id, Type: audit.ResourceDocument}
	if view != nil {
		res = s.resource(view)
	}
	if err := s.guard.Authorize(ctx, actor, capability, action, res); err != nil {
		return nil, err
	}
	if view == nil {
		return nil, apperr.NotFound("document")
	}
	return view, nil
}
