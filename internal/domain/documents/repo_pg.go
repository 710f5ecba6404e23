package documents

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/ehr/clinicledger/internal/platform/apperr"
	"github.com/ehr/clinicledger/internal/platform/db"
)

type repoPG struct{ db db.DB }

func NewRepoPG(handle db.DB) Repository { return &repoPG{db: handle} }

func (r *repoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.db) }

func (r *repoPG) Insert(ctx context.Context, d *Document) error {
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO document
		(id, event_id, document_type, content, status, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.EventID, d.DocumentType, d.Content, string(d.Status), d.CreatedBy, d.CreatedAt)
	return db.Classify(err, "insert document")
}

func (r *repoPG) LockForSign(ctx context.Context, id uuid.UUID) (*Document, error) {
	if db.TxFromContext(ctx) == nil {
		return nil, errors.AssertionFailedf("LockForSign called outside a transaction")
	}
	d := Document{ID: id}
	var status string
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT content, status FROM document WHERE id = $1 FOR UPDATE`, id).
		Scan(&d.Content, &status)
	if err != nil {
		return nil, db.Classify(err, "document")
	}
	d.Status = Status(status)
	return &d, nil
}

func (r *repoPG) MarkSigned(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE document SET status = 'signed' WHERE id = $1 AND status = 'draft'`, id)
	if err != nil {
		return db.Classify(err, "sign document")
	}
	if tag.RowsAffected() != 1 {
		return apperr.InvalidState("document is already signed")
	}
	return nil
}

func (r *repoPG) InsertSignature(ctx context.Context, s *Signature) error {
	cert, err := json.Marshal(s.Certificate)
	if err != nil {
		return errors.Wrap(err, "marshal certificate")
	}
	_, err = r.conn(ctx).Exec(ctx, `INSERT INTO document_signature
		(document_id, signer_id, signature_token, content_sha256, certificate, signed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.DocumentID, s.SignerID, s.Token, s.ContentSHA256, cert, s.SignedAt)
	if db.IsUniqueViolation(err, "document_signature_pkey") {
		return apperr.InvalidState("document is already signed")
	}
	return db.Classify(err, "insert document signature")
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*View, error) {
	var (
		v        View
		status   string
		signerID *uuid.UUID
		token    *string
		digest   *string
		cert     []byte
		signedAt *time.Time
	)
	err := r.conn(ctx).QueryRow(ctx, `SELECT d.id, d.event_id, e.patient_id, d.document_type, d.content,
			d.status, d.created_by, d.created_at,
			s.signer_id, s.signature_token, s.content_sha256, s.certificate, s.signed_at
		FROM document d
		LEFT JOIN clinical_event e ON e.id = d.event_id
		LEFT JOIN document_signature s ON s.document_id = d.id
		WHERE d.id = $1`, id).
		Scan(&v.ID, &v.EventID, &v.PatientID, &v.DocumentType, &v.Content,
			&status, &v.CreatedBy, &v.CreatedAt,
			&signerID, &token, &digest, &cert, &signedAt)
	if err != nil {
		return nil, db.Classify(err, "document")
	}
	v.Status = Status(status)

	if signerID != nil {
		sig := &Signature{DocumentID: v.ID, SignerID: *signerID}
		if token != nil {
			sig.Token = *token
		}
		if digest != nil {
			sig.ContentSHA256 = *digest
		}
		if signedAt != nil {
			sig.SignedAt = *signedAt
		}
		if len(cert) > 0 {
			if err := json.Unmarshal(cert, &sig.Certificate); err != nil {
				return nil, apperr.Persistence(err, "decode certificate")
			}
		}
		v.Signature = sig
	}
	return &v, nil
}

func (r *repoPG) EventPatient(ctx context.Context, eventID uuid.UUID) (uuid.UUID, error) {
	var patient uuid.UUID
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT patient_id FROM clinical_event WHERE id = $1 AND NOT deleted`, eventID).
		Scan(&patient)
	if err != nil {
		return uuid.Nil, db.Classify(err, "clinical event")
	}
	return patient, nil
}
