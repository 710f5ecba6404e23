package documents

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusDraft  Status = "draft"
	StatusSigned Status = "signed"
)

// Document is a draft or signed clinical or legal artifact. Once Status is
// signed, Content and Status are frozen.
type Document struct {
	ID           uuid.UUID  `json:"id"`
	EventID      *uuid.UUID `json:"event_id,omitempty"`
	PatientID    *uuid.UUID `json:"patient_id,omitempty"`
	DocumentType string     `json:"document_type"`
	Content      string     `json:"content"`
	Status       Status     `json:"status"`
	CreatedBy    *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Certificate describes the simulated certificate a signature was issued
// under.
type Certificate struct {
	Issuer    string    `json:"issuer"`
	Subject   string    `json:"subject"`
	Serial    string    `json:"serial"`
	Algorithm string    `json:"algorithm"`
	IssuedAt  time.Time `json:"issued_at"`
}

// Signature is the attestation tying a signer to a signed document. There is
// at most one per document and it is never changed.
type Signature struct {
	DocumentID    uuid.UUID   `json:"document_id"`
	SignerID      uuid.UUID   `json:"signer_id"`
	Token         string      `json:"signature_token"`
	ContentSHA256 string      `json:"content_sha256"`
	Certificate   Certificate `json:"certificate"`
	SignedAt      time.Time   `json:"signed_at"`
}

// View is a document joined with its signature, if any. Intact reports
// whether the current content still hashes to the signed digest.
type View struct {
	Document
	Signature *Signature `json:"signature,omitempty"`
	Intact    *bool      `json:"intact,omitempty"`
}

type NewDraft struct {
	EventID      *uuid.UUID
	DocumentType string
	Content      string
}

type SignRequest struct {
	DocumentID uuid.UUID
	SignerID   uuid.UUID
	// CertificateToken is the caller's simulated certificate. It is
	// fingerprinted into the certificate serial and never stored.
	CertificateToken string
}
