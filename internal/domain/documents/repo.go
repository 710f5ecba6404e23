package documents

import (
	"context"

	"github.com/google/uuid"
)

// Repository stores documents and signatures. There is no delete path and no
// way to move a document out of the signed state.
type Repository interface {
	Insert(ctx context.Context, d *Document) error
	// LockForSign reads the document row FOR UPDATE. It must run inside a
	// transaction.
	LockForSign(ctx context.Context, id uuid.UUID) (*Document, error)
	// MarkSigned flips a draft to signed. A document that is not a draft
	// yields an InvalidStateError.
	MarkSigned(ctx context.Context, id uuid.UUID) error
	InsertSignature(ctx context.Context, s *Signature) error
	Get(ctx context.Context, id uuid.UUID) (*View, error)
	// EventPatient resolves the patient of a live clinical event.
	EventPatient(ctx context.Context, eventID uuid.UUID) (uuid.UUID, error)
}
