package ledger

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Repository is the ledger's storage. Writes join the transaction carried by
// ctx. There is no method that updates or removes a version.
type Repository interface {
	InsertEvent(ctx context.Context, e *ClinicalEvent) error
	InsertVersion(ctx context.Context, v *EventVersion) error
	// LockHead reads the event row FOR UPDATE. It must run inside a transaction.
	LockHead(ctx context.Context, id uuid.UUID) (*EventHead, error)
	// Repoint moves current_version from version-1 to version and stores payload.
	Repoint(ctx context.Context, id uuid.UUID, version int, payload json.RawMessage) error
	MarkDeleted(ctx context.Context, id uuid.UUID) error

	GetByID(ctx context.Context, id uuid.UUID) (*ClinicalEvent, error)
	ListVersions(ctx context.Context, id uuid.UUID) ([]*EventVersion, error)
	Timeline(ctx context.Context, q TimelineQuery) ([]*TimelineEntry, int, error)
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
}
