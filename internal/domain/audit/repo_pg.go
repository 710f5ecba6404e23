package audit

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/ehr/clinicledger/internal/platform/db"
)

type repoPG struct{ db db.DB }

func NewRepoPG(handle db.DB) Repository { return &repoPG{db: handle} }

const insertEntry = `INSERT INTO audit_log
	(id, actor_id, actor_role, patient_id, resource_id, resource_type, action, detail, request_id, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// Append joins the transaction bound to ctx, if any, so the entry commits or
// rolls back with the change it describes.
func (r *repoPG) Append(ctx context.Context, e *Entry) error {
	var detail []byte
	if len(e.Detail) > 0 {
		b, err := json.Marshal(e.Detail)
		if err != nil {
			return errors.Wrap(err, "marshal audit detail")
		}
		detail = b
	}

	var resourceType, requestID *string
	if e.ResourceType != "" {
		resourceType = &e.ResourceType
	}
	if e.RequestID != "" {
		requestID = &e.RequestID
	}

	_, err := db.Conn(ctx, r.db).Exec(ctx, insertEntry,
		e.ID, e.ActorID, e.ActorRole, e.PatientID, e.ResourceID, resourceType,
		e.Action, detail, requestID, e.CreatedAt)
	return err
}
