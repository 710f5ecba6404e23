package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinicledger/internal/platform/auth"
)

// Action tags written to audit_log.action.
const (
	ActionView   = "view"
	ActionCreate = "create"
	ActionAmend  = "amend"
	ActionDelete = "delete"
	ActionSign   = "sign"
	ActionSubmit = "submit"
)

// DeniedAction is the tag recorded when the gate refuses action.
func DeniedAction(action string) string {
	return action + "_denied"
}

// Resource type tags.
const (
	ResourceTimeline      = "timeline"
	ResourceEvent         = "clinical_event"
	ResourceEventVersion  = "clinical_event_version"
	ResourceDocument      = "document"
	ResourceTranscription = "transcription_job"
)

// Resource is what an audited operation touched. Zero ids are stored as NULL.
type Resource struct {
	PatientID uuid.UUID
	ID        uuid.UUID
	Type      string
}

// Entry is one immutable audit_log row.
type Entry struct {
	ID           uuid.UUID              `json:"id"`
	ActorID      *uuid.UUID             `json:"actor_id,omitempty"`
	ActorRole    string                 `json:"actor_role"`
	PatientID    *uuid.UUID             `json:"patient_id,omitempty"`
	ResourceID   *uuid.UUID             `json:"resource_id,omitempty"`
	ResourceType string                 `json:"resource_type,omitempty"`
	Action       string                 `json:"action"`
	Detail       map[string]interface{} `json:"detail,omitempty"`
	RequestID    string                 `json:"request_id,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

func NewEntry(actor auth.Actor, action string, res Resource) *Entry {
	return &Entry{
		ActorID:      actor.IDPtr(),
		ActorRole:    actor.Role.String(),
		PatientID:    nullable(res.PatientID),
		ResourceID:   nullable(res.ID),
		ResourceType: res.Type,
		Action:       action,
	}
}

// With adds a detail key and returns the entry for chaining.
func (e *Entry) With(key string, value interface{}) *Entry {
	if e.Detail == nil {
		e.Detail = make(map[string]interface{})
	}
	e.Detail[key] = value
	return e
}

func nullable(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
