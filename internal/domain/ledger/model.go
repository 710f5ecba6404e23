package ledger

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ClinicalEvent is one clinical fact on a patient's record. Payload always
// mirrors the version numbered CurrentVersion.
type ClinicalEvent struct {
	ID             uuid.UUID       `json:"id"`
	PatientID      uuid.UUID       `json:"patient_id"`
	ProfessionalID uuid.UUID       `json:"professional_id"`
	EncounterID    *uuid.UUID      `json:"encounter_id,omitempty"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	CurrentVersion int             `json:"current_version"`
	Deleted        bool            `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
}

// EventVersion is an immutable payload snapshot. Versions of one event are
// numbered 1..n without gaps.
type EventVersion struct {
	EventID        uuid.UUID       `json:"event_id"`
	Version        int             `json:"version"`
	Payload        json.RawMessage `json:"payload"`
	ProfessionalID uuid.UUID       `json:"professional_id"`
	Reason         *string         `json:"reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Professional holds the display attributes joined onto timeline entries.
type Professional struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	Specialty   *string   `json:"specialty,omitempty"`
}

type TimelineEntry struct {
	ClinicalEvent
	Professional Professional `json:"professional"`
}

// TimelineQuery selects a page of a patient's timeline. From is inclusive,
// To exclusive.
type TimelineQuery struct {
	PatientID  uuid.UUID
	From       *time.Time
	To         *time.Time
	EventTypes []string
	Limit      int
	Offset     int
}

// NewEvent is the input of Service.AppendEvent.
type NewEvent struct {
	PatientID      uuid.UUID
	ProfessionalID uuid.UUID
	EncounterID    *uuid.UUID
	EventType      string
	Payload        json.RawMessage
}

// Amendment is the input of Service.AmendEvent.
type Amendment struct {
	EventID        uuid.UUID
	ProfessionalID uuid.UUID
	Payload        json.RawMessage
	Reason         string
}

// EventHead is the row state read under lock before an amendment.
type EventHead struct {
	PatientID      uuid.UUID
	EventType      string
	CurrentVersion int
	Deleted        bool
}
