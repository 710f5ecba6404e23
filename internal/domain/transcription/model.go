package transcription

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job tracks one voice-to-text request. EventID is set once the transcript
// has been attached to the patient's record.
type Job struct {
	ID          uuid.UUID  `json:"id"`
	PatientID   *uuid.UUID `json:"patient_id,omitempty"`
	SubmittedBy *uuid.UUID `json:"submitted_by,omitempty"`
	AudioRef    string     `json:"audio_ref"`
	Status      Status     `json:"status"`
	Text        *string    `json:"text,omitempty"`
	Error       *string    `json:"error,omitempty"`
	EventID     *uuid.UUID `json:"event_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type SubmitRequest struct {
	AudioRef  string
	PatientID *uuid.UUID
}

// AttachRequest names where a completed transcript lands. PatientID is only
// needed when the job was submitted without one.
type AttachRequest struct {
	JobID          uuid.UUID
	PatientID      *uuid.UUID
	ProfessionalID uuid.UUID
}
