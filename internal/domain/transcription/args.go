package transcription

import (
	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

const (
	QueueName   = "transcription"
	maxAttempts = 5
)

// JobArgs is the River payload for a transcription run.
type JobArgs struct {
	JobID uuid.UUID `json:"job_id"`
}

func (JobArgs) Kind() string { return "transcription" }

func (JobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: maxAttempts,
		Queue:       QueueName,
	}
}
