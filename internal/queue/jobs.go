package queue

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/meetscribe/meetscribe/internal/types"
)

// ErrNoRecoverableAudio means a retry was requested but the source audio
// files were already cleaned up.
var ErrNoRecoverableAudio = errors.New("no recoverable audio for retry")

// Job is one durable mix-then-transcribe unit of work. Transitions are
// owned exclusively by the queue worker and persisted at each step.
type Job struct {
	ID              string
	EventID         string
	SystemAudioPath string
	MicAudioPath    string
	ModelName       string
	Status          string
	MixedAudioPath  string
	Transcript      string
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewJob creates a queued job for one finalized recording. Either audio
// path may be empty when that stream produced no audio, but not both.
func NewJob(eventID, systemAudioPath, micAudioPath, modelName string) *Job {
	now := time.Now()
	return &Job{
		ID:              uuid.New().String(),
		EventID:         eventID,
		SystemAudioPath: systemAudioPath,
		MicAudioPath:    micAudioPath,
		ModelName:       modelName,
		Status:          types.StatusQueued,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Clone returns a copy safe to hand to readers outside the worker.
func (j *Job) Clone() *Job {
	copied := *j
	return &copied
}
