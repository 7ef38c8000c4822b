package types

import "time"

// Job status constants
const (
	StatusQueued       = "queued"
	StatusMixing       = "mixing"
	StatusTranscribing = "transcribing"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
)

// IsTerminal reports whether a job status is final.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Relay message type constants (capture page -> host)
const (
	RelayTypeStatus   = "status"
	RelayTypeMicChunk = "mic_chunk"
	RelayTypeTabChunk = "tab_chunk"
)

// Relay status value constants
const (
	RelayStatusRecordingStarted = "recording_started"
	RelayStatusStopped          = "stopped"
	RelayStatusError            = "error"
)

// RelayEnvelope is one JSON text frame on the capture socket.
// Audio bytes travel base64-encoded in Data.
type RelayEnvelope struct {
	Type    string `json:"type"`
	EventID string `json:"eventId"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	Data    string `json:"data,omitempty"`
}

// RelayCommand is a host -> capture page frame.
type RelayCommand struct {
	Command string `json:"command"`
	EventID string `json:"eventId"`
}

// Event kinds published on the UI event stream
const (
	EventSession = "session"
	EventJob     = "job"
	EventError   = "error"
)

// Event is one entry on the host -> UI event stream.
type Event struct {
	Type       string    `json:"type"`
	State      string    `json:"state,omitempty"`
	JobID      string    `json:"jobId,omitempty"`
	EventID    string    `json:"eventId,omitempty"`
	Status     string    `json:"status,omitempty"`
	Progress   int       `json:"progress,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
	Error      string    `json:"error,omitempty"`
	Message    string    `json:"message,omitempty"`
	At         time.Time `json:"at"`
}

// RecordingRecord is the persisted per-event record: where the raw audio
// and the transcript for one meeting ended up. Raw paths are kept even after
// the job record is pruned so a retry stays possible.
type RecordingRecord struct {
	EventID         string    `json:"event_id"`
	SystemAudioPath string    `json:"system_audio_path"`
	MicAudioPath    string    `json:"mic_audio_path"`
	TranscriptPath  string    `json:"transcript_path"`
	Summary         string    `json:"summary"`
	Notes           string    `json:"notes"`
	UpdatedAt       time.Time `json:"updated_at"`
}
