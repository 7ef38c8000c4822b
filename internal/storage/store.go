// Package storage persists job records, per-event recording records, and
// transcript files.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/meetscribe/meetscribe/internal/queue"
	"github.com/meetscribe/meetscribe/internal/types"
)

// ErrNotFound means the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the SQLite-backed durable state: the job history and the
// per-event recording records that outlive pruned jobs.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if needed creates) the database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL UNIQUE,
		event_id TEXT NOT NULL,
		system_audio_path TEXT NOT NULL,
		mic_audio_path TEXT NOT NULL,
		model_name TEXT NOT NULL,
		status TEXT NOT NULL,
		mixed_audio_path TEXT NOT NULL DEFAULT '',
		transcript TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_event ON jobs(event_id);

	CREATE TABLE IF NOT EXISTS recordings (
		event_id TEXT PRIMARY KEY,
		system_audio_path TEXT NOT NULL DEFAULT '',
		mic_audio_path TEXT NOT NULL DEFAULT '',
		transcript_path TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL
	);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create tables: %v", err)
	}

	return &Store{db: db}, nil
}

// SaveJob upserts one job record. Called by the worker at every status
// transition.
func (s *Store) SaveJob(job *queue.Job) error {
	query := `
	INSERT INTO jobs (job_id, event_id, system_audio_path, mic_audio_path, model_name,
		status, mixed_audio_path, transcript, error, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(job_id) DO UPDATE SET
		status = excluded.status,
		mixed_audio_path = excluded.mixed_audio_path,
		transcript = excluded.transcript,
		error = excluded.error,
		updated_at = excluded.updated_at
	`

	_, err := s.db.Exec(query, job.ID, job.EventID, job.SystemAudioPath, job.MicAudioPath,
		job.ModelName, job.Status, job.MixedAudioPath, job.Transcript, job.Error,
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %v", job.ID, err)
	}
	return nil
}

// GetJob retrieves one job by id.
func (s *Store) GetJob(jobID string) (*queue.Job, error) {
	row := s.db.QueryRow(`
	SELECT job_id, event_id, system_audio_path, mic_audio_path, model_name,
		status, mixed_audio_path, transcript, error, created_at, updated_at
	FROM jobs WHERE job_id = ?`, jobID)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return job, err
}

// ListJobs returns the most recent jobs, newest first.
func (s *Store) ListJobs(limit int) ([]*queue.Job, error) {
	rows, err := s.db.Query(`
	SELECT job_id, event_id, system_audio_path, mic_audio_path, model_name,
		status, mixed_audio_path, transcript, error, created_at, updated_at
	FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %v", err)
	}
	defer rows.Close()

	var jobs []*queue.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// RestoreJobs classifies jobs left over from the previous run: jobs that
// never started go back to the queue, jobs interrupted mid-processing are
// marked failed so their raw audio remains retryable. Returns the jobs to
// re-enqueue and the number marked interrupted.
func (s *Store) RestoreJobs() ([]*queue.Job, int, error) {
	rows, err := s.db.Query(`
	SELECT job_id, event_id, system_audio_path, mic_audio_path, model_name,
		status, mixed_audio_path, transcript, error, created_at, updated_at
	FROM jobs WHERE status NOT IN (?, ?) ORDER BY created_at ASC`,
		types.StatusCompleted, types.StatusFailed)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to restore jobs: %v", err)
	}
	defer rows.Close()

	var requeue []*queue.Job
	var interrupted []*queue.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			continue
		}
		if job.Status == types.StatusQueued {
			requeue = append(requeue, job)
		} else {
			interrupted = append(interrupted, job)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for _, job := range interrupted {
		job.Status = types.StatusFailed
		job.Error = "interrupted by shutdown"
		job.UpdatedAt = time.Now()
		if err := s.SaveJob(job); err != nil {
			return nil, 0, err
		}
	}

	return requeue, len(interrupted), nil
}

// SaveRecordingAudio upserts the raw audio paths for one event. The paths
// are kept even after the job history is pruned so a retry stays possible.
func (s *Store) SaveRecordingAudio(eventID, systemAudioPath, micAudioPath string) error {
	query := `
	INSERT INTO recordings (event_id, system_audio_path, mic_audio_path, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(event_id) DO UPDATE SET
		system_audio_path = excluded.system_audio_path,
		mic_audio_path = excluded.mic_audio_path,
		updated_at = excluded.updated_at
	`
	_, err := s.db.Exec(query, eventID, systemAudioPath, micAudioPath, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save recording for %s: %v", eventID, err)
	}
	return nil
}

// SetTranscriptPath records where the transcript for an event was written.
func (s *Store) SetTranscriptPath(eventID, transcriptPath string) error {
	return s.touchRecording(eventID, "transcript_path", transcriptPath)
}

// SetSummary stores a summary produced by an external collaborator.
func (s *Store) SetSummary(eventID, summary string) error {
	return s.touchRecording(eventID, "summary", summary)
}

// SetNotes stores user notes for an event.
func (s *Store) SetNotes(eventID, notes string) error {
	return s.touchRecording(eventID, "notes", notes)
}

func (s *Store) touchRecording(eventID, column, value string) error {
	query := fmt.Sprintf(`
	INSERT INTO recordings (event_id, %s, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(event_id) DO UPDATE SET %s = excluded.%s, updated_at = excluded.updated_at
	`, column, column, column)
	_, err := s.db.Exec(query, eventID, value, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update recording %s: %v", eventID, err)
	}
	return nil
}

// GetRecording retrieves the per-event record.
func (s *Store) GetRecording(eventID string) (*types.RecordingRecord, error) {
	row := s.db.QueryRow(`
	SELECT event_id, system_audio_path, mic_audio_path, transcript_path, summary, notes, updated_at
	FROM recordings WHERE event_id = ?`, eventID)

	var rec types.RecordingRecord
	err := row.Scan(&rec.EventID, &rec.SystemAudioPath, &rec.MicAudioPath,
		&rec.TranscriptPath, &rec.Summary, &rec.Notes, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recording %s: %w", eventID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recording %s: %v", eventID, err)
	}
	return &rec, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*queue.Job, error) {
	var job queue.Job
	err := row.Scan(&job.ID, &job.EventID, &job.SystemAudioPath, &job.MicAudioPath,
		&job.ModelName, &job.Status, &job.MixedAudioPath, &job.Transcript, &job.Error,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &job, nil
}
