// Package queue holds pending transcription jobs and the single worker
// that processes them one at a time.
package queue

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/meetscribe/meetscribe/internal/types"
)

// Mixer merges or normalizes raw capture files into the engine's format.
type Mixer interface {
	Mix(ctx context.Context, systemAudioPath, micAudioPath, outputPath string) (string, error)
	Normalize(ctx context.Context, inputPath, outputPath string) (string, error)
}

// Transcriber turns one mixed audio file into transcript text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, onProgress func(pct int)) (string, error)
}

// Store persists job records and per-event recording records.
type Store interface {
	SaveJob(job *Job) error
	GetJob(id string) (*Job, error)
	SaveRecordingAudio(eventID, systemAudioPath, micAudioPath string) error
	SetTranscriptPath(eventID, transcriptPath string) error
}

// TranscriptSink writes completed transcript text somewhere durable and
// returns the resulting path.
type TranscriptSink interface {
	SaveTranscript(eventID, jobID, transcript string) (string, error)
}

// EventPublisher receives one event per job status transition.
type EventPublisher interface {
	Publish(ev types.Event)
}

// Queue is a FIFO of jobs plus the busy flag that enforces at-most-one
// concurrent mix+transcribe.
type Queue struct {
	mixer       Mixer
	transcriber Transcriber
	store       Store
	sink        TranscriptSink
	bus         EventPublisher
	tempDir     string
	modelName   string

	mu      sync.Mutex
	pending []*Job
	busy    bool

	wake chan struct{}
	stop chan struct{}
	once sync.Once
}

// NewQueue wires a queue and its single worker. Start must be called
// before jobs are processed.
func NewQueue(
	mixer Mixer,
	transcriber Transcriber,
	store Store,
	sink TranscriptSink,
	bus EventPublisher,
	tempDir string,
	modelName string,
) *Queue {
	return &Queue{
		mixer:       mixer,
		transcriber: transcriber,
		store:       store,
		sink:        sink,
		bus:         bus,
		tempDir:     tempDir,
		modelName:   modelName,
		wake:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (q *Queue) Start() {
	log.Println("Transcription worker started")
	go q.loop()
}

// Shutdown stops the worker after the current job finishes.
func (q *Queue) Shutdown() {
	q.once.Do(func() { close(q.stop) })
}

// Enqueue durably appends a job and triggers processing if the worker is
// idle. It always succeeds immediately; persistence failures are logged,
// not surfaced, so a recording is never dropped over a bookkeeping error.
func (q *Queue) Enqueue(eventID, systemAudioPath, micAudioPath string) *Job {
	job := NewJob(eventID, systemAudioPath, micAudioPath, q.modelName)

	if err := q.store.SaveJob(job); err != nil {
		log.Printf("Failed to persist job %s: %v", job.ID, err)
	}
	if err := q.store.SaveRecordingAudio(eventID, systemAudioPath, micAudioPath); err != nil {
		log.Printf("Failed to persist recording record for %s: %v", eventID, err)
	}

	q.mu.Lock()
	q.pending = append(q.pending, job)
	q.mu.Unlock()

	log.Printf("Job %s enqueued (event: %s)", job.ID, eventID)
	q.publish(job, 0)
	q.kick()
	return job
}

// Resume re-queues jobs recovered from the store after a restart.
func (q *Queue) Resume(jobs []*Job) {
	if len(jobs) == 0 {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, jobs...)
	q.mu.Unlock()
	log.Printf("Resumed %d queued job(s) from previous run", len(jobs))
	q.kick()
}

// Retry creates a brand-new job referencing the same source audio as a
// failed one. Fails with ErrNoRecoverableAudio if every surviving source
// path is gone.
func (q *Queue) Retry(jobID string) (*Job, error) {
	old, err := q.store.GetJob(jobID)
	if err != nil {
		return nil, fmt.Errorf("looking up job %s: %w", jobID, err)
	}
	if old.Status != types.StatusFailed {
		return nil, fmt.Errorf("job %s is %s, only failed jobs can be retried", jobID, old.Status)
	}

	systemPath := existingPath(old.SystemAudioPath)
	micPath := existingPath(old.MicAudioPath)
	if systemPath == "" && micPath == "" {
		return nil, ErrNoRecoverableAudio
	}

	return q.Enqueue(old.EventID, systemPath, micPath), nil
}

// Pending returns copies of the not-yet-started jobs, FIFO order.
func (q *Queue) Pending() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Job, 0, len(q.pending))
	for _, job := range q.pending {
		out = append(out, job.Clone())
	}
	return out
}

// Busy reports whether a job is currently processing.
func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.busy
}

func (q *Queue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) loop() {
	for {
		select {
		case <-q.stop:
			return
		case <-q.wake:
		}

		for {
			job := q.take()
			if job == nil {
				break
			}
			q.runJob(job)
			q.mu.Lock()
			q.busy = false
			q.mu.Unlock()
		}
	}
}

// take pops the FIFO head and marks the queue busy, or returns nil when
// there is nothing to do or a job is already running.
func (q *Queue) take() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.busy || len(q.pending) == 0 {
		return nil
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	q.busy = true
	return job
}

// runJob drives one job through mixing -> transcribing -> terminal state.
// A panic in any stage fails the job instead of killing the worker.
func (q *Queue) runJob(job *Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC processing job %s: %v\n%s", job.ID, r, string(debug.Stack()))
			q.failJob(job, fmt.Errorf("worker panic: %v", r))
		}
	}()

	ctx := context.Background()

	q.setStatus(job, types.StatusMixing)

	mixedPath, err := q.mixStage(ctx, job)
	if err != nil {
		q.failJob(job, err)
		return
	}

	job.MixedAudioPath = mixedPath
	q.setStatus(job, types.StatusTranscribing)

	transcript, err := q.transcriber.Transcribe(ctx, mixedPath, func(pct int) {
		q.publish(job, pct)
	})
	if err != nil {
		q.failJob(job, err)
		return
	}

	job.Transcript = transcript
	q.setStatus(job, types.StatusCompleted)

	if transcriptPath, err := q.sink.SaveTranscript(job.EventID, job.ID, transcript); err != nil {
		log.Printf("Failed to save transcript for job %s: %v", job.ID, err)
	} else if err := q.store.SetTranscriptPath(job.EventID, transcriptPath); err != nil {
		log.Printf("Failed to record transcript path for %s: %v", job.EventID, err)
	}

	// Success consumes the recording: raw per-stream files and the mixed
	// file are all disposable now.
	q.removeFiles(job.SystemAudioPath, job.MicAudioPath, job.MixedAudioPath)
	log.Printf("Job %s completed (%d chars)", job.ID, len(transcript))
}

// mixStage produces the single 16 kHz mono file for the engine. With both
// streams present it mixes; with one it normalizes; with none the recording
// was finalized empty, which is a job error.
func (q *Queue) mixStage(ctx context.Context, job *Job) (string, error) {
	outputPath := filepath.Join(q.tempDir, fmt.Sprintf("mixed_%s.wav", job.ID))

	switch {
	case job.SystemAudioPath != "" && job.MicAudioPath != "":
		return q.mixer.Mix(ctx, job.SystemAudioPath, job.MicAudioPath, outputPath)
	case job.SystemAudioPath != "":
		return q.mixer.Normalize(ctx, job.SystemAudioPath, outputPath)
	case job.MicAudioPath != "":
		return q.mixer.Normalize(ctx, job.MicAudioPath, outputPath)
	default:
		return "", fmt.Errorf("job %s has no source audio", job.ID)
	}
}

// failJob marks the job failed. Only the mixed file is deleted: the raw
// per-stream files are what a manual retry needs.
func (q *Queue) failJob(job *Job, err error) {
	job.Error = err.Error()
	log.Printf("Job %s failed during %s: %v", job.ID, job.Status, err)
	q.setStatus(job, types.StatusFailed)
	q.removeFiles(job.MixedAudioPath)
}

func (q *Queue) setStatus(job *Job, status string) {
	job.Status = status
	job.UpdatedAt = time.Now()
	if err := q.store.SaveJob(job); err != nil {
		log.Printf("Failed to persist job %s at %s: %v", job.ID, status, err)
	}
	q.publish(job, 0)
}

func (q *Queue) publish(job *Job, progress int) {
	q.bus.Publish(types.Event{
		Type:       types.EventJob,
		JobID:      job.ID,
		EventID:    job.EventID,
		Status:     job.Status,
		Progress:   progress,
		Transcript: job.Transcript,
		Error:      job.Error,
	})
}

func (q *Queue) removeFiles(paths ...string) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("Failed to remove temp file %s: %v", path, err)
		}
	}
}

func existingPath(path string) string {
	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
