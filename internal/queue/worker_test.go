package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meetscribe/meetscribe/internal/types"
)

type fakeMixer struct {
	mu       sync.Mutex
	mixCalls int
	failWith error
}

func (m *fakeMixer) Mix(ctx context.Context, systemPath, micPath, outputPath string) (string, error) {
	return m.produce(outputPath)
}

func (m *fakeMixer) Normalize(ctx context.Context, inputPath, outputPath string) (string, error) {
	return m.produce(outputPath)
}

func (m *fakeMixer) produce(outputPath string) (string, error) {
	m.mu.Lock()
	m.mixCalls++
	failWith := m.failWith
	m.mu.Unlock()
	if failWith != nil {
		return "", failWith
	}
	if err := os.WriteFile(outputPath, []byte("mixed"), 0o644); err != nil {
		return "", err
	}
	return outputPath, nil
}

type fakeTranscriber struct {
	mu       sync.Mutex
	calls    []string
	result   string
	failWith error
	gate     chan struct{} // when non-nil, Transcribe blocks until closed
}

func (t *fakeTranscriber) Transcribe(ctx context.Context, audioPath string, onProgress func(int)) (string, error) {
	t.mu.Lock()
	t.calls = append(t.calls, audioPath)
	gate := t.gate
	failWith := t.failWith
	t.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if failWith != nil {
		return "", failWith
	}
	if onProgress != nil {
		onProgress(50)
		onProgress(100)
	}
	return t.result, nil
}

func (t *fakeTranscriber) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

type fakeStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]*Job)}
}

func (s *fakeStore) SaveJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *fakeStore) GetJob(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}
	return job.Clone(), nil
}

func (s *fakeStore) SaveRecordingAudio(eventID, systemPath, micPath string) error { return nil }
func (s *fakeStore) SetTranscriptPath(eventID, transcriptPath string) error       { return nil }

type fakeSink struct{}

func (fakeSink) SaveTranscript(eventID, jobID, transcript string) (string, error) {
	return "/transcripts/" + jobID + ".txt", nil
}

type captureBus struct {
	mu     sync.Mutex
	events []types.Event
}

func (b *captureBus) Publish(ev types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *captureBus) statusesFor(jobID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, ev := range b.events {
		if ev.JobID == jobID && (len(out) == 0 || out[len(out)-1] != ev.Status) {
			out = append(out, ev.Status)
		}
	}
	return out
}

type rig struct {
	queue       *Queue
	mixer       *fakeMixer
	transcriber *fakeTranscriber
	store       *fakeStore
	bus         *captureBus
	tempDir     string
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		mixer:       &fakeMixer{},
		transcriber: &fakeTranscriber{result: "hello world"},
		store:       newFakeStore(),
		bus:         &captureBus{},
		tempDir:     t.TempDir(),
	}
	r.queue = NewQueue(r.mixer, r.transcriber, r.store, fakeSink{}, r.bus, r.tempDir, "base.en")
	r.queue.Start()
	t.Cleanup(r.queue.Shutdown)
	return r
}

func (r *rig) writeAudio(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(r.tempDir, name)
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))
	return path
}

func (r *rig) waitTerminal(t *testing.T, jobID string) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		stored, err := r.store.GetJob(jobID)
		if err != nil || !types.IsTerminal(stored.Status) {
			return false
		}
		job = stored
		return true
	}, 3*time.Second, 10*time.Millisecond)
	return job
}

func TestJobCompletesWithStatusSequence(t *testing.T) {
	r := newRig(t)
	sys := r.writeAudio(t, "sys.webm")
	mic := r.writeAudio(t, "mic.webm")

	job := r.queue.Enqueue("evt-1", sys, mic)
	done := r.waitTerminal(t, job.ID)

	require.Equal(t, types.StatusCompleted, done.Status)
	require.Equal(t, "hello world", done.Transcript)
	require.NotEmpty(t, done.MixedAudioPath)
	require.Equal(t,
		[]string{types.StatusQueued, types.StatusMixing, types.StatusTranscribing, types.StatusCompleted},
		r.bus.statusesFor(job.ID))
}

func TestCompletedJobDeletesAllTempFiles(t *testing.T) {
	r := newRig(t)
	sys := r.writeAudio(t, "sys.webm")
	mic := r.writeAudio(t, "mic.webm")

	job := r.queue.Enqueue("evt-1", sys, mic)
	done := r.waitTerminal(t, job.ID)

	require.NoFileExists(t, sys)
	require.NoFileExists(t, mic)
	require.NoFileExists(t, done.MixedAudioPath)
}

func TestMixFailureShortCircuitsToFailed(t *testing.T) {
	r := newRig(t)
	r.mixer.failWith = errors.New("mixer input /tmp/mic.webm: no such file")
	sys := r.writeAudio(t, "sys.webm")

	job := r.queue.Enqueue("evt-1", sys, "/tmp/mic.webm")
	done := r.waitTerminal(t, job.ID)

	require.Equal(t, types.StatusFailed, done.Status)
	require.Contains(t, done.Error, "/tmp/mic.webm")
	require.Empty(t, done.MixedAudioPath)
	require.Zero(t, r.transcriber.callCount())
	require.Equal(t,
		[]string{types.StatusQueued, types.StatusMixing, types.StatusFailed},
		r.bus.statusesFor(job.ID))
}

func TestFailedTranscriptionKeepsRawAudio(t *testing.T) {
	r := newRig(t)
	r.transcriber.failWith = errors.New("engine crashed")
	sys := r.writeAudio(t, "sys.webm")
	mic := r.writeAudio(t, "mic.webm")

	job := r.queue.Enqueue("evt-1", sys, mic)
	done := r.waitTerminal(t, job.ID)

	require.Equal(t, types.StatusFailed, done.Status)
	// Mixed file is gone; raw files survive for a manual retry.
	require.NoFileExists(t, done.MixedAudioPath)
	require.FileExists(t, sys)
	require.FileExists(t, mic)
}

func TestFIFOOrderAndSingleConcurrency(t *testing.T) {
	r := newRig(t)
	gate := make(chan struct{})
	r.transcriber.gate = gate

	sys1 := r.writeAudio(t, "sys1.webm")
	mic1 := r.writeAudio(t, "mic1.webm")
	sys2 := r.writeAudio(t, "sys2.webm")
	mic2 := r.writeAudio(t, "mic2.webm")

	job1 := r.queue.Enqueue("evt-1", sys1, mic1)
	job2 := r.queue.Enqueue("evt-2", sys2, mic2)

	// First job reaches the transcriber and blocks there.
	require.Eventually(t, func() bool { return r.transcriber.callCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.True(t, r.queue.Busy())

	// Second job must not start while the first is in flight.
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, r.transcriber.callCount())
	stored2, err := r.store.GetJob(job2.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusQueued, stored2.Status)

	close(gate)
	done1 := r.waitTerminal(t, job1.ID)
	done2 := r.waitTerminal(t, job2.ID)
	require.Equal(t, types.StatusCompleted, done1.Status)
	require.Equal(t, types.StatusCompleted, done2.Status)
	require.True(t, done2.UpdatedAt.After(done1.UpdatedAt) || done2.UpdatedAt.Equal(done1.UpdatedAt))
}

func TestSingleStreamJobNormalizesInsteadOfMixing(t *testing.T) {
	r := newRig(t)
	mic := r.writeAudio(t, "mic.webm")

	job := r.queue.Enqueue("evt-1", "", mic)
	done := r.waitTerminal(t, job.ID)

	require.Equal(t, types.StatusCompleted, done.Status)
}

func TestRetryCreatesNewJobWithSamePaths(t *testing.T) {
	r := newRig(t)
	r.transcriber.failWith = errors.New("engine crashed")
	sys := r.writeAudio(t, "sys.webm")
	mic := r.writeAudio(t, "mic.webm")

	job := r.queue.Enqueue("evt-1", sys, mic)
	r.waitTerminal(t, job.ID)

	r.transcriber.failWith = nil
	retried, err := r.queue.Retry(job.ID)
	require.NoError(t, err)
	require.NotEqual(t, job.ID, retried.ID)
	require.Equal(t, sys, retried.SystemAudioPath)
	require.Equal(t, mic, retried.MicAudioPath)

	done := r.waitTerminal(t, retried.ID)
	require.Equal(t, types.StatusCompleted, done.Status)
}

func TestRetryWithoutSourceAudioFails(t *testing.T) {
	r := newRig(t)
	r.transcriber.failWith = errors.New("engine crashed")
	sys := r.writeAudio(t, "sys.webm")
	mic := r.writeAudio(t, "mic.webm")

	job := r.queue.Enqueue("evt-1", sys, mic)
	r.waitTerminal(t, job.ID)

	require.NoError(t, os.Remove(sys))
	require.NoError(t, os.Remove(mic))

	_, err := r.queue.Retry(job.ID)
	require.ErrorIs(t, err, ErrNoRecoverableAudio)
}

func TestRetryRejectsNonFailedJob(t *testing.T) {
	r := newRig(t)
	sys := r.writeAudio(t, "sys.webm")
	mic := r.writeAudio(t, "mic.webm")

	job := r.queue.Enqueue("evt-1", sys, mic)
	r.waitTerminal(t, job.ID)

	_, err := r.queue.Retry(job.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "only failed jobs")
}

func TestResumeProcessesRecoveredJobs(t *testing.T) {
	r := newRig(t)
	sys := r.writeAudio(t, "sys.webm")
	mic := r.writeAudio(t, "mic.webm")

	job := NewJob("evt-old", sys, mic, "base.en")
	require.NoError(t, r.store.SaveJob(job))

	r.queue.Resume([]*Job{job})
	done := r.waitTerminal(t, job.ID)
	require.Equal(t, types.StatusCompleted, done.Status)
}

func TestTranscribeProgressIsPublished(t *testing.T) {
	r := newRig(t)
	sys := r.writeAudio(t, "sys.webm")
	mic := r.writeAudio(t, "mic.webm")

	job := r.queue.Enqueue("evt-1", sys, mic)
	r.waitTerminal(t, job.ID)

	r.bus.mu.Lock()
	defer r.bus.mu.Unlock()
	var progress []int
	for _, ev := range r.bus.events {
		if ev.JobID == job.ID && ev.Progress > 0 {
			progress = append(progress, ev.Progress)
		}
	}
	require.Equal(t, []int{50, 100}, progress)
}
