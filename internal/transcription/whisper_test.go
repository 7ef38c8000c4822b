package transcription

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeStubEngine(t *testing.T, script string) (binary, model string) {
	t.Helper()
	dir := t.TempDir()
	binary = filepath.Join(dir, "whisper-cli")
	require.NoError(t, os.WriteFile(binary, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	model = filepath.Join(dir, "ggml-base.en.bin")
	require.NoError(t, os.WriteFile(model, []byte("model"), 0o644))
	return binary, model
}

func TestNewWhisperTranscriberRejectsMissingModel(t *testing.T) {
	_, err := NewWhisperTranscriber("whisper-cli", "/nonexistent/model.bin", 0, "", 0)
	require.Error(t, err)
}

func TestTranscribeCollectsStdoutAndProgress(t *testing.T) {
	binary, model := writeStubEngine(t, `
echo "progress =  25%" >&2
echo "progress =  80%" >&2
printf " Hello from the meeting. "`)

	wt, err := NewWhisperTranscriber(binary, model, 2, "en", 0)
	require.NoError(t, err)

	var seen []int
	text, err := wt.Transcribe(context.Background(), "audio.wav", func(pct int) { seen = append(seen, pct) })
	require.NoError(t, err)
	require.Equal(t, "Hello from the meeting.", text)
	require.Equal(t, []int{25, 80}, seen)
}

func TestTranscribeEmptyTranscriptIsValid(t *testing.T) {
	binary, model := writeStubEngine(t, "exit 0")

	wt, err := NewWhisperTranscriber(binary, model, 0, "", 0)
	require.NoError(t, err)

	text, err := wt.Transcribe(context.Background(), "audio.wav", nil)
	require.NoError(t, err)
	require.Equal(t, "", text)
}

func TestTranscribeNonZeroExitIsTranscribeError(t *testing.T) {
	binary, model := writeStubEngine(t, "echo 'failed to load audio' >&2; exit 1")

	wt, err := NewWhisperTranscriber(binary, model, 0, "", 0)
	require.NoError(t, err)

	_, err = wt.Transcribe(context.Background(), "audio.wav", nil)
	var trErr *TranscribeError
	require.True(t, errors.As(err, &trErr))
	require.Contains(t, trErr.StderrExcerpt, "failed to load audio")
}

func TestTranscribeArgsIncludeModelAndAudio(t *testing.T) {
	binary, model := writeStubEngine(t, "exit 0")
	wt, err := NewWhisperTranscriber(binary, model, 4, "en", 0)
	require.NoError(t, err)

	args := wt.TranscribeArgs("/tmp/mixed.wav")
	require.Contains(t, args, model)
	require.Contains(t, args, "/tmp/mixed.wav")
	require.Contains(t, args, "--print-progress")
	require.Contains(t, args, "--threads")
}
