// Package transcription wraps the whisper.cpp command-line engine.
package transcription

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/meetscribe/meetscribe/internal/procutil"
)

// TranscribeError means the engine exited non-zero.
type TranscribeError struct {
	StderrExcerpt string
}

func (e *TranscribeError) Error() string {
	return fmt.Sprintf("transcription failed: %s", e.StderrExcerpt)
}

// WhisperTranscriber invokes the whisper.cpp CLI. The transcript arrives on
// stdout; stderr carries NN%-style progress tokens.
type WhisperTranscriber struct {
	binaryPath string
	modelPath  string
	threads    int
	language   string
	timeout    time.Duration
}

// NewWhisperTranscriber creates a transcriber around the given binary and
// model file. The model file must exist up front so a bad path fails at
// startup, not on the first job.
func NewWhisperTranscriber(binaryPath, modelPath string, threads int, language string, timeout time.Duration) (*WhisperTranscriber, error) {
	if binaryPath == "" {
		binaryPath = "whisper-cli"
	}
	if language == "" {
		language = "en"
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("whisper model not found: %w", err)
	}

	log.Printf("Initializing whisper transcriber (binary: %s, model: %s)", binaryPath, modelPath)

	return &WhisperTranscriber{
		binaryPath: binaryPath,
		modelPath:  modelPath,
		threads:    threads,
		language:   language,
		timeout:    timeout,
	}, nil
}

// TranscribeArgs builds the engine invocation for one audio file.
func (wt *WhisperTranscriber) TranscribeArgs(audioPath string) []string {
	args := []string{
		"-m", wt.modelPath,
		"-f", audioPath,
		"--language", wt.language,
		"--no-timestamps",
		"--print-progress",
	}
	if wt.threads > 0 {
		args = append(args, "--threads", fmt.Sprintf("%d", wt.threads))
	}
	return args
}

// Transcribe runs the engine on audioPath and returns the transcript text.
// onProgress is called at most once per distinct percentage, in
// non-decreasing order; pass nil to skip progress reporting. An empty
// transcript with a zero exit is a valid result, not an error.
func (wt *WhisperTranscriber) Transcribe(ctx context.Context, audioPath string, onProgress func(pct int)) (string, error) {
	log.Printf("Transcribing %s", audioPath)

	parser := newProgressParser(onProgress)
	res, err := procutil.Run(ctx, wt.binaryPath, wt.TranscribeArgs(audioPath), procutil.Options{
		Timeout:      wt.timeout,
		OnStderrLine: parser.Feed,
	})
	if err != nil {
		return "", fmt.Errorf("transcriber: %w", err)
	}
	if !res.Ok() {
		return "", &TranscribeError{StderrExcerpt: procutil.StderrExcerpt(res.Stderr)}
	}

	transcript := strings.TrimSpace(res.Stdout)
	log.Printf("Transcription completed (%d chars)", len(transcript))
	return transcript, nil
}
