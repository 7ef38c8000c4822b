// Package media drives the external audio mixer (ffmpeg) to produce the
// 16 kHz mono PCM WAV files the speech-to-text engine expects.
package media

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/meetscribe/meetscribe/internal/procutil"
)

// MixError means the mixer exited non-zero or produced no usable output.
type MixError struct {
	StderrExcerpt string
}

func (e *MixError) Error() string {
	return fmt.Sprintf("audio mix failed: %s", e.StderrExcerpt)
}

// Mixer wraps the ffmpeg binary.
type Mixer struct {
	ffmpegPath string
	timeout    time.Duration
}

// NewMixer creates a mixer around the given ffmpeg binary. A zero timeout
// disables the per-run deadline.
func NewMixer(ffmpegPath string, timeout time.Duration) *Mixer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Mixer{ffmpegPath: ffmpegPath, timeout: timeout}
}

// MixArgs builds the ffmpeg arguments that merge the system and mic streams
// into one mono 16 kHz 16-bit PCM file.
func MixArgs(systemAudioPath, micAudioPath, outputPath string) []string {
	return []string{
		"-i", systemAudioPath,
		"-i", micAudioPath,
		"-filter_complex", "amix=inputs=2:duration=longest",
		"-ac", "1",          // Mono
		"-ar", "16000",      // 16kHz sample rate
		"-c:a", "pcm_s16le", // 16-bit PCM
		"-y", // Overwrite output
		outputPath,
	}
}

// NormalizeArgs builds the ffmpeg arguments for the single-input case,
// converting one stream to the same target format without mixing.
func NormalizeArgs(inputPath, outputPath string) []string {
	return []string{
		"-i", inputPath,
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		"-y",
		outputPath,
	}
}

// Mix merges two input files into outputPath. Both inputs must exist and be
// non-empty; the caller owns the lifecycle of all three paths.
func (m *Mixer) Mix(ctx context.Context, systemAudioPath, micAudioPath, outputPath string) (string, error) {
	for _, p := range []string{systemAudioPath, micAudioPath} {
		if err := checkInput(p); err != nil {
			return "", err
		}
	}
	return m.run(ctx, MixArgs(systemAudioPath, micAudioPath, outputPath), outputPath)
}

// Normalize converts a single input file to the target format. Used when
// only one of the two capture streams produced audio.
func (m *Mixer) Normalize(ctx context.Context, inputPath, outputPath string) (string, error) {
	if err := checkInput(inputPath); err != nil {
		return "", err
	}
	return m.run(ctx, NormalizeArgs(inputPath, outputPath), outputPath)
}

func (m *Mixer) run(ctx context.Context, args []string, outputPath string) (string, error) {
	res, err := procutil.Run(ctx, m.ffmpegPath, args, procutil.Options{Timeout: m.timeout})
	if err != nil {
		return "", fmt.Errorf("mixer: %w", err)
	}
	if !res.Ok() {
		return "", &MixError{StderrExcerpt: procutil.StderrExcerpt(res.Stderr)}
	}

	// A zero exit with no output file is a tool-level inconsistency, not
	// something to ignore.
	info, statErr := os.Stat(outputPath)
	if statErr != nil || info.Size() == 0 {
		return "", &MixError{StderrExcerpt: fmt.Sprintf("mixer exited 0 but output %s is missing or empty", outputPath)}
	}

	return outputPath, nil
}

func checkInput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("mixer input %s: %w", path, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("mixer input %s is empty", path)
	}
	return nil
}
