package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStorage writes transcripts to a dated directory tree:
// outputs/2026/08/29/20260829_143022_evt-42.txt plus a metadata sidecar.
type LocalStorage struct {
	outputDir string
}

// NewLocalStorage creates a local transcript store rooted at outputDir.
func NewLocalStorage(outputDir string) *LocalStorage {
	return &LocalStorage{outputDir: outputDir}
}

// SaveTranscript writes the transcript text and its metadata sidecar,
// returning the transcript path. An empty transcript still produces a
// file: an empty result is a valid outcome, not an error.
func (ls *LocalStorage) SaveTranscript(eventID, jobID, transcript string) (string, error) {
	now := time.Now()
	dateDir := filepath.Join(ls.outputDir,
		fmt.Sprintf("%d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()))

	if err := os.MkdirAll(dateDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create date directory: %v", err)
	}

	timestamp := now.Format("20060102_150405")
	baseFilename := fmt.Sprintf("%s_%s", timestamp, sanitizeFilename(eventID))

	txtPath := filepath.Join(dateDir, baseFilename+".txt")
	metaPath := filepath.Join(dateDir, baseFilename+"_meta.json")

	if err := os.WriteFile(txtPath, []byte(transcript), 0o644); err != nil {
		return "", fmt.Errorf("failed to save transcript: %v", err)
	}

	metadata := map[string]interface{}{
		"job_id":     jobID,
		"event_id":   eventID,
		"word_count": len(strings.Fields(transcript)),
		"created_at": now,
		"local_path": txtPath,
	}

	metaJSON, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %v", err)
	}
	if err := os.WriteFile(metaPath, metaJSON, 0o644); err != nil {
		return "", fmt.Errorf("failed to save metadata: %v", err)
	}

	return txtPath, nil
}

// sanitizeFilename removes path separators and other unsafe characters.
func sanitizeFilename(name string) string {
	invalid := "/\\:*?\"<>|"
	result := strings.Map(func(r rune) rune {
		if strings.ContainsRune(invalid, r) || r == 0 {
			return '_'
		}
		return r
	}, name)
	if len(result) > 100 {
		result = result[:100]
	}
	if result == "" {
		result = "untitled"
	}
	return result
}
