// Package cleanup ages out temp audio that nothing will reclaim: raw
// capture files kept for retry, mixed files orphaned by an unclean
// shutdown.
package cleanup

import (
	"log"
	"os"
	"path/filepath"
	"time"
)

// Scheduler periodically removes aged files from the temp directory. The
// startup sweep doubles as the orphan-cleanup pass after an unclean
// shutdown.
type Scheduler struct {
	tempDir  string
	interval time.Duration
	maxAge   time.Duration
	stopChan chan struct{}
}

// NewScheduler creates a cleanup scheduler for tempDir.
func NewScheduler(tempDir string, interval, maxAge time.Duration) *Scheduler {
	return &Scheduler{
		tempDir:  tempDir,
		interval: interval,
		maxAge:   maxAge,
		stopChan: make(chan struct{}),
	}
}

// Start runs one immediate sweep, then sweeps on the configured interval.
func (s *Scheduler) Start() {
	log.Println("Running startup temp file sweep...")
	s.Sweep()

	ticker := time.NewTicker(s.interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()

	log.Printf("Cleanup scheduler started (interval: %s, max age: %s)", s.interval, s.maxAge)
}

// Stop halts periodic sweeps.
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

// Sweep removes files older than maxAge from the temp directory.
func (s *Scheduler) Sweep() {
	now := time.Now()
	var deletedCount int
	var deletedSize int64

	err := filepath.Walk(s.tempDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}

		age := now.Sub(info.ModTime())
		if age <= s.maxAge {
			return nil
		}

		size := info.Size()
		if err := os.Remove(path); err != nil {
			log.Printf("Failed to delete old file %s: %v", path, err)
			return nil
		}
		deletedCount++
		deletedSize += size
		log.Printf("Deleted aged temp file: %s (age: %s)", filepath.Base(path), age.Round(time.Minute))
		return nil
	})
	if err != nil {
		log.Printf("Error during cleanup sweep: %v", err)
	}

	if deletedCount > 0 {
		log.Printf("Sweep complete: %d file(s) deleted, %.2fMB freed",
			deletedCount, float64(deletedSize)/(1024*1024))
	}
}

// EnsureTempDirExists creates the temp directory if it doesn't exist.
func EnsureTempDirExists(tempDir string) error {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return err
	}
	log.Printf("Temp directory ready: %s", tempDir)
	return nil
}
