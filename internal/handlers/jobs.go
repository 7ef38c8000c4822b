package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/meetscribe/meetscribe/internal/queue"
	"github.com/meetscribe/meetscribe/internal/storage"
)

// JobsHandler serves the job history and the retry operation.
type JobsHandler struct {
	queue *queue.Queue
	store *storage.Store
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(q *queue.Queue, store *storage.Store) *JobsHandler {
	return &JobsHandler{queue: q, store: store}
}

// List returns recent jobs from the store plus the current in-memory
// pending set.
func (h *JobsHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	jobs, err := h.store.ListJobs(limit)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"jobs":    jobs,
		"pending": len(h.queue.Pending()),
		"busy":    h.queue.Busy(),
	})
}

// Get returns a single job by id.
func (h *JobsHandler) Get(c *fiber.Ctx) error {
	job, err := h.store.GetJob(c.Params("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.Status(404).JSON(fiber.Map{
				"error": "Job not found",
				"code":  "ERR_NOT_FOUND",
			})
		}
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(job)
}

// Retry enqueues a brand-new job over the failed job's source audio.
func (h *JobsHandler) Retry(c *fiber.Ctx) error {
	job, err := h.queue.Retry(c.Params("id"))
	if err != nil {
		if errors.Is(err, queue.ErrNoRecoverableAudio) {
			return c.Status(409).JSON(fiber.Map{
				"error": "Source audio was already cleaned up; re-record to get a transcript",
				"code":  "ERR_NO_RECOVERABLE_AUDIO",
			})
		}
		if errors.Is(err, storage.ErrNotFound) {
			return c.Status(404).JSON(fiber.Map{
				"error": "Job not found",
				"code":  "ERR_NOT_FOUND",
			})
		}
		return c.Status(409).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "ERR_RETRY_FAILED",
		})
	}

	return c.JSON(fiber.Map{
		"job_id": job.ID,
		"status": job.Status,
	})
}
