package handlers

import (
	"errors"
	"os"

	"github.com/gofiber/fiber/v2"

	"github.com/meetscribe/meetscribe/internal/session"
	"github.com/meetscribe/meetscribe/internal/storage"
)

// RecordingHandler drives the session controller and serves per-event
// recording records.
type RecordingHandler struct {
	sessions *session.Controller
	store    *storage.Store
}

// NewRecordingHandler creates a new recording handler.
func NewRecordingHandler(sessions *session.Controller, store *storage.Store) *RecordingHandler {
	return &RecordingHandler{sessions: sessions, store: store}
}

// Start begins a recording session for the calendar event in the URL.
func (h *RecordingHandler) Start(c *fiber.Ctx) error {
	eventID := c.Params("eventID")
	if eventID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "Event ID is required",
			"code":  "ERR_NO_EVENT_ID",
		})
	}

	if err := h.sessions.Start(c.UserContext(), eventID); err != nil {
		var permErr *session.PermissionError
		if errors.As(err, &permErr) {
			return c.Status(403).JSON(fiber.Map{
				"error": err.Error(),
				"code":  "ERR_PERMISSION_DENIED",
			})
		}
		return c.Status(409).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "ERR_START_FAILED",
		})
	}

	return c.JSON(fiber.Map{
		"eventId": eventID,
		"state":   h.sessions.State(),
	})
}

// Stop asks the capture page to stop; finalization follows asynchronously.
func (h *RecordingHandler) Stop(c *fiber.Ctx) error {
	if err := h.sessions.Stop(); err != nil {
		return c.Status(409).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "ERR_STOP_FAILED",
		})
	}
	return c.JSON(fiber.Map{
		"state": h.sessions.State(),
	})
}

// Session returns the current session snapshot.
func (h *RecordingHandler) Session(c *fiber.Ctx) error {
	return c.JSON(h.sessions.Snapshot())
}

// Get returns the persisted recording record for one event.
func (h *RecordingHandler) Get(c *fiber.Ctx) error {
	rec, err := h.store.GetRecording(c.Params("eventID"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.Status(404).JSON(fiber.Map{
				"error": "Recording not found",
				"code":  "ERR_NOT_FOUND",
			})
		}
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(rec)
}

// Transcript returns the transcript text for one event.
func (h *RecordingHandler) Transcript(c *fiber.Ctx) error {
	rec, err := h.store.GetRecording(c.Params("eventID"))
	if err != nil || rec.TranscriptPath == "" {
		return c.Status(404).JSON(fiber.Map{
			"error": "Transcript not found",
			"code":  "ERR_NOT_FOUND",
		})
	}

	content, err := os.ReadFile(rec.TranscriptPath)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to read transcript file"})
	}
	return c.SendString(string(content))
}

// NotesRequest carries notes/summary updates from external collaborators.
type NotesRequest struct {
	Notes   *string `json:"notes"`
	Summary *string `json:"summary"`
}

// UpdateNotes stores notes and/or a summary on the recording record.
func (h *RecordingHandler) UpdateNotes(c *fiber.Ctx) error {
	var req NotesRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
			"code":  "ERR_INVALID_BODY",
		})
	}

	eventID := c.Params("eventID")
	if req.Notes != nil {
		if err := h.store.SetNotes(eventID, *req.Notes); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
	}
	if req.Summary != nil {
		if err := h.store.SetSummary(eventID, *req.Summary); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
