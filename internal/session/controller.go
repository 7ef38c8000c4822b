// Package session coordinates the lifecycle of one recording: permission
// gating, relay server lifecycle, browser launch, chunk buffering, and
// finalization into files handed to the job queue.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meetscribe/meetscribe/internal/events"
	"github.com/meetscribe/meetscribe/internal/relay"
	"github.com/meetscribe/meetscribe/internal/types"
)

// RelayServer is the controller-facing subset of the relay server.
type RelayServer interface {
	Start() (int, error)
	SendStop(eventID string) error
	HasConnection() bool
	Stop()
}

// RelayFactory builds a fresh relay instance for one session.
type RelayFactory func(h relay.Handler) RelayServer

// Enqueuer hands finalized audio to the transcription queue.
type Enqueuer interface {
	Enqueue(eventID, systemAudioPath, micAudioPath string) error
}

// Snapshot is the externally visible session state.
type Snapshot struct {
	State     State  `json:"state"`
	EventID   string `json:"eventId,omitempty"`
	RelayPort int    `json:"relayPort,omitempty"`
}

// Controller owns the single active recording session. At most one session
// exists at a time; Start rejects while one is active.
type Controller struct {
	relayFactory    RelayFactory
	opener          PageOpener
	gate            PermissionGate
	enqueuer        Enqueuer
	bus             *events.Bus
	tempDir         string
	disconnectGrace time.Duration

	mu              sync.Mutex
	state           State
	eventID         string
	relay           RelayServer
	relayPort       int
	micBuffer       [][]byte
	tabBuffer       [][]byte
	disconnectTimer *time.Timer
}

// NewController wires a session controller from its collaborators.
func NewController(
	relayFactory RelayFactory,
	opener PageOpener,
	gate PermissionGate,
	enqueuer Enqueuer,
	bus *events.Bus,
	tempDir string,
	disconnectGrace time.Duration,
) *Controller {
	return &Controller{
		relayFactory:    relayFactory,
		opener:          opener,
		gate:            gate,
		enqueuer:        enqueuer,
		bus:             bus,
		tempDir:         tempDir,
		disconnectGrace: disconnectGrace,
		state:           StateIdle,
	}
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{State: c.state, EventID: c.eventID, RelayPort: c.relayPort}
}

// State returns the current FSM state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins a recording session for eventID: checks permissions, starts
// the relay, opens the capture page, and waits for the page to report in.
func (c *Controller) Start(ctx context.Context, eventID string) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("a recording session is already active (state %s)", state)
	}
	c.state = StateCheckingPermissions
	c.eventID = eventID
	c.mu.Unlock()
	c.publishState()

	granted, err := c.gate.Check(ctx)
	if err != nil {
		return c.abort(err)
	}
	if !granted {
		if err := c.transition(EventPermissionsNeeded); err != nil {
			return c.abort(err)
		}
		c.publishState()
		if err := c.gate.Request(ctx); err != nil {
			return c.abort(err)
		}
	}

	rs := c.relayFactory(c)
	port, err := rs.Start()
	if err != nil {
		return c.abort(fmt.Errorf("relay start: %w", err))
	}

	c.mu.Lock()
	c.relay = rs
	c.relayPort = port
	c.micBuffer = nil
	c.tabBuffer = nil
	c.mu.Unlock()

	captureURL := fmt.Sprintf("http://127.0.0.1:%d/?eventId=%s", port, url.QueryEscape(eventID))
	if err := c.opener.Open(ctx, captureURL); err != nil {
		return c.abort(err)
	}

	if err := c.transition(EventPermissionsGranted); err != nil {
		return c.abort(err)
	}
	c.publishState()
	log.Printf("Session %s waiting for capture on port %d", eventID, port)
	return nil
}

// Stop asks the capture page to stop recording. Finalization happens when
// the page confirms with its stopped status, not here.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state != StateRecording {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("no recording in progress (state %s)", state)
	}
	rs := c.relay
	eventID := c.eventID
	c.mu.Unlock()

	if rs == nil || !rs.HasConnection() {
		err := errors.New("no capture connection to stop")
		c.abort(err)
		return err
	}

	if err := rs.SendStop(eventID); err != nil {
		c.abort(fmt.Errorf("sending stop command: %w", err))
		return err
	}

	if err := c.transition(EventStop); err != nil {
		return c.abort(err)
	}
	c.publishState()
	return nil
}

// CaptureConnected implements relay.Handler. A fresh connection always
// resets partial buffers and cancels any pending disconnect grace timer.
func (c *Controller) CaptureConnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.micBuffer = nil
	c.tabBuffer = nil
	if c.disconnectTimer != nil {
		c.disconnectTimer.Stop()
		c.disconnectTimer = nil
	}
}

// CaptureStatus implements relay.Handler.
func (c *Controller) CaptureStatus(eventID, status, message string) {
	c.mu.Lock()
	activeEventID := c.eventID
	c.mu.Unlock()

	if eventID != activeEventID {
		log.Printf("Relay: ignoring status %q for stale session %q", status, eventID)
		return
	}

	switch status {
	case types.RelayStatusRecordingStarted:
		if err := c.transition(EventCaptureStarted); err != nil {
			log.Printf("Session: %v", err)
			return
		}
		c.publishState()
		log.Printf("Session %s recording", eventID)
	case types.RelayStatusStopped:
		if err := c.transition(EventCaptureStopped); err != nil {
			log.Printf("Session: %v", err)
			return
		}
		c.publishState()
		// Finalize off the relay read loop so relay.Stop can reap it.
		go c.finalize()
	case types.RelayStatusError:
		if message == "" {
			message = "capture failed in browser"
		}
		go c.abort(errors.New(message))
	default:
		log.Printf("Relay: unknown status %q", status)
	}
}

// CaptureChunk implements relay.Handler. Chunks append in arrival order.
func (c *Controller) CaptureChunk(eventID, stream string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if eventID != c.eventID {
		return
	}
	if c.state != StateRecording && c.state != StateStopping {
		return
	}

	switch stream {
	case types.RelayTypeMicChunk:
		c.micBuffer = append(c.micBuffer, data)
	case types.RelayTypeTabChunk:
		c.tabBuffer = append(c.tabBuffer, data)
	}
}

// CaptureDisconnected implements relay.Handler. A disconnect is not a stop:
// the buffers are kept and a grace timer gives the page time to reconnect
// before the session aborts and the partial audio is salvaged to disk.
func (c *Controller) CaptureDisconnected(eventID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRecording {
		return
	}
	log.Printf("WARNING: capture page disconnected while recording session %s", c.eventID)
	if c.disconnectGrace <= 0 {
		return
	}
	if c.disconnectTimer != nil {
		c.disconnectTimer.Stop()
	}
	c.disconnectTimer = time.AfterFunc(c.disconnectGrace, c.onDisconnectTimeout)
}

func (c *Controller) onDisconnectTimeout() {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return
	}
	eventID := c.eventID
	mic := c.micBuffer
	tab := c.tabBuffer
	c.mu.Unlock()

	micPath, _ := c.writeBuffer(eventID, "mic", mic)
	tabPath, _ := c.writeBuffer(eventID, "system", tab)
	log.Printf("Capture page never reconnected; salvaged partial audio (system: %s, mic: %s)", tabPath, micPath)
	c.abort(fmt.Errorf("capture page disconnected and did not reconnect within %s", c.disconnectGrace))
}

// finalize concatenates the buffered chunks into per-stream files, enqueues
// a transcription job, and releases the session.
func (c *Controller) finalize() {
	c.mu.Lock()
	eventID := c.eventID
	mic := c.micBuffer
	tab := c.tabBuffer
	c.mu.Unlock()

	systemPath, err := c.writeBuffer(eventID, "system", tab)
	if err != nil {
		c.abort(fmt.Errorf("writing system audio: %w", err))
		return
	}
	micPath, err := c.writeBuffer(eventID, "mic", mic)
	if err != nil {
		c.abort(fmt.Errorf("writing mic audio: %w", err))
		return
	}

	if systemPath == "" && micPath == "" {
		c.abort(errors.New("no audio captured"))
		return
	}

	if err := c.enqueuer.Enqueue(eventID, systemPath, micPath); err != nil {
		c.abort(fmt.Errorf("enqueuing transcription job: %w", err))
		return
	}

	c.teardown()
	if err := c.transition(EventFinalized); err != nil {
		log.Printf("Session: %v", err)
	}
	c.mu.Lock()
	c.eventID = ""
	c.micBuffer = nil
	c.tabBuffer = nil
	c.mu.Unlock()
	c.publishState()
	log.Printf("Session %s finalized (system: %s, mic: %s)", eventID, systemPath, micPath)
}

// writeBuffer concatenates chunks into one uniquely named temp file.
// Returns an empty path for an empty buffer: a job may proceed with a
// single stream present.
func (c *Controller) writeBuffer(eventID, stream string, chunks [][]byte) (string, error) {
	if len(chunks) == 0 {
		return "", nil
	}
	var blob bytes.Buffer
	for _, chunk := range chunks {
		blob.Write(chunk)
	}
	name := fmt.Sprintf("%s_%s_%s.webm", sanitizeEventID(eventID), stream, uuid.New().String()[:8])
	path := filepath.Join(c.tempDir, name)
	if err := os.WriteFile(path, blob.Bytes(), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// abort releases everything and returns the session to idle, surfacing err
// to UI subscribers. Returns err for convenient chaining.
func (c *Controller) abort(err error) error {
	c.teardown()

	c.mu.Lock()
	c.state = StateIdle
	c.eventID = ""
	c.micBuffer = nil
	c.tabBuffer = nil
	c.mu.Unlock()

	log.Printf("Session aborted: %v", err)
	c.bus.Publish(types.Event{Type: types.EventError, Message: err.Error()})
	c.publishState()
	return err
}

// teardown stops the relay and closes the browser window.
func (c *Controller) teardown() {
	c.mu.Lock()
	rs := c.relay
	c.relay = nil
	c.relayPort = 0
	if c.disconnectTimer != nil {
		c.disconnectTimer.Stop()
		c.disconnectTimer = nil
	}
	c.mu.Unlock()

	if rs != nil {
		rs.Stop()
	}
	c.opener.Close()
}

func (c *Controller) transition(event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := Transition(c.state, event)
	if err != nil {
		return err
	}
	c.state = next
	return nil
}

func (c *Controller) publishState() {
	c.mu.Lock()
	state := c.state
	eventID := c.eventID
	c.mu.Unlock()
	c.bus.Publish(types.Event{Type: types.EventSession, State: string(state), EventID: eventID})
}

func sanitizeEventID(eventID string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, eventID)
	if len(cleaned) > 64 {
		cleaned = cleaned[:64]
	}
	if cleaned == "" {
		cleaned = "event"
	}
	return cleaned
}
