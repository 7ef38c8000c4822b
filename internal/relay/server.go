// Package relay bridges the browser capture page and the host. Only a
// browser tab can request tab-audio capture permission, so the host serves
// the page from a short-lived loopback server and receives the audio back
// over a websocket.
package relay

import (
	"embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/websocket/v2"

	"github.com/meetscribe/meetscribe/internal/types"
)

//go:embed static
var staticAssets embed.FS

// ErrNoPortAvailable means no loopback port was free within the scan window.
var ErrNoPortAvailable = errors.New("no relay port available")

// ErrNoConnection means a command was sent with no capture page connected.
var ErrNoConnection = errors.New("no capture connection")

// Handler receives relay protocol events. Calls arrive from the connection
// read loop, one at a time.
type Handler interface {
	// CaptureConnected fires when the page opens its socket. A fresh
	// connection always resets any partially buffered state.
	CaptureConnected()
	// CaptureStatus fires for status frames (recording_started, stopped, error).
	CaptureStatus(eventID, status, message string)
	// CaptureChunk delivers one decoded audio chunk for a stream
	// (types.RelayTypeMicChunk or types.RelayTypeTabChunk).
	CaptureChunk(eventID, stream string, data []byte)
	// CaptureDisconnected fires when the socket closes without a stop.
	CaptureDisconnected(eventID string)
}

// Server is one per-session relay instance.
type Server struct {
	basePort int
	window   int
	handler  Handler

	mu      sync.Mutex
	app     *fiber.App
	port    int
	conn    *websocket.Conn
	stopped bool
}

// NewServer creates a relay that will bind to the first free loopback port
// in [basePort, basePort+window).
func NewServer(basePort, window int, handler Handler) *Server {
	return &Server{basePort: basePort, window: window, handler: handler}
}

// Start binds the listener and begins serving the capture page. Returns the
// bound port.
func (s *Server) Start() (int, error) {
	ln, port, err := s.listen()
	if err != nil {
		return 0, err
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use("/", filesystem.New(filesystem.Config{
		Root:       http.FS(staticAssets),
		PathPrefix: "static",
		Index:      "index.html",
	}))
	app.Get("/ws/capture", websocket.New(s.handleSocket))

	s.mu.Lock()
	s.app = app
	s.port = port
	s.stopped = false
	s.mu.Unlock()

	go func() {
		if err := app.Listener(ln); err != nil {
			log.Printf("Relay server stopped: %v", err)
		}
	}()

	log.Printf("Relay server listening on 127.0.0.1:%d", port)
	return port, nil
}

// Port returns the bound port, or zero when stopped.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// SendStop asks the capture page to stop recording.
func (s *Server) SendStop(eventID string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return ErrNoConnection
	}
	cmd := types.RelayCommand{Command: "stop", EventID: eventID}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// HasConnection reports whether a capture page is currently connected.
func (s *Server) HasConnection() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Stop closes the active connection and the listener. Safe to call twice.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	conn := s.conn
	app := s.app
	s.conn = nil
	s.app = nil
	s.port = 0
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if app != nil {
		if err := app.ShutdownWithTimeout(2 * time.Second); err != nil {
			log.Printf("Relay shutdown: %v", err)
		}
	}
	log.Println("Relay server stopped")
}

func (s *Server) listen() (net.Listener, int, error) {
	for port := s.basePort; port < s.basePort+s.window; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return ln, port, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: scanned %d-%d", ErrNoPortAvailable, s.basePort, s.basePort+s.window-1)
}

// handleSocket owns one capture connection for its lifetime.
func (s *Server) handleSocket(c *websocket.Conn) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		c.Close()
		return
	}
	if prev := s.conn; prev != nil {
		// A reconnect supersedes the old socket.
		prev.Close()
	}
	s.conn = c
	s.mu.Unlock()

	log.Println("Capture page connected")
	s.handler.CaptureConnected()

	var lastEventID string
	sawStop := false

	for {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env types.RelayEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("Relay: dropping malformed frame: %v", err)
			continue
		}
		lastEventID = env.EventID

		switch env.Type {
		case types.RelayTypeStatus:
			if env.Status == types.RelayStatusStopped {
				sawStop = true
			}
			s.handler.CaptureStatus(env.EventID, env.Status, env.Message)
		case types.RelayTypeMicChunk, types.RelayTypeTabChunk:
			data, err := base64.StdEncoding.DecodeString(env.Data)
			if err != nil {
				log.Printf("Relay: dropping chunk with bad encoding: %v", err)
				continue
			}
			s.handler.CaptureChunk(env.EventID, env.Type, data)
		default:
			log.Printf("Relay: unknown frame type %q", env.Type)
		}
	}

	s.mu.Lock()
	if s.conn == c {
		s.conn = nil
	}
	stopped := s.stopped
	s.mu.Unlock()

	if !stopped && !sawStop {
		s.handler.CaptureDisconnected(lastEventID)
	}
}
