package relay

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	fastws "github.com/fasthttp/websocket"
	"github.com/stretchr/testify/require"

	"github.com/meetscribe/meetscribe/internal/types"
)

type recordedChunk struct {
	eventID string
	stream  string
	data    []byte
}

type fakeHandler struct {
	mu           sync.Mutex
	connected    int
	statuses     []string
	chunks       []recordedChunk
	disconnected int
}

func (h *fakeHandler) CaptureConnected() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected++
}

func (h *fakeHandler) CaptureStatus(eventID, status, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, status)
}

func (h *fakeHandler) CaptureChunk(eventID, stream string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chunks = append(h.chunks, recordedChunk{eventID: eventID, stream: stream, data: data})
}

func (h *fakeHandler) CaptureDisconnected(eventID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected++
}

func (h *fakeHandler) snapshot() fakeHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fakeHandler{
		connected:    h.connected,
		statuses:     append([]string(nil), h.statuses...),
		chunks:       append([]recordedChunk(nil), h.chunks...),
		disconnected: h.disconnected,
	}
}

func TestStartScansPastOccupiedPorts(t *testing.T) {
	base := 42210
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", base))
	require.NoError(t, err)
	defer ln.Close()

	srv := NewServer(base, 10, &fakeHandler{})
	port, err := srv.Start()
	require.NoError(t, err)
	defer srv.Stop()
	require.Greater(t, port, base)
	require.Equal(t, port, srv.Port())
}

func TestStartExhaustedWindowReturnsErrNoPortAvailable(t *testing.T) {
	base := 42230
	for i := 0; i < 3; i++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", base+i))
		require.NoError(t, err)
		defer ln.Close()
	}

	srv := NewServer(base, 3, &fakeHandler{})
	_, err := srv.Start()
	require.True(t, errors.Is(err, ErrNoPortAvailable))
}

func TestStopIsIdempotent(t *testing.T) {
	srv := NewServer(42250, 10, &fakeHandler{})
	_, err := srv.Start()
	require.NoError(t, err)

	srv.Stop()
	require.Equal(t, 0, srv.Port())
	require.NotPanics(t, srv.Stop)
}

func TestSendStopWithoutConnection(t *testing.T) {
	srv := NewServer(42260, 10, &fakeHandler{})
	_, err := srv.Start()
	require.NoError(t, err)
	defer srv.Stop()

	require.ErrorIs(t, srv.SendStop("evt-1"), ErrNoConnection)
}

func TestCaptureSocketRoundTrip(t *testing.T) {
	handler := &fakeHandler{}
	srv := NewServer(42270, 10, handler)
	port, err := srv.Start()
	require.NoError(t, err)
	defer srv.Stop()

	conn, _, err := fastws.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d/ws/capture", port), nil)
	require.NoError(t, err)
	defer conn.Close()

	writeFrame := func(env types.RelayEnvelope) {
		payload, err := json.Marshal(env)
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(fastws.TextMessage, payload))
	}

	writeFrame(types.RelayEnvelope{Type: types.RelayTypeStatus, EventID: "evt-1", Status: types.RelayStatusRecordingStarted})
	writeFrame(types.RelayEnvelope{
		Type:    types.RelayTypeMicChunk,
		EventID: "evt-1",
		Data:    base64.StdEncoding.EncodeToString([]byte("chunk-one")),
	})
	writeFrame(types.RelayEnvelope{
		Type:    types.RelayTypeTabChunk,
		EventID: "evt-1",
		Data:    base64.StdEncoding.EncodeToString([]byte("chunk-two")),
	})

	// Host -> page command path.
	require.NoError(t, srv.SendStop("evt-1"))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var cmd types.RelayCommand
	require.NoError(t, json.Unmarshal(msg, &cmd))
	require.Equal(t, "stop", cmd.Command)
	require.Equal(t, "evt-1", cmd.EventID)

	require.Eventually(t, func() bool {
		snap := handler.snapshot()
		return snap.connected == 1 && len(snap.statuses) == 1 && len(snap.chunks) == 2
	}, 2*time.Second, 10*time.Millisecond)

	snap := handler.snapshot()
	require.Equal(t, types.RelayStatusRecordingStarted, snap.statuses[0])
	require.Equal(t, types.RelayTypeMicChunk, snap.chunks[0].stream)
	require.Equal(t, []byte("chunk-one"), snap.chunks[0].data)
	require.Equal(t, []byte("chunk-two"), snap.chunks[1].data)
}

func TestDisconnectWithoutStopNotifiesHandler(t *testing.T) {
	handler := &fakeHandler{}
	srv := NewServer(42290, 10, handler)
	port, err := srv.Start()
	require.NoError(t, err)
	defer srv.Stop()

	conn, _, err := fastws.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d/ws/capture", port), nil)
	require.NoError(t, err)
	conn.Close()

	require.Eventually(t, func() bool {
		return handler.snapshot().disconnected == 1
	}, 2*time.Second, 10*time.Millisecond)
}
