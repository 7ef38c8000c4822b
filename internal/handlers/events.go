package handlers

import (
	"log"

	"github.com/gofiber/websocket/v2"

	"github.com/meetscribe/meetscribe/internal/events"
)

// EventsHandler streams session and job events to UI clients over a
// websocket.
type EventsHandler struct {
	bus *events.Bus
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(bus *events.Bus) *EventsHandler {
	return &EventsHandler{bus: bus}
}

// Handle subscribes the connection to the event bus until it closes.
func (h *EventsHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	ch, cancel := h.bus.Subscribe()
	defer cancel()

	// Reader goroutine exists only to observe the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := c.WriteJSON(ev); err != nil {
				log.Printf("Event stream write failed: %v", err)
				return
			}
		case <-done:
			return
		}
	}
}
