package websocket

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/wardsim/wardsim/internal/engine"
)

// HubPublisher adapts the hub to the engine's Publisher interface. Each engine
// event becomes one wire Event on the session's topic, with the event kind as
// the wire type.
type HubPublisher struct {
	hub *Hub
}

// NewHubPublisher wraps a hub for the tick runner.
func NewHubPublisher(hub *Hub) *HubPublisher {
	return &HubPublisher{hub: hub}
}

// Publish implements engine.Publisher.
func (p *HubPublisher) Publish(sessionID uuid.UUID, event engine.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("websocket: failed to marshal %s event: %v", event.Kind(), err)
		return
	}
	p.hub.Broadcast(sessionID.String(), Event{
		Type:      event.Kind(),
		Topic:     sessionID.String(),
		Timestamp: time.Now(),
		Data:      data,
	})
}
