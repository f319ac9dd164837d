package events

import (
	"github.com/princekumarofficial/channel-media-service/internal/types"
)

// Publisher announces pipeline progress to connected admins
type Publisher interface {
	MediaDiscovered(m types.MediaRecord)
	MediaApproved(m types.MediaRecord)
	BackfillCompleted(channel string, discovered int, err error)
}

// Broadcaster is the part of the WebSocket hub the publisher needs
type Broadcaster interface {
	Broadcast(event *types.Event)
	ClientCount() int
}

// EventPublisher implements the Publisher interface
type EventPublisher struct {
	hub Broadcaster
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(hub Broadcaster) *EventPublisher {
	return &EventPublisher{
		hub: hub,
	}
}

func (p *EventPublisher) publish(event *types.Event) {
	// Only build traffic when someone is listening
	if p.hub.ClientCount() == 0 {
		return
	}
	p.hub.Broadcast(event)
}

func (p *EventPublisher) MediaDiscovered(m types.MediaRecord) {
	p.publish(types.NewMediaEvent(types.EventMediaDiscovered, m))
}

func (p *EventPublisher) MediaApproved(m types.MediaRecord) {
	p.publish(types.NewMediaEvent(types.EventMediaApproved, m))
}

func (p *EventPublisher) BackfillCompleted(channel string, discovered int, err error) {
	data := &types.BackfillEvent{Channel: channel, Discovered: discovered}
	if err != nil {
		data.Error = err.Error()
	}
	p.publish(types.NewEvent(types.EventBackfillDone, data))
}

// Nop discards every event.
type Nop struct{}

func (Nop) MediaDiscovered(types.MediaRecord)     {}
func (Nop) MediaApproved(types.MediaRecord)       {}
func (Nop) BackfillCompleted(string, int, error) {}
