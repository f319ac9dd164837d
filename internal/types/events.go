package types

import "time"

// EventType represents the type of real-time event pushed to admin clients
type EventType string

const (
	EventMediaDiscovered EventType = "media.discovered"
	EventMediaApproved   EventType = "media.approved"
	EventBackfillDone    EventType = "backfill.completed"
)

// Event is the envelope sent over the admin WebSocket feed
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

type MediaEvent struct {
	MediaID         int64     `json:"media_id"`
	MessageID       int64     `json:"message_id"`
	ChannelUsername string    `json:"channel_username"`
	FileName        string    `json:"file_name"`
	FileType        MediaKind `json:"file_type"`
}

type BackfillEvent struct {
	Channel    string `json:"channel"`
	Discovered int    `json:"discovered"`
	Error      string `json:"error,omitempty"`
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, data interface{}) *Event {
	return &Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func NewMediaEvent(eventType EventType, m MediaRecord) *Event {
	return NewEvent(eventType, &MediaEvent{
		MediaID:         m.ID,
		MessageID:       m.MessageID,
		ChannelUsername: m.ChannelUsername,
		FileName:        m.FileName,
		FileType:        m.FileType,
	})
}
