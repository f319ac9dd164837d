package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/princekumarofficial/channel-media-service/internal/types"
)

type recordingHub struct {
	clients int
	events  []*types.Event
}

func (h *recordingHub) Broadcast(e *types.Event) { h.events = append(h.events, e) }
func (h *recordingHub) ClientCount() int         { return h.clients }

func TestPublisherSkipsWithoutListeners(t *testing.T) {
	hub := &recordingHub{}
	p := NewEventPublisher(hub)

	p.MediaDiscovered(types.MediaRecord{ID: 1})
	assert.Empty(t, hub.events)
}

func TestPublisherEvents(t *testing.T) {
	hub := &recordingHub{clients: 1}
	p := NewEventPublisher(hub)

	p.MediaApproved(types.MediaRecord{ID: 4, FileType: types.MediaKindAudio})
	p.BackfillCompleted("@some_channel", 0, errors.New("flood wait"))

	require.Len(t, hub.events, 2)
	assert.Equal(t, types.EventMediaApproved, hub.events[0].Type)
	assert.Equal(t, types.EventBackfillDone, hub.events[1].Type)

	data, ok := hub.events[1].Data.(*types.BackfillEvent)
	require.True(t, ok)
	assert.Equal(t, "flood wait", data.Error)
}
