package hub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/suffus/reedi-media-service/internal/media"
	"github.com/suffus/reedi-media-service/internal/processing"
)

func TestStatusChangedReachesAllUserClients(t *testing.T) {
	h := New(zap.NewNop().Sugar())
	c1 := NewClient("alice")
	c2 := NewClient("alice")
	other := NewClient("bob")
	h.AddClient(c1)
	h.AddClient(c2)
	h.AddClient(other)

	h.StatusChanged("alice", processing.StatusEvent{MediaID: "m1", Status: media.StatusCompleted})

	for _, c := range []*Client{c1, c2} {
		select {
		case b := <-c.Send:
			var ev processing.StatusEvent
			require.NoError(t, json.Unmarshal(b, &ev))
			assert.Equal(t, "m1", ev.MediaID)
			assert.Equal(t, media.StatusCompleted, ev.Status)
		default:
			t.Fatal("expected an event")
		}
	}
	assert.Empty(t, other.Send, "other users receive nothing")
}

func TestSlowClientDropsInsteadOfBlocking(t *testing.T) {
	h := New(zap.NewNop().Sugar())
	c := NewClient("alice")
	h.AddClient(c)

	// overflow the buffered channel; StatusChanged must never block
	for i := 0; i < cap(c.Send)+10; i++ {
		h.StatusChanged("alice", processing.StatusEvent{MediaID: "m1", Progress: i})
	}
	assert.Len(t, c.Send, cap(c.Send))
}

func TestRemoveClientStopsDelivery(t *testing.T) {
	h := New(zap.NewNop().Sugar())
	c := NewClient("alice")
	h.AddClient(c)
	h.RemoveClient(c)
	h.StatusChanged("alice", processing.StatusEvent{MediaID: "m1"})
	assert.Empty(t, c.Send)
}
