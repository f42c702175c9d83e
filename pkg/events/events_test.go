package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case e := <-sub:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func TestPublishSubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	all := b.Subscribe()
	failures := b.Subscribe(EventTaskFailed, EventPartitionIncomplete)
	assert.Equal(t, 2, b.SubscriberCount())

	require.True(t, b.Publish(&Event{Type: EventTableCombined, Message: "I1"}))
	require.True(t, b.Publish(&Event{Type: EventTaskFailed, Metadata: map[string]string{"task_id": "t1"}}))

	e := receive(t, all)
	assert.Equal(t, EventTableCombined, e.Type)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, EventTaskFailed, receive(t, all).Type)

	e = receive(t, failures)
	assert.Equal(t, EventTaskFailed, e.Type)
	assert.Equal(t, "t1", e.Metadata["task_id"])

	b.Unsubscribe(failures)
	b.Unsubscribe(failures)
	assert.Equal(t, 1, b.SubscriberCount())
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBroker()
	// Not started: the buffer fills and further events are dropped
	dropped := 0
	for i := 0; i < 300; i++ {
		if !b.Publish(&Event{Type: EventTaskRedelivered}) {
			dropped++
		}
	}
	assert.Equal(t, 300-256, dropped)

	b.Stop()
	b.Stop()
	assert.False(t, b.Publish(&Event{Type: EventTaskFailed}))
}
