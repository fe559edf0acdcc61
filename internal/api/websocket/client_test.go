package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/queueworks/taskqueue/internal/events"
)

func TestClient_NoSubscriptionsReceivesEverything(t *testing.T) {
	c := NewClient(nil, nil)

	assert.True(t, c.IsSubscribed(events.EventTaskCompleted))
	assert.True(t, c.IsSubscribed(events.EventWorkerLeft))
}

func TestClient_SubscribeNarrowsTheFeed(t *testing.T) {
	c := NewClient(nil, nil)

	c.Subscribe(events.EventTaskCompleted)

	assert.True(t, c.IsSubscribed(events.EventTaskCompleted))
	assert.False(t, c.IsSubscribed(events.EventWorkerLeft))
}

func TestClient_SubscribeAllCoversEveryType(t *testing.T) {
	c := NewClient(nil, nil)
	c.SubscribeAll()

	for _, et := range events.AllEventTypes {
		assert.True(t, c.IsSubscribed(et), "missing subscription for %s", et)
	}
}

func TestClient_HandleMessageSubscribe(t *testing.T) {
	c := NewClient(nil, nil)
	c.Subscribe(events.EventTaskFailed)

	c.handleMessage([]byte(`{"action":"subscribe","events":["task.completed","not.a.real.event"]}`))

	assert.True(t, c.IsSubscribed(events.EventTaskCompleted))
	assert.True(t, c.IsSubscribed(events.EventTaskFailed))
	assert.False(t, c.IsSubscribed(events.EventWorkerLeft), "unknown names must not widen the set")
}

func TestClient_HandleMessageUnsubscribe(t *testing.T) {
	c := NewClient(nil, nil)
	c.Subscribe(events.EventTaskCompleted)
	c.Subscribe(events.EventTaskFailed)

	c.handleMessage([]byte(`{"action":"unsubscribe","events":["task.failed"]}`))

	assert.True(t, c.IsSubscribed(events.EventTaskCompleted))
	assert.False(t, c.IsSubscribed(events.EventTaskFailed))
}

func TestClient_HandleMessageMalformed(t *testing.T) {
	c := NewClient(nil, nil)
	c.Subscribe(events.EventTaskCompleted)

	c.handleMessage([]byte(`not json`))
	c.handleMessage([]byte(`{"action":"dance"}`))

	assert.True(t, c.IsSubscribed(events.EventTaskCompleted), "bad frames must not disturb the set")
}
