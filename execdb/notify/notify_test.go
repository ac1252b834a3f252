package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsul-go/capsul/common/logger"
	"github.com/capsul-go/capsul/common/queue"
)

func TestNotifierOverMemoryQueuePublishesAndSubscribes(t *testing.T) {
	log := logger.New("error", "text")
	q := queue.NewMemoryQueue(log)
	n := NewMemory(q, log)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, closeSub, err := n.Subscribe(ctx, "exec-1")
	require.NoError(t, err)
	defer closeSub()

	require.NoError(t, n.Publish(ctx, Event{ExecutionID: "exec-1", Status: "running"}))

	select {
	case event := <-events:
		assert.Equal(t, "exec-1", event.ExecutionID)
		assert.Equal(t, "running", event.Status)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventValidateRequiresExecutionIDAndStatus(t *testing.T) {
	assert.Error(t, (&Event{}).Validate())
	assert.Error(t, (&Event{ExecutionID: "exec-1"}).Validate())
	assert.NoError(t, (&Event{ExecutionID: "exec-1", Status: "done"}).Validate())
}
