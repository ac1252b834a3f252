// Package notify publishes and subscribes to execution status-change
// events, the cross-process notification mechanism backing execdb/
// postgres's Wait and the event-stream websocket of cmd/capsul-enginesrv
// (spec.md §5 suspension points). Grounded on common/redis/client.go's
// PublishEvent and common/worker/completion.go's validate-then-signal
// shape, retargeted at Capsul's execution/job/status nouns instead of
// the teacher's CAS-token relay: Capsul's workers hold a direct database
// connection descriptor (spec.md §4.7's CAPSUL_DATABASE) and call
// execdb.Complete themselves, so there is no separate completion-signal
// queue to a coordinator here — only a best-effort fan-out notification
// once the database write has already happened.
//
// Two transports back a Notifier: Redis pub/sub for a multi-process
// deployment (capsul-worker subprocesses and capsul-enginesrv on
// different hosts), and common/queue.MemoryQueue for a single-process
// deployment (the in-process local executor, or tests) where pulling in
// Redis just to notify goroutines in the same binary would be overhead
// without a payoff.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/capsul-go/capsul/common/queue"
	redisclient "github.com/capsul-go/capsul/common/redis"
)

// transport is the pub/sub backend a Notifier publishes events through.
type transport interface {
	publish(ctx context.Context, executionID string, payload []byte) error
	subscribe(ctx context.Context, executionID string) (<-chan []byte, func() error, error)
}

type redisTransport struct {
	client *redisclient.Client
}

func (t redisTransport) publish(ctx context.Context, executionID string, payload []byte) error {
	return t.client.PublishEvent(ctx, channel(executionID), string(payload))
}

func (t redisTransport) subscribe(ctx context.Context, executionID string) (<-chan []byte, func() error, error) {
	sub := t.client.GetUnderlying().Subscribe(ctx, channel(executionID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				out <- []byte(msg.Payload)
			}
		}
	}()
	return out, sub.Close, nil
}

// queueTransport adapts common/queue.Queue's push-style Subscribe
// (a callback invoked per message) to the pull-style channel the rest of
// this package expects.
type queueTransport struct {
	q queue.Queue
}

func (t queueTransport) publish(ctx context.Context, executionID string, payload []byte) error {
	return t.q.Publish(ctx, channel(executionID), executionID, payload)
}

func (t queueTransport) subscribe(ctx context.Context, executionID string) (<-chan []byte, func() error, error) {
	out := make(chan []byte, 16)
	err := t.q.Subscribe(ctx, channel(executionID), func(ctx context.Context, key string, value []byte) error {
		select {
		case out <- value:
		case <-ctx.Done():
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, func() error { return nil }, nil
}

// Logger is the narrow logging surface this package needs.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Event is one execution or job status transition.
type Event struct {
	ExecutionID string `json:"execution_id"`
	JobID       string `json:"job_id,omitempty"`
	Status      string `json:"status"`
	Detail      string `json:"detail,omitempty"`
}

// Validate checks that an event carries enough information to be
// meaningfully published (grounded on CompletionOpts.Validate).
func (e *Event) Validate() error {
	if e.ExecutionID == "" {
		return fmt.Errorf("notify: execution id is required")
	}
	if e.Status == "" {
		return fmt.Errorf("notify: status is required")
	}
	return nil
}

func channel(executionID string) string {
	return fmt.Sprintf("capsul:execution:%s:events", executionID)
}

// Notifier publishes execution/job events to a per-execution channel and
// lets interested parties subscribe to them, over whichever transport it
// was built with.
type Notifier struct {
	transport transport
	log       Logger
}

// New builds a Notifier over an already-connected redis client, for a
// deployment where capsul-worker subprocesses and capsul-enginesrv run
// as separate processes (possibly on separate hosts).
func New(client *redisclient.Client, log Logger) *Notifier {
	return &Notifier{transport: redisTransport{client: client}, log: log}
}

// NewMemory builds a Notifier over an in-process queue.Queue, for a
// single-binary deployment (the local executor, or tests) where events
// only need to reach subscribers in the same process.
func NewMemory(q queue.Queue, log Logger) *Notifier {
	return &Notifier{transport: queueTransport{q: q}, log: log}
}

// Publish validates and publishes an event to its execution's channel
// (grounded on SignalCompletion's validate-marshal-push sequence).
func (n *Notifier) Publish(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := n.transport.publish(ctx, event.ExecutionID, payload); err != nil {
		n.log.Error("notify publish failed", "execution_id", event.ExecutionID, "error", err)
		return fmt.Errorf("publish event: %w", err)
	}
	n.log.Debug("notify publish", "execution_id", event.ExecutionID, "status", event.Status)
	return nil
}

// Subscribe opens a subscription to an execution's event channel. The
// returned channel is closed when ctx is cancelled or the subscription
// is closed; callers should range over it rather than read once.
func (n *Notifier) Subscribe(ctx context.Context, executionID string) (<-chan Event, func() error, error) {
	raw, closeFn, err := n.transport.subscribe(ctx, executionID)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe to execution %s: %w", executionID, err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-raw:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal(payload, &event); err != nil {
					n.log.Error("notify: malformed event payload", "execution_id", executionID, "error", err)
					continue
				}
				out <- event
			}
		}
	}()

	return out, closeFn, nil
}
