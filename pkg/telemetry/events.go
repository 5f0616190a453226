package telemetry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	EventTypeOperationStarted   = "operation.started"
	EventTypeOperationCompleted = "operation.completed"
	EventTypeOperationFailed    = "operation.failed"
	EventTypeArtifactCommitted  = "artifact.committed"
	EventTypePolicyWarning      = "policy.warning"
	EventTypePolicyViolation    = "policy.violation"
	EventTypeAmbiguousArtifact  = "repository.ambiguous"
)

// Event levels, in increasing severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

var levelOrder = []string{EventLevelInfo, EventLevelWarning, EventLevelError}

// ErrEventDropped is returned by Publish when the async buffer is full.
var ErrEventDropped = errors.New("event buffer full, event dropped")

// Event is a lifecycle notification.
type Event struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Type        string                 `json:"type"`
	Level       string                 `json:"level"`
	OperationID string                 `json:"operation_id,omitempty"`
	Artifact    string                 `json:"artifact,omitempty"`
	Repository  string                 `json:"repository,omitempty"`
	Message     string                 `json:"message"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// EventSubscriber receives events. Subscribers run on the delivering
// goroutine and must not block.
type EventSubscriber func(event Event)

// EventFilter selects events.
type EventFilter func(event Event) bool

type subscription struct {
	fn     EventSubscriber
	filter EventFilter
}

// EventPublisher fans events out to subscribers. A nil or disabled
// publisher accepts and discards everything.
type EventPublisher struct {
	cfg EventsConfig

	mu   sync.RWMutex
	subs []subscription

	queue chan Event
	done  chan struct{}
	once  sync.Once
}

// NewEventPublisher creates a publisher. With Async set a single goroutine
// delivers queued events in publish order.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{cfg: cfg}
	if !cfg.Enabled || !cfg.Async {
		return ep, nil
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("async event publisher needs a positive buffer size, got %d", cfg.BufferSize)
	}
	ep.queue = make(chan Event, cfg.BufferSize)
	ep.done = make(chan struct{})
	go ep.run()
	return ep, nil
}

func (ep *EventPublisher) run() {
	defer close(ep.done)
	for event := range ep.queue {
		ep.deliver(event)
	}
}

// Subscribe registers fn for events accepted by filter. A nil filter
// accepts everything.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subs = append(ep.subs, subscription{fn: fn, filter: filter})
}

// Publish stamps event with an id and time and delivers or queues it.
func (ep *EventPublisher) Publish(event Event) (err error) {
	if ep == nil || !ep.cfg.Enabled {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	if ep.queue == nil {
		ep.deliver(event)
		return nil
	}

	// Publishing after Shutdown closed the queue.
	defer func() {
		if recover() != nil {
			err = fmt.Errorf("event publisher stopped")
		}
	}()
	select {
	case ep.queue <- event:
		return nil
	default:
		return ErrEventDropped
	}
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	subs := slices.Clone(ep.subs)
	ep.mu.RUnlock()

	for _, s := range subs {
		if s.filter == nil || s.filter(event) {
			s.fn(event)
		}
	}
}

// Shutdown drains queued events, waiting until ctx is done.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || ep.queue == nil {
		return nil
	}
	ep.once.Do(func() { close(ep.queue) })
	select {
	case <-ep.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

// PublishOperationStarted reports the start of a lifecycle operation.
func (ep *EventPublisher) PublishOperationStarted(operationID, operation, root string) error {
	return ep.Publish(Event{
		Type:        EventTypeOperationStarted,
		OperationID: operationID,
		Artifact:    root,
		Message:     fmt.Sprintf("%s %s started", operation, root),
		Data:        map[string]interface{}{"operation": operation},
	})
}

// PublishOperationCompleted reports a successful lifecycle operation.
func (ep *EventPublisher) PublishOperationCompleted(operationID, operation, root string, written int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:        EventTypeOperationCompleted,
		OperationID: operationID,
		Artifact:    root,
		Message:     fmt.Sprintf("%s %s completed, %d written", operation, root, written),
		Data: map[string]interface{}{
			"operation": operation,
			"written":   written,
			"seconds":   duration.Seconds(),
		},
	})
}

// PublishOperationFailed reports a failed lifecycle operation.
func (ep *EventPublisher) PublishOperationFailed(operationID, operation, root, reason string) error {
	return ep.Publish(Event{
		Type:        EventTypeOperationFailed,
		Level:       EventLevelError,
		OperationID: operationID,
		Artifact:    root,
		Message:     fmt.Sprintf("%s %s failed: %s", operation, root, reason),
		Data:        map[string]interface{}{"operation": operation, "reason": reason},
	})
}

// PublishArtifactCommitted reports one artifact written by a commit.
func (ep *EventPublisher) PublishArtifactCommitted(operationID, canonical, status string) error {
	return ep.Publish(Event{
		Type:        EventTypeArtifactCommitted,
		OperationID: operationID,
		Artifact:    canonical,
		Message:     fmt.Sprintf("committed %s as %s", canonical, status),
		Data:        map[string]interface{}{"status": status},
	})
}

// PublishPolicyWarning reports a non-blocking rule or policy finding.
func (ep *EventPublisher) PublishPolicyWarning(operationID, canonical, rule, reason string) error {
	return ep.Publish(Event{
		Type:        EventTypePolicyWarning,
		Level:       EventLevelWarning,
		OperationID: operationID,
		Artifact:    canonical,
		Message:     reason,
		Data:        map[string]interface{}{"rule": rule},
	})
}

// PublishPolicyViolation reports a blocking rule violation.
func (ep *EventPublisher) PublishPolicyViolation(operationID, canonical, rule, reason string) error {
	return ep.Publish(Event{
		Type:        EventTypePolicyViolation,
		Level:       EventLevelError,
		OperationID: operationID,
		Artifact:    canonical,
		Message:     reason,
		Data:        map[string]interface{}{"rule": rule},
	})
}

// PublishAmbiguousArtifact reports an identity several federation members
// returned with differing content.
func (ep *EventPublisher) PublishAmbiguousArtifact(repository, key string, members []string) error {
	return ep.Publish(Event{
		Type:       EventTypeAmbiguousArtifact,
		Level:      EventLevelWarning,
		Repository: repository,
		Artifact:   key,
		Message:    fmt.Sprintf("%s differs across members %v", key, members),
		Data:       map[string]interface{}{"members": members},
	})
}

// FilterByLevel accepts events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	floor := slices.Index(levelOrder, minLevel)
	return func(event Event) bool {
		return slices.Index(levelOrder, event.Level) >= floor
	}
}

// FilterByType accepts the listed event types.
func FilterByType(types ...string) EventFilter {
	return func(event Event) bool {
		return slices.Contains(types, event.Type)
	}
}

// FilterByOperationID accepts events of one operation.
func FilterByOperationID(operationID string) EventFilter {
	return func(event Event) bool {
		return event.OperationID == operationID
	}
}

// FilterByArtifact accepts events about one artifact.
func FilterByArtifact(canonical string) EventFilter {
	return func(event Event) bool {
		return event.Artifact == canonical
	}
}
