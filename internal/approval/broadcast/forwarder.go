// Package broadcast mirrors bus events to an SNS topic so dashboards outside
// the process can react to submissions and reviews.
package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"approval-sync/internal/approval/eventbus"
	"approval-sync/internal/common/logger"
	"approval-sync/internal/models"
)

const defaultQueueSize = 256

// Publisher sends one message to the topic.
type Publisher interface {
	PublishJSON(ctx context.Context, eventName string, body []byte) (string, error)
}

// Source is the event bus.
type Source interface {
	SubscribeAll(h eventbus.Handler) func()
}

// Detail is the payload dashboards receive, wrapped as {"detail": ...}.
type Detail struct {
	EntityID  string                `json:"entityId"`
	Kind      models.EntityKind     `json:"kind"`
	Status    models.ApprovalStatus `json:"status,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
	Action    models.Action         `json:"action,omitempty"`
}

type message struct {
	Detail Detail `json:"detail"`
}

// Encode renders ev in the external payload shape.
func Encode(ev eventbus.Event) ([]byte, error) {
	return json.Marshal(message{Detail: Detail{
		EntityID:  ev.EntityID,
		Kind:      ev.Kind,
		Status:    ev.Status,
		Timestamp: ev.Timestamp.UTC(),
		Action:    ev.Action,
	}})
}

// Forwarder queues bus events and publishes them from a single goroutine,
// so bus handlers never wait on the network.
type Forwarder struct {
	publisher Publisher
	source    Source
	logger    logger.Logger
	timeout   time.Duration

	queue chan eventbus.Event
	wg    sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	unsubscribe func()
	cancel      context.CancelFunc
}

func NewForwarder(publisher Publisher, source Source, log logger.Logger) *Forwarder {
	return &Forwarder{
		publisher: publisher,
		source:    source,
		logger:    logger.Component(log, "sns-forwarder"),
		timeout:   5 * time.Second,
		queue:     make(chan eventbus.Event, defaultQueueSize),
	}
}

// Start subscribes to every bus event and starts the publishing loop.
func (f *Forwarder) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil || f.closed {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.unsubscribe = f.source.SubscribeAll(f.enqueue)

	f.wg.Add(1)
	go f.run(runCtx)
}

// Stop unsubscribes, publishes what is already queued and waits for the
// loop to exit. A stopped forwarder cannot be restarted.
func (f *Forwarder) Stop() {
	f.mu.Lock()
	if f.cancel == nil || f.closed {
		f.mu.Unlock()
		return
	}
	f.unsubscribe()
	cancel := f.cancel
	f.closed = true
	close(f.queue)
	f.mu.Unlock()

	f.wg.Wait()
	cancel()
}

func (f *Forwarder) enqueue(ev eventbus.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.queue <- ev:
	default:
		f.logger.Warn("broadcast queue full, dropping event", map[string]interface{}{
			"event":    ev.ExternalName(),
			"entityId": ev.EntityID,
		})
	}
}

func (f *Forwarder) run(ctx context.Context) {
	defer f.wg.Done()
	for ev := range f.queue {
		f.publish(ctx, ev)
	}
}

func (f *Forwarder) publish(ctx context.Context, ev eventbus.Event) {
	body, err := Encode(ev)
	if err != nil {
		f.logger.Error("failed to encode event", map[string]interface{}{"error": err})
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	name := ev.ExternalName()
	id, err := f.publisher.PublishJSON(pubCtx, name, body)
	if err != nil {
		f.logger.Warn("failed to broadcast event", map[string]interface{}{
			"event":    name,
			"entityId": ev.EntityID,
			"error":    err,
		})
		return
	}
	f.logger.Debug("event broadcast", map[string]interface{}{
		"event":     name,
		"entityId":  ev.EntityID,
		"messageId": id,
	})
}
