// Package eventbus is the in-process publish/subscribe channel between the
// approval commands, submissions and mounted views.
package eventbus

import (
	"fmt"
	"sync"
	"time"

	"approval-sync/internal/common/logger"
	"approval-sync/internal/models"

	"github.com/google/uuid"
)

// Name identifies an event type.
type Name string

const (
	EntityCreated       Name = "entityCreated"
	EntityStatusChanged Name = "entityStatusChanged"
)

// Event is a bus message. Status and Action are set for EntityStatusChanged
// only.
type Event struct {
	Name      Name
	Kind      models.EntityKind
	EntityID  string
	Status    models.ApprovalStatus
	Action    models.Action
	Timestamp time.Time
}

// Created builds an EntityCreated event.
func Created(kind models.EntityKind, id string, at time.Time) Event {
	return Event{Name: EntityCreated, Kind: kind, EntityID: id, Timestamp: at}
}

// StatusChanged builds an EntityStatusChanged event.
func StatusChanged(ev models.StatusChangeEvent) Event {
	return Event{
		Name:      EntityStatusChanged,
		Kind:      ev.Kind,
		EntityID:  ev.EntityID,
		Status:    ev.NewStatus,
		Action:    ev.Action,
		Timestamp: ev.Timestamp,
	}
}

// StatusChange returns the payload of an EntityStatusChanged event.
func (e Event) StatusChange() models.StatusChangeEvent {
	return models.StatusChangeEvent{
		EntityID:  e.EntityID,
		Kind:      e.Kind,
		NewStatus: e.Status,
		Timestamp: e.Timestamp,
		Action:    e.Action,
	}
}

// ExternalName is the event name the dashboard listens for, e.g.
// "newBusinessCreated" or "productStatusUpdated".
func (e Event) ExternalName() string {
	noun := "business"
	if e.Kind == models.KindProduct {
		noun = "product"
	}
	switch e.Name {
	case EntityCreated:
		if noun == "product" {
			return "newProductCreated"
		}
		return "newBusinessCreated"
	case EntityStatusChanged:
		return noun + "StatusUpdated"
	}
	return string(e.Name)
}

// Handler receives events synchronously on the publisher's goroutine.
type Handler func(Event)

type subscription struct {
	id      string
	name    Name
	all     bool
	handler Handler
}

// Bus delivers each event to its subscribers in subscription order.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	logger logger.Logger
}

func New(log logger.Logger) *Bus {
	return &Bus{logger: logger.Component(log, "eventbus")}
}

// Subscribe registers h for events named name. The returned function
// unsubscribes and may be called any number of times.
func (b *Bus) Subscribe(name Name, h Handler) func() {
	return b.add(subscription{name: name, handler: h})
}

// SubscribeAll registers h for every event.
func (b *Bus) SubscribeAll(h Handler) func() {
	return b.add(subscription{all: true, handler: h})
}

func (b *Bus) add(sub subscription) func() {
	sub.id = uuid.NewString()

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub.id) })
	}
}

func (b *Bus) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to every current subscriber before returning.
// Handlers may publish or unsubscribe re-entrantly. A panicking handler is
// logged and does not stop delivery to the rest.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	targets := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.all || s.name == ev.Name {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", map[string]interface{}{
				"event":          string(ev.Name),
				"entityId":       ev.EntityID,
				"subscriptionId": s.id,
				"panic":          fmt.Sprint(r),
			})
		}
	}()
	s.handler(ev)
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
