// Package commands performs admin approve/reject round trips and applies
// their outcome to every attached view.
package commands

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"approval-sync/internal/approval/eventbus"
	apperrors "approval-sync/internal/common/errors"
	"approval-sync/internal/common/logger"
	"approval-sync/internal/common/metrics"
	"approval-sync/internal/models"
)

// Backend performs the review call and reports the HTTP status.
type Backend interface {
	Approve(ctx context.Context, kind models.EntityKind, id string) (int, error)
	Reject(ctx context.Context, kind models.EntityKind, id, reason string) (int, error)
}

// Overrides clears the local pending flag of a reviewed entity.
type Overrides interface {
	ClearPending(ctx context.Context, kind models.EntityKind, id string) error
}

// Publisher is the event bus.
type Publisher interface {
	Publish(ev eventbus.Event)
}

// View is a mounted view that reflects review outcomes.
type View interface {
	// Resolve patches the view locally: notification feeds drop the entity
	// and decrement their counter, entity views take the new status.
	Resolve(ev models.StatusChangeEvent)
	// ForceRefresh re-fetches, bypassing the rate guard.
	ForceRefresh(ctx context.Context) error
}

type attachment struct {
	id   uint64
	view View
}

// Commander executes approve and reject.
type Commander struct {
	backend   Backend
	overrides Overrides
	bus       Publisher
	logger    logger.Logger
	now       func() time.Time

	mu     sync.Mutex
	nextID uint64
	views  map[models.EntityKind][]attachment
}

func NewCommander(backend Backend, overrides Overrides, bus Publisher, log logger.Logger) *Commander {
	return &Commander{
		backend:   backend,
		overrides: overrides,
		bus:       bus,
		logger:    logger.Component(log, "commander"),
		now:       time.Now,
		views:     make(map[models.EntityKind][]attachment),
	}
}

// Attach registers view for outcomes of kind. The returned function
// detaches it and is safe to call more than once.
func (c *Commander) Attach(kind models.EntityKind, view View) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.views[kind] = append(c.views[kind], attachment{id: id, view: view})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			list := c.views[kind]
			for i, a := range list {
				if a.id == id {
					c.views[kind] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

func (c *Commander) attached(kind models.EntityKind) []View {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]View, 0, len(c.views[kind]))
	for _, a := range c.views[kind] {
		out = append(out, a.view)
	}
	return out
}

// Approve approves an entity.
func (c *Commander) Approve(ctx context.Context, kind models.EntityKind, id string) error {
	return c.execute(ctx, kind, id, models.ActionApprove, "")
}

// Reject rejects an entity. An empty reason becomes "Not approved by admin".
func (c *Commander) Reject(ctx context.Context, kind models.EntityKind, id, reason string) error {
	return c.execute(ctx, kind, id, models.ActionReject, reason)
}

func (c *Commander) execute(ctx context.Context, kind models.EntityKind, id string, action models.Action, reason string) error {
	if !kind.Valid() {
		return apperrors.NewValidationError("unknown entity kind " + string(kind))
	}
	if strings.TrimSpace(id) == "" {
		return apperrors.NewValidationError("entity id is required")
	}

	log := c.logger.WithFields(map[string]interface{}{
		"kind":     kind,
		"entityId": id,
		"action":   action,
	})

	start := time.Now()
	var status int
	var err error
	if action == models.ActionApprove {
		status, err = c.backend.Approve(ctx, kind, id)
	} else {
		status, err = c.backend.Reject(ctx, kind, id, reason)
	}
	metrics.CommandDuration.WithLabelValues(string(kind), string(action)).Observe(time.Since(start).Seconds())

	if status != http.StatusOK && status != http.StatusCreated {
		cmdErr := newCommandError(kind, id, action, status, err)
		metrics.CommandsTotal.WithLabelValues(string(kind), string(action), string(cmdErr.Code)).Inc()
		log.Warn("review command failed", map[string]interface{}{
			"status":    status,
			"errorCode": string(cmdErr.Code),
			"error":     err,
		})
		return cmdErr
	}
	metrics.CommandsTotal.WithLabelValues(string(kind), string(action), "success").Inc()

	ev := models.StatusChangeEvent{
		EntityID:  id,
		Kind:      kind,
		NewStatus: action.Status(),
		Timestamp: c.now().UTC(),
		Action:    action,
	}

	views := c.attached(kind)
	for _, v := range views {
		v.Resolve(ev)
	}

	if err := c.overrides.ClearPending(ctx, kind, id); err != nil {
		// The review itself succeeded; a leftover flag is collected later.
		log.Warn("failed to clear local pending flag", map[string]interface{}{"error": err})
	}

	for _, v := range views {
		if err := v.ForceRefresh(ctx); err != nil {
			log.Warn("post-review refresh failed", map[string]interface{}{"error": err})
		}
	}

	c.bus.Publish(eventbus.StatusChanged(ev))

	log.Info("review command applied", map[string]interface{}{
		"status":     status,
		"views":      len(views),
		"durationMs": time.Since(start).Milliseconds(),
	})
	return nil
}
