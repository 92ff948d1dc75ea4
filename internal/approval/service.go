// Package approval composes the approval-reconciliation core: the backend
// client, the local override store, the event bus, the notification
// fetcher, the review commands and the mounted views.
package approval

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"approval-sync/internal/approval/commands"
	"approval-sync/internal/approval/eventbus"
	"approval-sync/internal/approval/notifications"
	"approval-sync/internal/approval/overrides"
	"approval-sync/internal/approval/reconciler"
	"approval-sync/internal/common/config"
	apperrors "approval-sync/internal/common/errors"
	"approval-sync/internal/common/logger"
	"approval-sync/internal/common/observability"
	"approval-sync/internal/models"
)

// Backend is the REST backend as the service uses it.
type Backend interface {
	ListAll(ctx context.Context, kind models.EntityKind) ([]models.Entity, error)
	ListByOwner(ctx context.Context, kind models.EntityKind, ownerID string) ([]models.Entity, error)
	Notifications(ctx context.Context) ([]models.Notification, error)
	Approve(ctx context.Context, kind models.EntityKind, id string) (int, error)
	Reject(ctx context.Context, kind models.EntityKind, id, reason string) (int, error)
	Create(ctx context.Context, kind models.EntityKind, payload map[string]interface{}) (string, error)
}

// Options tunes the mounted views.
type Options struct {
	Reconciler    config.ReconcilerConfig
	Notifications notifications.Config
	// Clock drives the view timers; nil means the wall clock.
	Clock         reconciler.Clock
	Observability *observability.Observability
}

// DefaultOptions returns the production timings.
func DefaultOptions() Options {
	return Options{
		Reconciler: config.ReconcilerConfig{
			OwnerPollInterval:  config.DefaultOwnerPollInterval,
			AdminPollInterval:  config.DefaultAdminPollInterval,
			DebounceDelay:      config.DefaultDebounceDelay,
			MinRefreshInterval: config.DefaultMinRefreshInterval,
			Visibility:         string(reconciler.VisibilityHidePending),
		},
		Notifications: notifications.DefaultConfig(),
	}
}

// Service is the entry point of the approval core.
type Service struct {
	backend   Backend
	store     *overrides.Store
	bus       *eventbus.Bus
	fetcher   *notifications.Fetcher
	commander *commands.Commander
	opts      Options
	base      logger.Logger
	logger    logger.Logger

	mu     sync.Mutex
	nextID uint64
	mounts map[uint64]func()
	closed bool
}

func NewService(backend Backend, store *overrides.Store, bus *eventbus.Bus, opts Options, log logger.Logger) *Service {
	if bus == nil {
		bus = eventbus.New(log)
	}
	return &Service{
		backend:   backend,
		store:     store,
		bus:       bus,
		fetcher:   notifications.NewFetcher(backend, opts.Notifications, log),
		commander: commands.NewCommander(backend, store, bus, log),
		opts:      opts,
		base:      log,
		logger:    logger.Component(log, "approval-service"),
		mounts:    make(map[uint64]func()),
	}
}

// Bus returns the event bus views and the broadcaster subscribe to.
func (s *Service) Bus() *eventbus.Bus { return s.bus }

// Overrides returns the local override store.
func (s *Service) Overrides() *overrides.Store { return s.store }

// Submit creates an entity, flags it as locally pending and announces it.
func (s *Service) Submit(ctx context.Context, kind models.EntityKind, payload map[string]interface{}) (string, error) {
	if !kind.Valid() {
		return "", apperrors.NewValidationError(fmt.Sprintf("unknown entity kind %q", kind))
	}
	id, err := s.backend.Create(ctx, kind, payload)
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", kind, err)
	}

	if err := s.store.SetPending(ctx, kind, id); err != nil {
		s.logger.Warn("failed to flag new submission as pending", map[string]interface{}{
			"kind":     kind,
			"entityId": id,
			"error":    err,
		})
	}
	s.bus.Publish(eventbus.Created(kind, id, time.Now().UTC()))

	s.logger.Info("submission created", map[string]interface{}{"kind": kind, "entityId": id})
	return id, nil
}

// Approve approves an entity and applies the outcome to every mounted view.
func (s *Service) Approve(ctx context.Context, kind models.EntityKind, id string) error {
	return s.commander.Approve(ctx, kind, id)
}

// Reject rejects an entity with reason and applies the outcome to every
// mounted view.
func (s *Service) Reject(ctx context.Context, kind models.EntityKind, id, reason string) error {
	return s.commander.Reject(ctx, kind, id, reason)
}

// CollectOverrides removes local pending flags of kind whose entity no
// longer exists at the backend. Nothing is removed when the listing fails.
func (s *Service) CollectOverrides(ctx context.Context, kind models.EntityKind) (int, error) {
	if !kind.Valid() {
		return 0, apperrors.NewValidationError(fmt.Sprintf("unknown entity kind %q", kind))
	}
	entities, err := s.backend.ListAll(ctx, kind)
	if err != nil {
		return 0, fmt.Errorf("list %s for override collection: %w", kind, err)
	}
	existing := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		existing[e.ID] = struct{}{}
	}
	return s.store.GarbageCollect(ctx, kind, existing)
}

// MountFeed mounts the admin notification badge of kind. The returned
// function unmounts it.
func (s *Service) MountFeed(ctx context.Context, kind models.EntityKind) (*reconciler.Feed, func(), error) {
	if !kind.Valid() {
		return nil, nil, apperrors.NewValidationError(fmt.Sprintf("unknown entity kind %q", kind))
	}
	rc := s.opts.Reconciler
	feed := reconciler.NewFeed(reconciler.FeedConfig{
		Name:               "admin-" + string(kind) + "-feed",
		Kind:               kind,
		PollInterval:       config.GetDuration(rc.AdminPollInterval),
		DebounceDelay:      config.GetDuration(rc.DebounceDelay),
		MinRefreshInterval: config.GetDuration(rc.MinRefreshInterval),
	}, s.fetcher, s.bus, s.opts.Clock, s.base, s.opts.Observability)

	unmount, err := s.mount(ctx, kind, feed)
	if err != nil {
		return nil, nil, err
	}
	return feed, unmount, nil
}

// MountAdminView mounts the admin list of every entity of kind.
func (s *Service) MountAdminView(ctx context.Context, kind models.EntityKind) (*reconciler.Reconciler, func(), error) {
	if !kind.Valid() {
		return nil, nil, apperrors.NewValidationError(fmt.Sprintf("unknown entity kind %q", kind))
	}
	rc := s.opts.Reconciler
	list := func(ctx context.Context) ([]models.Entity, error) {
		return s.backend.ListAll(ctx, kind)
	}
	view := reconciler.New(reconciler.Config{
		Name:                 "admin-" + string(kind),
		Kind:                 kind,
		PollInterval:         config.GetDuration(rc.AdminPollInterval),
		DebounceDelay:        config.GetDuration(rc.DebounceDelay),
		MinRefreshInterval:   config.GetDuration(rc.MinRefreshInterval),
		Visibility:           reconciler.Visibility(rc.Visibility),
		RetainStaleOnFailure: rc.RetainStaleOnFailure,
		CollectStaleFlags:    !rc.SkipStaleFlagCollect,
	}, list, s.store, s.bus, s.opts.Clock, s.base, s.opts.Observability)

	unmount, err := s.mount(ctx, kind, view)
	if err != nil {
		return nil, nil, err
	}
	return view, unmount, nil
}

// MountOwnerView mounts the list of kind owned by ownerID: the businesses of
// an owner, or the products of a business.
func (s *Service) MountOwnerView(ctx context.Context, kind models.EntityKind, ownerID string) (*reconciler.Reconciler, func(), error) {
	if !kind.Valid() {
		return nil, nil, apperrors.NewValidationError(fmt.Sprintf("unknown entity kind %q", kind))
	}
	if strings.TrimSpace(ownerID) == "" {
		return nil, nil, apperrors.NewValidationError("owner id is required")
	}
	rc := s.opts.Reconciler
	list := func(ctx context.Context) ([]models.Entity, error) {
		return s.backend.ListByOwner(ctx, kind, ownerID)
	}
	view := reconciler.New(reconciler.Config{
		Name:                 "owner-" + string(kind),
		Kind:                 kind,
		PollInterval:         config.GetDuration(rc.OwnerPollInterval),
		DebounceDelay:        config.GetDuration(rc.DebounceDelay),
		MinRefreshInterval:   config.GetDuration(rc.MinRefreshInterval),
		Visibility:           reconciler.Visibility(rc.Visibility),
		RetainStaleOnFailure: rc.RetainStaleOnFailure,
	}, list, s.store, s.bus, s.opts.Clock, s.base, s.opts.Observability)

	unmount, err := s.mount(ctx, kind, view)
	if err != nil {
		return nil, nil, err
	}
	return view, unmount, nil
}

type mountable interface {
	commands.View
	Start(ctx context.Context) error
	Stop()
}

// mount starts v and attaches it to the commander. A failed initial load
// leaves the view mounted with whatever its failure policy produced.
func (s *Service) mount(ctx context.Context, kind models.EntityKind, v mountable) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("approval service is closed")
	}
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	if err := v.Start(ctx); err != nil {
		s.logger.Warn("initial view load failed", map[string]interface{}{
			"kind":      kind,
			"errorCode": string(apperrors.CodeOf(err)),
			"error":     err,
		})
	}
	detach := s.commander.Attach(kind, v)

	var once sync.Once
	unmount := func() {
		once.Do(func() {
			detach()
			v.Stop()
			s.mu.Lock()
			delete(s.mounts, id)
			s.mu.Unlock()
		})
	}

	s.mu.Lock()
	s.mounts[id] = unmount
	s.mu.Unlock()
	return unmount, nil
}

// Close unmounts every view. The service cannot mount views afterwards.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	unmounts := make([]func(), 0, len(s.mounts))
	for _, u := range s.mounts {
		unmounts = append(unmounts, u)
	}
	s.mu.Unlock()

	for _, u := range unmounts {
		u()
	}
}
