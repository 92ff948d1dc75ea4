package reconciler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"approval-sync/internal/approval/eventbus"
	apperrors "approval-sync/internal/common/errors"
	"approval-sync/internal/common/logger"
	"approval-sync/internal/common/metrics"
	"approval-sync/internal/common/observability"
	"approval-sync/internal/models"
)

// Visibility decides which merged entities a view shows.
type Visibility string

const (
	// VisibilityHidePending hides entities whose effective status is pending.
	VisibilityHidePending Visibility = "hide_pending"
	// VisibilityApprovedOnly shows approved entities only.
	VisibilityApprovedOnly Visibility = "approved_only"
)

// Lister loads the entities a view shows.
type Lister func(ctx context.Context) ([]models.Entity, error)

// Flags is the local override store as seen by a view.
type Flags interface {
	PendingIDs(ctx context.Context, kind models.EntityKind) ([]string, error)
	ClearPending(ctx context.Context, kind models.EntityKind, id string) error
}

// Subscriber is the event bus.
type Subscriber interface {
	Subscribe(name eventbus.Name, h eventbus.Handler) func()
}

// Config configures an entity view.
type Config struct {
	Name               string
	Kind               models.EntityKind
	PollInterval       time.Duration
	DebounceDelay      time.Duration
	MinRefreshInterval time.Duration
	Visibility         Visibility
	// RetainStaleOnFailure keeps the last snapshot when a load fails instead
	// of replacing it with an empty one.
	RetainStaleOnFailure bool
	// CollectStaleFlags clears flags of Kind that are absent from the
	// listing. Only safe for views that list every entity of the kind.
	CollectStaleFlags bool
}

type loadResult struct {
	entities []models.Entity
	flags    map[string]struct{}
}

// Reconciler is an entity view merging the backend listing with local
// pending flags.
type Reconciler struct {
	cfg    Config
	list   Lister
	flags  Flags
	bus    Subscriber
	clock  Clock
	logger logger.Logger
	sched  *Scheduler[loadResult]
	snap   atomic.Pointer[models.Snapshot]

	// trackMu is taken after the scheduler lock, never before it.
	trackMu   sync.Mutex
	firstSeen map[string]uint64
	confirmed map[string]models.ApprovalStatus

	subMu       sync.Mutex
	unsubscribe []func()
}

func New(cfg Config, list Lister, flags Flags, bus Subscriber, clock Clock, log logger.Logger, obs *observability.Observability) *Reconciler {
	if cfg.Visibility == "" {
		cfg.Visibility = VisibilityHidePending
	}
	if clock == nil {
		clock = RealClock()
	}
	r := &Reconciler{
		cfg:       cfg,
		list:      list,
		flags:     flags,
		bus:       bus,
		clock:     clock,
		logger:    logger.Component(log, "reconciler").WithFields(map[string]interface{}{"view": cfg.Name, "kind": cfg.Kind}),
		firstSeen: make(map[string]uint64),
		confirmed: make(map[string]models.ApprovalStatus),
	}
	r.sched = NewScheduler(SchedulerConfig{
		Name:               cfg.Name,
		PollInterval:       cfg.PollInterval,
		DebounceDelay:      cfg.DebounceDelay,
		MinRefreshInterval: cfg.MinRefreshInterval,
	}, clock, r.load, r.applyResult, log, obs)
	r.snap.Store(&models.Snapshot{Kind: cfg.Kind, Entities: []models.ViewEntity{}, Visible: []models.ViewEntity{}})
	return r
}

// Start subscribes to the bus, arms polling and runs the initial load.
func (r *Reconciler) Start(ctx context.Context) error {
	r.subMu.Lock()
	if r.bus != nil && len(r.unsubscribe) == 0 {
		r.unsubscribe = append(r.unsubscribe,
			r.bus.Subscribe(eventbus.EntityCreated, r.onCreated),
			r.bus.Subscribe(eventbus.EntityStatusChanged, r.onStatusChanged),
		)
	}
	r.subMu.Unlock()

	r.sched.Start(ctx)
	_, err := r.sched.Refresh(ctx, RefreshOptions{Force: true, Reason: "mount"})
	return err
}

// Stop unsubscribes and cancels timers and in-flight loads.
func (r *Reconciler) Stop() {
	r.subMu.Lock()
	for _, unsub := range r.unsubscribe {
		unsub()
	}
	r.unsubscribe = nil
	r.subMu.Unlock()
	r.sched.Stop()
}

// Snapshot returns the current state of the view.
func (r *Reconciler) Snapshot() models.Snapshot {
	return *r.snap.Load()
}

// Kind is the entity kind the view shows.
func (r *Reconciler) Kind() models.EntityKind { return r.cfg.Kind }

// Refresh runs a cycle immediately.
func (r *Reconciler) Refresh(ctx context.Context, opts RefreshOptions) (bool, error) {
	return r.sched.Refresh(ctx, opts)
}

// ForceRefresh runs a confirming cycle that bypasses the rate guard.
func (r *Reconciler) ForceRefresh(ctx context.Context) error {
	_, err := r.sched.Refresh(ctx, RefreshOptions{Force: true, Confirm: true, Reason: "review"})
	return err
}

// Focus requests a confirming refresh, as when the user returns to the view.
func (r *Reconciler) Focus() {
	r.sched.Trigger("focus", true)
}

// Resolve applies a review outcome locally.
func (r *Reconciler) Resolve(ev models.StatusChangeEvent) {
	if ev.Kind != r.cfg.Kind {
		return
	}
	r.sched.Mutate(func(seq uint64) { r.patchLocked(seq, ev) })
}

func (r *Reconciler) onCreated(ev eventbus.Event) {
	if ev.Kind != r.cfg.Kind {
		return
	}
	r.sched.Trigger("entity-created", true)
}

func (r *Reconciler) onStatusChanged(ev eventbus.Event) {
	if ev.Kind != r.cfg.Kind || !r.tracks(ev.EntityID) {
		return
	}
	r.sched.Mutate(func(seq uint64) { r.patchLocked(seq, ev.StatusChange()) })
	r.sched.Trigger("status-changed", true)
}

func (r *Reconciler) tracks(id string) bool {
	for _, e := range r.snap.Load().Entities {
		if e.ID == id {
			return true
		}
	}
	r.trackMu.Lock()
	defer r.trackMu.Unlock()
	_, ok := r.firstSeen[id]
	return ok
}

// load lists the entities and reads the flags. A failing flag store
// degrades to "no flags".
func (r *Reconciler) load(ctx context.Context, req Request) (loadResult, error) {
	entities, err := r.list(ctx)
	if err != nil {
		return loadResult{}, err
	}

	flags := make(map[string]struct{})
	ids, err := r.flags.PendingIDs(ctx, r.cfg.Kind)
	if err != nil {
		r.logger.Warn("local override store unavailable, ignoring pending flags", map[string]interface{}{
			"errorCode": string(apperrors.CodeOf(err)),
			"error":     err,
		})
		ids = nil
	}

	r.trackMu.Lock()
	for _, id := range ids {
		flags[id] = struct{}{}
		if _, ok := r.firstSeen[id]; !ok {
			r.firstSeen[id] = req.Seq
		}
	}
	r.trackMu.Unlock()

	return loadResult{entities: entities, flags: flags}, nil
}

func (r *Reconciler) applyResult(req Request, res loadResult, err error) func(context.Context) {
	now := r.clock.Now()
	if err != nil {
		if r.cfg.RetainStaleOnFailure {
			return nil
		}
		r.store(buildSnapshot(req.Seq, r.cfg, nil, now))
		return nil
	}

	r.trackMu.Lock()
	defer r.trackMu.Unlock()

	present := make(map[string]struct{}, len(res.entities))
	merged := make([]models.ViewEntity, 0, len(res.entities))
	var confirmedClears, staleClears []string

	for _, e := range res.entities {
		present[e.ID] = struct{}{}
		_, flagged := res.flags[e.ID]
		view := models.ViewEntity{Entity: e, EffectiveStatus: e.ApprovalStatus}

		if _, known := r.confirmed[e.ID]; known {
			// A flag reappearing after confirmation is never reinstated.
			if flagged {
				confirmedClears = append(confirmedClears, e.ID)
			}
			if e.ApprovalStatus.IsTerminal() {
				r.confirmed[e.ID] = e.ApprovalStatus
			}
		} else if flagged {
			seen, ok := r.firstSeen[e.ID]
			if e.ApprovalStatus.IsTerminal() && (req.Confirm || (ok && seen < req.Seq)) {
				r.confirmed[e.ID] = e.ApprovalStatus
				confirmedClears = append(confirmedClears, e.ID)
			} else {
				view.EffectiveStatus = models.StatusPending
				view.LocallyPending = true
			}
		}

		merged = append(merged, view)
	}

	if r.cfg.CollectStaleFlags {
		for id := range res.flags {
			if _, ok := present[id]; ok {
				continue
			}
			if seen, ok := r.firstSeen[id]; ok && seen < req.Seq {
				staleClears = append(staleClears, id)
			}
		}
	}

	for _, id := range confirmedClears {
		delete(r.firstSeen, id)
	}
	for _, id := range staleClears {
		delete(r.firstSeen, id)
	}
	for id, seen := range r.firstSeen {
		if _, flagged := res.flags[id]; !flagged && seen <= req.Seq {
			delete(r.firstSeen, id)
		}
	}
	for id := range r.confirmed {
		if _, ok := present[id]; !ok {
			delete(r.confirmed, id)
		}
	}

	r.store(buildSnapshot(req.Seq, r.cfg, merged, now))

	if len(confirmedClears) == 0 && len(staleClears) == 0 {
		return nil
	}
	return func(ctx context.Context) {
		r.clearFlags(ctx, confirmedClears, "confirmed")
		r.clearFlags(ctx, staleClears, "stale")
	}
}

func (r *Reconciler) clearFlags(ctx context.Context, ids []string, reason string) {
	cleared := 0
	for _, id := range ids {
		if err := r.flags.ClearPending(ctx, r.cfg.Kind, id); err != nil {
			r.logger.Warn("failed to clear local pending flag", map[string]interface{}{
				"entityId": id,
				"reason":   reason,
				"error":    err,
			})
			continue
		}
		cleared++
	}
	if cleared > 0 {
		metrics.FlagsCollected.WithLabelValues(string(r.cfg.Kind), reason).Add(float64(cleared))
	}
}

// patchLocked applies ev to the current snapshot. Runs under the scheduler
// lock.
func (r *Reconciler) patchLocked(seq uint64, ev models.StatusChangeEvent) {
	r.trackMu.Lock()
	if ev.NewStatus.IsTerminal() {
		r.confirmed[ev.EntityID] = ev.NewStatus
	}
	delete(r.firstSeen, ev.EntityID)
	r.trackMu.Unlock()

	current := r.snap.Load()
	entities := make([]models.ViewEntity, len(current.Entities))
	copy(entities, current.Entities)
	for i := range entities {
		if entities[i].ID != ev.EntityID {
			continue
		}
		entities[i].EffectiveStatus = ev.NewStatus
		entities[i].LocallyPending = false
	}

	next := buildSnapshot(seq, r.cfg, entities, current.RefreshedAt)
	r.store(next)
}

func buildSnapshot(seq uint64, cfg Config, entities []models.ViewEntity, at time.Time) *models.Snapshot {
	if entities == nil {
		entities = []models.ViewEntity{}
	}
	visible := make([]models.ViewEntity, 0, len(entities))
	pending := 0
	for _, e := range entities {
		if e.EffectiveStatus == models.StatusPending {
			pending++
		}
		if cfg.shows(e.EffectiveStatus) {
			visible = append(visible, e)
		}
	}
	return &models.Snapshot{
		Seq:          seq,
		Kind:         cfg.Kind,
		Entities:     entities,
		Visible:      visible,
		PendingCount: pending,
		RefreshedAt:  at,
	}
}

func (c Config) shows(status models.ApprovalStatus) bool {
	if c.Visibility == VisibilityApprovedOnly {
		return status == models.StatusApproved
	}
	return status != models.StatusPending
}

func (r *Reconciler) store(s *models.Snapshot) {
	r.snap.Store(s)
	metrics.PendingCount.WithLabelValues(r.cfg.Name).Set(float64(s.PendingCount))
}
