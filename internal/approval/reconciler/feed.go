package reconciler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"approval-sync/internal/approval/eventbus"
	"approval-sync/internal/approval/notifications"
	"approval-sync/internal/common/logger"
	"approval-sync/internal/common/metrics"
	"approval-sync/internal/common/observability"
	"approval-sync/internal/models"
)

// Fetcher produces the pending notifications of a kind.
type Fetcher interface {
	Fetch(ctx context.Context, kind models.EntityKind) notifications.Result
}

// FeedConfig configures a notification badge.
type FeedConfig struct {
	Name               string
	Kind               models.EntityKind
	PollInterval       time.Duration
	DebounceDelay      time.Duration
	MinRefreshInterval time.Duration
}

// Feed is the admin notification badge of one kind. Its count is always the
// length of the list it publishes.
type Feed struct {
	cfg     FeedConfig
	fetcher Fetcher
	bus     Subscriber
	clock   Clock
	logger  logger.Logger
	sched   *Scheduler[notifications.Result]
	snap    atomic.Pointer[models.FeedSnapshot]

	subMu       sync.Mutex
	unsubscribe []func()
}

func NewFeed(cfg FeedConfig, fetcher Fetcher, bus Subscriber, clock Clock, log logger.Logger, obs *observability.Observability) *Feed {
	if clock == nil {
		clock = RealClock()
	}
	f := &Feed{
		cfg:     cfg,
		fetcher: fetcher,
		bus:     bus,
		clock:   clock,
		logger:  logger.Component(log, "notification-feed").WithFields(map[string]interface{}{"view": cfg.Name, "kind": cfg.Kind}),
	}
	f.sched = NewScheduler(SchedulerConfig{
		Name:               cfg.Name,
		PollInterval:       cfg.PollInterval,
		DebounceDelay:      cfg.DebounceDelay,
		MinRefreshInterval: cfg.MinRefreshInterval,
	}, clock, f.load, f.applyResult, log, obs)
	f.snap.Store(&models.FeedSnapshot{
		Kind:          cfg.Kind,
		Notifications: []models.Notification{},
		Source:        string(notifications.SourceNone),
	})
	return f
}

// Start subscribes to the bus, arms polling and runs the initial fetch.
func (f *Feed) Start(ctx context.Context) error {
	f.subMu.Lock()
	if f.bus != nil && len(f.unsubscribe) == 0 {
		f.unsubscribe = append(f.unsubscribe,
			f.bus.Subscribe(eventbus.EntityCreated, f.onCreated),
			f.bus.Subscribe(eventbus.EntityStatusChanged, f.onStatusChanged),
		)
	}
	f.subMu.Unlock()

	f.sched.Start(ctx)
	_, err := f.sched.Refresh(ctx, RefreshOptions{Force: true, Reason: "mount"})
	return err
}

// Stop unsubscribes and cancels timers and in-flight fetches.
func (f *Feed) Stop() {
	f.subMu.Lock()
	for _, unsub := range f.unsubscribe {
		unsub()
	}
	f.unsubscribe = nil
	f.subMu.Unlock()
	f.sched.Stop()
}

func (f *Feed) Snapshot() models.FeedSnapshot {
	return *f.snap.Load()
}

func (f *Feed) Kind() models.EntityKind { return f.cfg.Kind }

// Refresh runs a fetch immediately.
func (f *Feed) Refresh(ctx context.Context, opts RefreshOptions) (bool, error) {
	return f.sched.Refresh(ctx, opts)
}

// ForceRefresh fetches immediately, bypassing the rate guard.
func (f *Feed) ForceRefresh(ctx context.Context) error {
	_, err := f.sched.Refresh(ctx, RefreshOptions{Force: true, Confirm: true, Reason: "review"})
	return err
}

// Focus requests a refresh, as when the admin returns to the badge.
func (f *Feed) Focus() {
	f.sched.Trigger("focus", true)
}

// Resolve removes the reviewed entity from the badge.
func (f *Feed) Resolve(ev models.StatusChangeEvent) {
	if ev.Kind != f.cfg.Kind {
		return
	}
	f.Remove(ev.EntityID)
}

// Remove drops every notification matching id; the count follows the
// remaining list. Fetches in flight are discarded when they land.
func (f *Feed) Remove(id string) {
	f.sched.Mutate(func(seq uint64) {
		current := f.snap.Load()
		kept := make([]models.Notification, 0, len(current.Notifications))
		for _, n := range current.Notifications {
			if !n.Matches(id) {
				kept = append(kept, n)
			}
		}
		f.store(&models.FeedSnapshot{
			Seq:           seq,
			Kind:          f.cfg.Kind,
			Notifications: kept,
			PendingCount:  len(kept),
			Source:        current.Source,
			RefreshedAt:   current.RefreshedAt,
		})
	})
}

func (f *Feed) onCreated(ev eventbus.Event) {
	if ev.Kind != f.cfg.Kind {
		return
	}
	f.sched.Trigger("entity-created", true)
}

func (f *Feed) onStatusChanged(ev eventbus.Event) {
	if ev.Kind != f.cfg.Kind {
		return
	}
	if f.contains(ev.EntityID) {
		f.Remove(ev.EntityID)
	}
	f.sched.Trigger("status-changed", true)
}

func (f *Feed) contains(id string) bool {
	for _, n := range f.snap.Load().Notifications {
		if n.Matches(id) {
			return true
		}
	}
	return false
}

func (f *Feed) load(ctx context.Context, _ Request) (notifications.Result, error) {
	return f.fetcher.Fetch(ctx, f.cfg.Kind), nil
}

func (f *Feed) applyResult(req Request, res notifications.Result, _ error) func(context.Context) {
	list := res.Notifications
	if list == nil {
		list = []models.Notification{}
	}
	f.store(&models.FeedSnapshot{
		Seq:           req.Seq,
		Kind:          f.cfg.Kind,
		Notifications: list,
		PendingCount:  len(list),
		Source:        string(res.Source),
		RefreshedAt:   f.clock.Now(),
	})
	return nil
}

func (f *Feed) store(s *models.FeedSnapshot) {
	f.snap.Store(s)
	metrics.PendingCount.WithLabelValues(f.cfg.Name).Set(float64(s.PendingCount))
}
