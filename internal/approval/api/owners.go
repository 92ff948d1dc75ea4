package api

import (
	"context"
	"errors"
	"sync"

	"approval-sync/internal/common/logger"
	"approval-sync/internal/models"
)

// DefaultMaxOwnerViews caps the owner lists kept mounted at once.
const DefaultMaxOwnerViews = 256

var errOwnerViewsClosed = errors.New("owner views closed")

// OwnerMountFunc mounts the list of kind owned by ownerID. The returned
// function unmounts it.
type OwnerMountFunc func(ctx context.Context, kind models.EntityKind, ownerID string) (EntityView, func(), error)

type ownerKey struct {
	kind    models.EntityKind
	ownerID string
}

type ownerEntry struct {
	view    EntityView
	unmount func()
	err     error
	used    uint64
	ready   chan struct{}
}

// OwnerViews mounts owner lists on first request and keeps at most limit of
// them, unmounting the least recently requested.
type OwnerViews struct {
	ctx    context.Context
	mount  OwnerMountFunc
	limit  int
	logger logger.Logger

	mu     sync.Mutex
	tick   uint64
	views  map[ownerKey]*ownerEntry
	closed bool
}

// NewOwnerViews mounts with ctx, which bounds the life of every owner list.
func NewOwnerViews(ctx context.Context, mount OwnerMountFunc, limit int, log logger.Logger) *OwnerViews {
	if limit <= 0 {
		limit = DefaultMaxOwnerViews
	}
	return &OwnerViews{
		ctx:    ctx,
		mount:  mount,
		limit:  limit,
		logger: logger.Component(log, "owner-views"),
		views:  make(map[ownerKey]*ownerEntry),
	}
}

// Get returns the mounted list of kind for ownerID, mounting it on first
// use. Concurrent first requests share one mount.
func (o *OwnerViews) Get(kind models.EntityKind, ownerID string) (EntityView, error) {
	key := ownerKey{kind: kind, ownerID: ownerID}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, errOwnerViewsClosed
	}
	o.tick++
	if e, ok := o.views[key]; ok {
		e.used = o.tick
		o.mu.Unlock()
		<-e.ready
		return e.view, e.err
	}
	e := &ownerEntry{used: o.tick, ready: make(chan struct{})}
	o.views[key] = e
	evicted := o.evictLocked(key)
	o.mu.Unlock()

	for _, unmount := range evicted {
		unmount()
	}

	view, unmount, err := o.mount(o.ctx, kind, ownerID)

	o.mu.Lock()
	e.view, e.unmount, e.err = view, unmount, err
	current := o.views[key] == e
	if err != nil && current {
		delete(o.views, key)
	}
	discard := err == nil && (o.closed || !current)
	o.mu.Unlock()
	close(e.ready)

	if err != nil {
		return nil, err
	}
	if discard {
		unmount()
	} else {
		o.logger.Debug("owner view mounted", map[string]interface{}{
			"kind":    kind,
			"ownerId": ownerID,
		})
	}
	return view, nil
}

// evictLocked drops the least recently used entries other than keep until
// the cache fits. Entries still mounting are unmounted by their mounter.
func (o *OwnerViews) evictLocked(keep ownerKey) []func() {
	var unmounts []func()
	for len(o.views) > o.limit {
		var oldest ownerKey
		var found bool
		var oldestUsed uint64
		for k, e := range o.views {
			if k == keep {
				continue
			}
			if !found || e.used < oldestUsed {
				oldest, oldestUsed, found = k, e.used, true
			}
		}
		if !found {
			break
		}
		if e := o.views[oldest]; e.unmount != nil {
			unmounts = append(unmounts, e.unmount)
		}
		delete(o.views, oldest)
		o.logger.Debug("owner view evicted", map[string]interface{}{
			"kind":    oldest.kind,
			"ownerId": oldest.ownerID,
		})
	}
	return unmounts
}

// Len reports how many owner lists are mounted or mounting.
func (o *OwnerViews) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.views)
}

// Close unmounts every owner list. Later Gets fail.
func (o *OwnerViews) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	var unmounts []func()
	for _, e := range o.views {
		if e.unmount != nil {
			unmounts = append(unmounts, e.unmount)
		}
	}
	o.views = make(map[ownerKey]*ownerEntry)
	o.mu.Unlock()

	for _, unmount := range unmounts {
		unmount()
	}
}
