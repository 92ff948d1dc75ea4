// Package notifications builds the pending-submission list behind the admin
// badge, from the notifications endpoint or, failing that, the listing.
package notifications

import (
	"context"
	"time"

	apperrors "approval-sync/internal/common/errors"
	"approval-sync/internal/common/logger"
	"approval-sync/internal/common/metrics"
	"approval-sync/internal/models"
)

// Source says where a fetch result came from.
type Source string

const (
	SourceEndpoint Source = "endpoint"
	SourceFallback Source = "fallback"
	SourceNone     Source = "none"
)

// Backend is the slice of the backend client the fetcher needs.
type Backend interface {
	Lister
	Notifications(ctx context.Context) ([]models.Notification, error)
}

// Result is the outcome of one fetch. Notifications is never nil.
type Result struct {
	Notifications []models.Notification
	Source        Source
}

// Fetcher produces the pending notifications of a kind.
type Fetcher struct {
	backend Backend
	orphans *OrphanFilter
	config  Config
	logger  logger.Logger
}

func NewFetcher(backend Backend, cfg Config, log logger.Logger) *Fetcher {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Fetcher{
		backend: backend,
		orphans: NewOrphanFilter(backend, log),
		config:  cfg,
		logger:  logger.Component(log, "notification-fetcher"),
	}
}

// Fetch never fails: when neither the endpoint nor the listing answers, the
// result is empty with Source none.
func (f *Fetcher) Fetch(ctx context.Context, kind models.EntityKind) Result {
	result := f.fetch(ctx, kind)
	if parent, ok := kind.Parent(); ok && len(result.Notifications) > 0 {
		result.Notifications = f.orphans.Filter(ctx, result.Notifications, parent)
	}
	metrics.NotificationFetches.WithLabelValues(string(kind), string(result.Source)).Inc()
	return result
}

func (f *Fetcher) fetch(ctx context.Context, kind models.EntityKind) Result {
	reason := "disabled"
	if f.config.UseEndpoint {
		items, err := f.backend.Notifications(ctx)
		if err == nil {
			return Result{Notifications: filterKind(items, kind), Source: SourceEndpoint}
		}
		reason = string(apperrors.CodeOf(err))
		f.logger.Debug("notifications endpoint unavailable, using listing", map[string]interface{}{
			"kind":      kind,
			"errorCode": reason,
		})
	}

	metrics.NotificationFallbacks.WithLabelValues(string(kind), reason).Inc()

	entities, err := f.backend.ListAll(ctx, kind)
	if err != nil {
		f.logger.Warn("pending listing failed", map[string]interface{}{
			"kind":      kind,
			"errorCode": string(apperrors.CodeOf(err)),
			"error":     err,
		})
		return Result{Notifications: []models.Notification{}, Source: SourceNone}
	}

	return Result{Notifications: f.pending(kind, entities), Source: SourceFallback}
}

func (f *Fetcher) pending(kind models.EntityKind, entities []models.Entity) []models.Notification {
	now := f.config.Now()
	windowed := f.config.windowed(kind)
	out := make([]models.Notification, 0)
	for _, e := range entities {
		if e.ApprovalStatus != models.StatusPending {
			continue
		}
		if windowed {
			if e.CreatedAt.IsZero() || now.Sub(e.CreatedAt) > f.config.RecencyWindow {
				continue
			}
		}
		out = append(out, models.NotificationFromEntity(e))
	}
	return out
}

func filterKind(items []models.Notification, kind models.EntityKind) []models.Notification {
	out := make([]models.Notification, 0, len(items))
	for _, n := range items {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}
