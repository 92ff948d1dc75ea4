package notifications

import (
	"context"

	apperrors "approval-sync/internal/common/errors"
	"approval-sync/internal/common/logger"
	"approval-sync/internal/common/metrics"
	"approval-sync/internal/models"
)

// Lister lists every entity of a kind.
type Lister interface {
	ListAll(ctx context.Context, kind models.EntityKind) ([]models.Entity, error)
}

// OrphanFilter drops notifications whose parent entity no longer exists.
type OrphanFilter struct {
	lister Lister
	logger logger.Logger
}

func NewOrphanFilter(lister Lister, log logger.Logger) *OrphanFilter {
	return &OrphanFilter{lister: lister, logger: logger.Component(log, "orphan-filter")}
}

// Filter keeps the items whose ParentID names an existing entity of
// parentKind. If the parent listing fails the input is returned unchanged.
func (f *OrphanFilter) Filter(ctx context.Context, items []models.Notification, parentKind models.EntityKind) []models.Notification {
	if len(items) == 0 {
		return items
	}

	parents, err := f.lister.ListAll(ctx, parentKind)
	if err != nil {
		metrics.OrphanFilterFailOpen.WithLabelValues(string(parentKind)).Inc()
		f.logger.Warn("parent listing failed, orphan filter skipped", map[string]interface{}{
			"parentKind": parentKind,
			"errorCode":  string(apperrors.CodeOf(err)),
			"error":      err,
		})
		return items
	}

	existing := make(map[string]struct{}, len(parents))
	for _, p := range parents {
		existing[p.ID] = struct{}{}
	}

	kept := make([]models.Notification, 0, len(items))
	dropped := 0
	for _, n := range items {
		if _, ok := existing[n.ParentID]; ok && n.ParentID != "" {
			kept = append(kept, n)
			continue
		}
		dropped++
		f.logger.Debug("dropping orphaned notification", map[string]interface{}{
			"error": apperrors.NewOrphanDataInconsistencyError(n.ID, n.ParentID),
		})
	}

	if dropped > 0 {
		metrics.OrphanNotificationsDropped.WithLabelValues(string(parentKind)).Add(float64(dropped))
	}
	return kept
}
