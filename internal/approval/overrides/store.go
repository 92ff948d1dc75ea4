package overrides

import (
	"context"
	"strings"

	apperrors "approval-sync/internal/common/errors"
	"approval-sync/internal/common/logger"
	"approval-sync/internal/common/metrics"
	"approval-sync/internal/models"
)

const (
	keyPrefix    = "pending_"
	pendingValue = "true"
)

// Key returns the flag key for an entity, e.g. "pending_business_42".
func Key(kind models.EntityKind, id string) string {
	return keyPrefix + string(kind) + "_" + id
}

// ParseKey splits a flag key into its kind and entity ID.
func ParseKey(key string) (models.EntityKind, string, bool) {
	rest, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return "", "", false
	}
	for _, kind := range models.Kinds() {
		if id, ok := strings.CutPrefix(rest, string(kind)+"_"); ok && id != "" {
			return kind, id, true
		}
	}
	return "", "", false
}

// Store manages pending flags on top of a KV. Flags are keyed per entity,
// so concurrent writers from several processes converge without locking.
type Store struct {
	kv        KV
	namespace string
	logger    logger.Logger
}

// NewStore wraps kv. A non-empty namespace prefixes every key with
// "<namespace>:".
func NewStore(kv KV, namespace string, log logger.Logger) *Store {
	if namespace != "" && !strings.HasSuffix(namespace, ":") {
		namespace += ":"
	}
	return &Store{
		kv:        kv,
		namespace: namespace,
		logger:    logger.Component(log, "override-store"),
	}
}

func (s *Store) key(kind models.EntityKind, id string) string {
	return s.namespace + Key(kind, id)
}

// SetPending marks an entity as locally pending. Idempotent.
func (s *Store) SetPending(ctx context.Context, kind models.EntityKind, id string) error {
	if err := s.kv.Set(ctx, s.key(kind, id), pendingValue); err != nil {
		return apperrors.NewOverrideStoreError("set "+s.key(kind, id), err)
	}
	s.logger.Debug("local pending flag set", map[string]interface{}{"kind": kind, "entityId": id})
	return nil
}

// IsPending reports whether a flag with value "true" exists. Any other
// stored value counts as absent.
func (s *Store) IsPending(ctx context.Context, kind models.EntityKind, id string) (bool, error) {
	val, ok, err := s.kv.Get(ctx, s.key(kind, id))
	if err != nil {
		return false, apperrors.NewOverrideStoreError("get "+s.key(kind, id), err)
	}
	return ok && val == pendingValue, nil
}

// ClearPending removes the flag. Absent flags are not an error.
func (s *Store) ClearPending(ctx context.Context, kind models.EntityKind, id string) error {
	if err := s.kv.Delete(ctx, s.key(kind, id)); err != nil {
		return apperrors.NewOverrideStoreError("delete "+s.key(kind, id), err)
	}
	s.logger.Debug("local pending flag cleared", map[string]interface{}{"kind": kind, "entityId": id})
	return nil
}

// PendingIDs lists the entity IDs of every pending flag of kind.
func (s *Store) PendingIDs(ctx context.Context, kind models.EntityKind) ([]string, error) {
	prefix := s.namespace + keyPrefix + string(kind) + "_"
	keys, err := s.kv.Keys(ctx, prefix)
	if err != nil {
		return nil, apperrors.NewOverrideStoreError("list "+prefix, err)
	}

	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		keyKind, id, ok := ParseKey(strings.TrimPrefix(k, s.namespace))
		if !ok || keyKind != kind {
			continue
		}
		val, present, err := s.kv.Get(ctx, k)
		if err != nil {
			return nil, apperrors.NewOverrideStoreError("get "+k, err)
		}
		if present && val == pendingValue {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// GarbageCollect removes every flag of kind whose entity is not in existing.
// It returns how many flags were removed.
func (s *Store) GarbageCollect(ctx context.Context, kind models.EntityKind, existing map[string]struct{}) (int, error) {
	ids, err := s.PendingIDs(ctx, kind)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		if _, ok := existing[id]; ok {
			continue
		}
		if err := s.ClearPending(ctx, kind, id); err != nil {
			return removed, err
		}
		removed++
	}

	if removed > 0 {
		metrics.FlagsCollected.WithLabelValues(string(kind), "gc").Add(float64(removed))
		s.logger.Info("collected stale local pending flags", map[string]interface{}{
			"kind":    kind,
			"removed": removed,
		})
	}
	return removed, nil
}
