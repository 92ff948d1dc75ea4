package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"approval-sync/internal/approval/overrides"
	"approval-sync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listingBackend struct {
	entities map[models.EntityKind][]models.Entity
	err      error
}

func (b *listingBackend) ListAll(_ context.Context, kind models.EntityKind) ([]models.Entity, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.entities[kind], nil
}

func (b *listingBackend) ListByOwner(context.Context, models.EntityKind, string) ([]models.Entity, error) {
	return nil, nil
}

func (b *listingBackend) Notifications(context.Context) ([]models.Notification, error) {
	return nil, nil
}

func (b *listingBackend) Approve(context.Context, models.EntityKind, string) (int, error) {
	return 200, nil
}

func (b *listingBackend) Reject(context.Context, models.EntityKind, string, string) (int, error) {
	return 200, nil
}

func (b *listingBackend) Create(context.Context, models.EntityKind, map[string]interface{}) (string, error) {
	return "", nil
}

func createTestStore(t *testing.T) *overrides.Store {
	t.Helper()
	store := overrides.NewStore(overrides.NewMemoryKV(), "", nil)
	ctx := context.Background()
	require.NoError(t, store.SetPending(ctx, models.KindBusiness, "B2"))
	require.NoError(t, store.SetPending(ctx, models.KindBusiness, "B1"))
	require.NoError(t, store.SetPending(ctx, models.KindProduct, "P1"))
	return store
}

// ==========================
// list / set / clear
// ==========================

func TestListFlags(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		want    string
		wantErr bool
	}{
		{name: "all kinds", kind: "", want: "business\tB1\nbusiness\tB2\nproduct\tP1\n3 pending flag(s)\n"},
		{name: "single kind", kind: "products", want: "product\tP1\n1 pending flag(s)\n"},
		{name: "unknown kind", kind: "order", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := listFlags(context.Background(), &out, createTestStore(t), tt.kind)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestSetAndClearFlag(t *testing.T) {
	ctx := context.Background()
	store := overrides.NewStore(overrides.NewMemoryKV(), "admin", nil)
	var out bytes.Buffer

	require.NoError(t, setFlag(ctx, &out, store, "business", "B9"))
	pending, err := store.IsPending(ctx, models.KindBusiness, "B9")
	require.NoError(t, err)
	assert.True(t, pending)

	require.NoError(t, clearFlag(ctx, &out, store, "business", "B9"))
	pending, err = store.IsPending(ctx, models.KindBusiness, "B9")
	require.NoError(t, err)
	assert.False(t, pending)

	assert.Contains(t, out.String(), "Flagged business B9 as pending")
	assert.Contains(t, out.String(), "Cleared pending flag of business B9")
	assert.Error(t, setFlag(ctx, &out, store, "order", "X"))
}

// ==========================
// gc
// ==========================

func TestCollect(t *testing.T) {
	ctx := context.Background()
	b := &listingBackend{entities: map[models.EntityKind][]models.Entity{
		models.KindBusiness: {{ID: "B1", Kind: models.KindBusiness}},
	}}

	t.Run("dry run removes nothing", func(t *testing.T) {
		store := createTestStore(t)
		var out bytes.Buffer
		require.NoError(t, collect(ctx, &out, b, store, "business", true))
		assert.Equal(t, "orphaned\tbusiness\tB2\n", out.String())

		ids, err := store.PendingIDs(ctx, models.KindBusiness)
		require.NoError(t, err)
		assert.Len(t, ids, 2)
	})

	t.Run("removes orphaned flags", func(t *testing.T) {
		store := createTestStore(t)
		var out bytes.Buffer
		require.NoError(t, collect(ctx, &out, b, store, "", false))
		assert.Contains(t, out.String(), "Collected 1 orphaned business flag(s)")
		assert.Contains(t, out.String(), "Collected 1 orphaned product flag(s)")

		ids, err := store.PendingIDs(ctx, models.KindBusiness)
		require.NoError(t, err)
		assert.Equal(t, []string{"B1"}, ids)
	})

	t.Run("listing failure keeps flags", func(t *testing.T) {
		store := createTestStore(t)
		var out bytes.Buffer
		err := collect(ctx, &out, &listingBackend{err: errors.New("boom")}, store, "business", false)
		assert.Error(t, err)

		ids, err := store.PendingIDs(ctx, models.KindBusiness)
		require.NoError(t, err)
		assert.Len(t, ids, 2)
	})
}
