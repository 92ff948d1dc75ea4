package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "approval-sync/internal/common/errors"
	"approval-sync/internal/common/logger"
	"approval-sync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Backend
// ==========================

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Notifications(ctx context.Context) ([]models.Notification, error) {
	args := m.Called(ctx)
	items, _ := args.Get(0).([]models.Notification)
	return items, args.Error(1)
}

func (m *MockBackend) ListAll(ctx context.Context, kind models.EntityKind) ([]models.Entity, error) {
	args := m.Called(ctx, kind)
	items, _ := args.Get(0).([]models.Entity)
	return items, args.Error(1)
}

// ==========================
// Test Helper Functions
// ==========================

var fixedNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func createTestFetcher(t *testing.T, backend Backend, window time.Duration) *Fetcher {
	cfg := DefaultConfig()
	cfg.RecencyWindow = window
	cfg.Now = func() time.Time { return fixedNow }
	return NewFetcher(backend, cfg, logger.NewTestLogger(t))
}

func entity(kind models.EntityKind, id string, status models.ApprovalStatus, age time.Duration) models.Entity {
	return models.Entity{ID: id, Kind: kind, Name: id, ApprovalStatus: status, CreatedAt: fixedNow.Add(-age)}
}

// referencePending filters a listing the way the fallback is defined:
// pending and created within 24h.
func referencePending(entities []models.Entity) []string {
	var ids []string
	for _, e := range entities {
		if e.ApprovalStatus == models.StatusPending && !e.CreatedAt.IsZero() && fixedNow.Sub(e.CreatedAt) <= 24*time.Hour {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

func ids(items []models.Notification) []string {
	var out []string
	for _, n := range items {
		out = append(out, n.EntityID)
	}
	return out
}

// ==========================
// Endpoint Path Tests
// ==========================

func TestFetcher_Endpoint_FiltersByKind(t *testing.T) {
	backend := new(MockBackend)
	backend.On("Notifications", mock.Anything).Return([]models.Notification{
		{ID: "n1", Kind: models.KindBusiness, EntityID: "b1"},
		{ID: "n2", Kind: models.KindProduct, EntityID: "p1", ParentID: "b1"},
		{ID: "n3", Kind: "", EntityID: "x"},
	}, nil)

	result := createTestFetcher(t, backend, DefaultRecencyWindow).Fetch(context.Background(), models.KindBusiness)

	assert.Equal(t, SourceEndpoint, result.Source)
	assert.Equal(t, []string{"b1"}, ids(result.Notifications))
	backend.AssertNotCalled(t, "ListAll", mock.Anything, mock.Anything)
}

func TestFetcher_Endpoint_EmptyIsAuthoritative(t *testing.T) {
	backend := new(MockBackend)
	backend.On("Notifications", mock.Anything).Return([]models.Notification{}, nil)

	result := createTestFetcher(t, backend, DefaultRecencyWindow).Fetch(context.Background(), models.KindBusiness)

	assert.Equal(t, SourceEndpoint, result.Source)
	assert.NotNil(t, result.Notifications)
	assert.Empty(t, result.Notifications)
	backend.AssertNotCalled(t, "ListAll", mock.Anything, mock.Anything)
}

// ==========================
// Fallback Tests
// ==========================

func TestFetcher_FallbackMatchesDirectFilter(t *testing.T) {
	listing := []models.Entity{
		entity(models.KindBusiness, "fresh", models.StatusPending, time.Hour),
		entity(models.KindBusiness, "old", models.StatusPending, 25*time.Hour),
		entity(models.KindBusiness, "approved", models.StatusApproved, time.Hour),
		entity(models.KindBusiness, "rejected", models.StatusRejected, time.Hour),
		{ID: "undated", Kind: models.KindBusiness, ApprovalStatus: models.StatusPending},
		entity(models.KindBusiness, "edge", models.StatusPending, 24*time.Hour),
	}

	backend := new(MockBackend)
	backend.On("Notifications", mock.Anything).Return(nil, apperrors.NewEndpointUnavailableError("GET", "/notifications"))
	backend.On("ListAll", mock.Anything, models.KindBusiness).Return(listing, nil)

	result := createTestFetcher(t, backend, DefaultRecencyWindow).Fetch(context.Background(), models.KindBusiness)

	assert.Equal(t, SourceFallback, result.Source)
	assert.Equal(t, referencePending(listing), ids(result.Notifications))
	assert.Equal(t, []string{"fresh", "edge"}, ids(result.Notifications))
	for _, n := range result.Notifications {
		assert.Equal(t, models.NotificationBusinessSubmission, n.Type)
	}
}

func TestFetcher_FallbackOnAnyEndpointError(t *testing.T) {
	errs := []error{
		apperrors.NewServerRejectedError("GET", "/notifications", 500),
		apperrors.NewNetworkFailureError("GET", "/notifications", errors.New("reset")),
		apperrors.NewInvalidResponseError("/notifications", errors.New("empty body")),
	}

	for _, endpointErr := range errs {
		t.Run(string(apperrors.CodeOf(endpointErr)), func(t *testing.T) {
			backend := new(MockBackend)
			backend.On("Notifications", mock.Anything).Return(nil, endpointErr)
			backend.On("ListAll", mock.Anything, models.KindBusiness).Return([]models.Entity{
				entity(models.KindBusiness, "b1", models.StatusPending, time.Minute),
			}, nil)

			result := createTestFetcher(t, backend, DefaultRecencyWindow).Fetch(context.Background(), models.KindBusiness)
			assert.Equal(t, SourceFallback, result.Source)
			assert.Equal(t, []string{"b1"}, ids(result.Notifications))
		})
	}
}

func TestFetcher_RecencyWindowDisabled(t *testing.T) {
	backend := new(MockBackend)
	backend.On("Notifications", mock.Anything).Return(nil, apperrors.NewEndpointUnavailableError("GET", "/notifications"))
	backend.On("ListAll", mock.Anything, models.KindBusiness).Return([]models.Entity{
		entity(models.KindBusiness, "old", models.StatusPending, 30*24*time.Hour),
		{ID: "undated", Kind: models.KindBusiness, ApprovalStatus: models.StatusPending},
	}, nil)

	result := createTestFetcher(t, backend, 0).Fetch(context.Background(), models.KindBusiness)
	assert.Equal(t, []string{"old", "undated"}, ids(result.Notifications))
}

func TestFetcher_RecencyWindowAppliesPerKind(t *testing.T) {
	businesses := []models.Entity{{ID: "b1", Kind: models.KindBusiness}}

	tests := []struct {
		name     string
		kind     models.EntityKind
		kinds    []models.EntityKind
		expected []string
	}{
		{name: "businesses windowed by default", kind: models.KindBusiness, expected: []string{"fresh"}},
		{name: "products unwindowed by default", kind: models.KindProduct, expected: []string{"fresh", "old", "undated"}},
		{name: "products windowed when listed", kind: models.KindProduct, kinds: []models.EntityKind{models.KindProduct}, expected: []string{"fresh"}},
		{name: "businesses unwindowed when not listed", kind: models.KindBusiness, kinds: []models.EntityKind{}, expected: []string{"fresh", "old", "undated"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listing := []models.Entity{
				entity(tt.kind, "fresh", models.StatusPending, time.Hour),
				entity(tt.kind, "old", models.StatusPending, 72*time.Hour),
				{ID: "undated", Kind: tt.kind, ApprovalStatus: models.StatusPending},
			}
			for i := range listing {
				listing[i].Business = models.Ref{ID: "b1"}
			}

			backend := new(MockBackend)
			backend.On("Notifications", mock.Anything).Return(nil, apperrors.NewEndpointUnavailableError("GET", "/notifications"))
			backend.On("ListAll", mock.Anything, tt.kind).Return(listing, nil)
			backend.On("ListAll", mock.Anything, models.KindBusiness).Return(businesses, nil).Maybe()

			fetcher := createTestFetcher(t, backend, DefaultRecencyWindow)
			if tt.kinds != nil {
				fetcher.config.RecencyKinds = tt.kinds
			}

			result := fetcher.Fetch(context.Background(), tt.kind)
			assert.Equal(t, SourceFallback, result.Source)
			assert.Equal(t, tt.expected, ids(result.Notifications))
		})
	}
}

func TestFetcher_EndpointDisabled(t *testing.T) {
	backend := new(MockBackend)
	backend.On("ListAll", mock.Anything, models.KindBusiness).Return([]models.Entity{}, nil)

	cfg := DefaultConfig()
	cfg.UseEndpoint = false
	result := NewFetcher(backend, cfg, logger.NewTestLogger(t)).Fetch(context.Background(), models.KindBusiness)

	assert.Equal(t, SourceFallback, result.Source)
	backend.AssertNotCalled(t, "Notifications", mock.Anything)
}

func TestFetcher_BothFail(t *testing.T) {
	backend := new(MockBackend)
	backend.On("Notifications", mock.Anything).Return(nil, apperrors.NewEndpointUnavailableError("GET", "/notifications"))
	backend.On("ListAll", mock.Anything, models.KindBusiness).Return(nil, apperrors.NewServerRejectedError("GET", "/bussiness/admin/all", 503))

	result := createTestFetcher(t, backend, DefaultRecencyWindow).Fetch(context.Background(), models.KindBusiness)

	assert.Equal(t, SourceNone, result.Source)
	require.NotNil(t, result.Notifications)
	assert.Empty(t, result.Notifications)
}

// ==========================
// Product / Orphan Tests
// ==========================

func TestFetcher_ProductsPassOrphanFilterOnBothPaths(t *testing.T) {
	businesses := []models.Entity{{ID: "b1", Kind: models.KindBusiness}}

	t.Run("endpoint", func(t *testing.T) {
		backend := new(MockBackend)
		backend.On("Notifications", mock.Anything).Return([]models.Notification{
			{ID: "n1", Kind: models.KindProduct, EntityID: "p1", ParentID: "b1"},
			{ID: "n2", Kind: models.KindProduct, EntityID: "p2", ParentID: "gone"},
		}, nil)
		backend.On("ListAll", mock.Anything, models.KindBusiness).Return(businesses, nil)

		result := createTestFetcher(t, backend, DefaultRecencyWindow).Fetch(context.Background(), models.KindProduct)
		assert.Equal(t, SourceEndpoint, result.Source)
		assert.Equal(t, []string{"p1"}, ids(result.Notifications))
	})

	t.Run("fallback", func(t *testing.T) {
		orphan := entity(models.KindProduct, "p2", models.StatusPending, time.Hour)
		orphan.Business = models.Ref{ID: "gone"}
		valid := entity(models.KindProduct, "p1", models.StatusPending, time.Hour)
		valid.Business = models.Ref{ID: "b1"}

		backend := new(MockBackend)
		backend.On("Notifications", mock.Anything).Return(nil, apperrors.NewEndpointUnavailableError("GET", "/notifications"))
		backend.On("ListAll", mock.Anything, models.KindProduct).Return([]models.Entity{valid, orphan}, nil)
		backend.On("ListAll", mock.Anything, models.KindBusiness).Return(businesses, nil)

		result := createTestFetcher(t, backend, DefaultRecencyWindow).Fetch(context.Background(), models.KindProduct)
		assert.Equal(t, SourceFallback, result.Source)
		assert.Equal(t, []string{"p1"}, ids(result.Notifications))
	})
}
