package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"approval-sync/internal/approval/backend"
	"approval-sync/internal/approval/eventbus"
	"approval-sync/internal/approval/notifications"
	"approval-sync/internal/approval/overrides"
	"approval-sync/internal/approval/reconciler"
	"approval-sync/internal/common/config"
	apperrors "approval-sync/internal/common/errors"
	commonhttp "approval-sync/internal/common/http"
	"approval-sync/internal/common/logger"
	"approval-sync/internal/models"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Fake Backend
// ==========================

type fakeItem struct {
	ID             string    `json:"_id"`
	Name           string    `json:"name"`
	ApprovalStatus string    `json:"approvalStatus"`
	Owner          string    `json:"owner,omitempty"`
	BussinessID    string    `json:"bussinessId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// fakeBackend serves the production routes from memory. The notifications
// endpoint is not routed, so it answers 404.
type fakeBackend struct {
	mu      sync.Mutex
	items   map[models.EntityKind][]*fakeItem
	reasons map[string]string
	listErr bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		items:   make(map[models.EntityKind][]*fakeItem),
		reasons: make(map[string]string),
	}
}

func segmentKind(seg string) models.EntityKind {
	if seg == "product" {
		return models.KindProduct
	}
	return models.KindBusiness
}

func (b *fakeBackend) router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/{seg}/admin/all", b.listAll).Methods(http.MethodGet)
	r.HandleFunc("/bussiness/getBussById/{id}", b.listByOwner).Methods(http.MethodGet)
	r.HandleFunc("/{seg}/admin/{action}/{id}", b.review).Methods(http.MethodPut)
	r.HandleFunc("/bussiness/registerBuss", b.create(models.KindBusiness, "B")).Methods(http.MethodPost)
	r.HandleFunc("/product/createproduct", b.create(models.KindProduct, "P")).Methods(http.MethodPost)
	return r
}

func (b *fakeBackend) respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (b *fakeBackend) listAll(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr {
		b.respond(w, http.StatusInternalServerError, map[string]string{"message": "down"})
		return
	}
	b.respond(w, http.StatusOK, map[string]interface{}{"data": b.items[segmentKind(mux.Vars(r)["seg"])]})
}

func (b *fakeBackend) listByOwner(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	owner := mux.Vars(r)["id"]
	out := []*fakeItem{}
	for _, it := range b.items[models.KindBusiness] {
		if it.Owner == owner {
			out = append(out, it)
		}
	}
	b.respond(w, http.StatusOK, map[string]interface{}{"data": out})
}

func (b *fakeBackend) review(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, it := range b.items[segmentKind(vars["seg"])] {
		if it.ID != vars["id"] {
			continue
		}
		switch vars["action"] {
		case "approve":
			it.ApprovalStatus = "approved"
		case "reject":
			var body struct {
				RejectionReason string `json:"rejectionReason"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			b.reasons[it.ID] = body.RejectionReason
			it.ApprovalStatus = "rejected"
		}
		b.respond(w, http.StatusOK, map[string]string{"message": "ok"})
		return
	}
	b.respond(w, http.StatusNotFound, map[string]string{"message": "not found"})
}

func (b *fakeBackend) create(kind models.EntityKind, prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			b.respond(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		item := &fakeItem{
			ID:             fmt.Sprintf("%s%d", prefix, len(b.items[kind])+1),
			Name:           payload["name"],
			ApprovalStatus: "pending",
			Owner:          payload["owner"],
			BussinessID:    payload["bussinessId"],
			CreatedAt:      time.Now().UTC(),
		}
		b.items[kind] = append(b.items[kind], item)
		b.respond(w, http.StatusCreated, map[string]interface{}{"data": map[string]string{"_id": item.ID}})
	}
}

func (b *fakeBackend) Reason(id string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reasons[id]
}

// ==========================
// Test Helpers
// ==========================

func createTestService(t *testing.T) (*Service, *fakeBackend) {
	t.Helper()
	fake := newFakeBackend()
	server := httptest.NewServer(fake.router())
	t.Cleanup(server.Close)

	log := logger.NewTestLogger(t)
	client := backend.NewClient(backend.DefaultConfig(), commonhttp.NewClient(server.URL, "admin-token", 5*time.Second), log)
	store := overrides.NewStore(overrides.NewMemoryKV(), "", log)

	// Timers never fire during a test; every refresh is explicit.
	hour := int(time.Hour / time.Millisecond)
	opts := Options{
		Reconciler: config.ReconcilerConfig{
			OwnerPollInterval: hour,
			AdminPollInterval: hour,
			DebounceDelay:     hour,
			Visibility:        string(reconciler.VisibilityHidePending),
		},
		Notifications: notifications.DefaultConfig(),
	}
	svc := NewService(client, store, eventbus.New(log), opts, log)
	t.Cleanup(svc.Close)
	return svc, fake
}

func visible(s models.Snapshot) []string {
	out := []string{}
	for _, e := range s.Visible {
		out = append(out, e.ID)
	}
	return out
}

func pendingIn(s models.FeedSnapshot) []string {
	out := []string{}
	for _, n := range s.Notifications {
		out = append(out, n.EntityID)
	}
	return out
}

// ==========================
// Scenarios
// ==========================

func TestService_CreateThenApprove(t *testing.T) {
	svc, _ := createTestService(t)
	ctx := context.Background()

	view, _, err := svc.MountOwnerView(ctx, models.KindBusiness, "owner-1")
	require.NoError(t, err)

	id, err := svc.Submit(ctx, models.KindBusiness, map[string]interface{}{"name": "Bakery", "owner": "owner-1"})
	require.NoError(t, err)
	require.Equal(t, "B1", id)

	pending, err := svc.Overrides().IsPending(ctx, models.KindBusiness, "B1")
	require.NoError(t, err)
	assert.True(t, pending)

	_, err = view.Refresh(ctx, reconciler.RefreshOptions{Force: true})
	require.NoError(t, err)
	assert.NotContains(t, visible(view.Snapshot()), "B1")
	assert.Equal(t, 1, view.Snapshot().PendingCount)

	require.NoError(t, svc.Approve(ctx, models.KindBusiness, "B1"))

	assert.Equal(t, []string{"B1"}, visible(view.Snapshot()))
	pending, err = svc.Overrides().IsPending(ctx, models.KindBusiness, "B1")
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestService_RejectWithReason(t *testing.T) {
	svc, fake := createTestService(t)
	ctx := context.Background()

	_, err := svc.Submit(ctx, models.KindBusiness, map[string]interface{}{"name": "Store", "owner": "owner-1"})
	require.NoError(t, err)

	feed, _, err := svc.MountFeed(ctx, models.KindProduct)
	require.NoError(t, err)

	var observed []models.StatusChangeEvent
	unsubscribe := svc.Bus().Subscribe(eventbus.EntityStatusChanged, func(ev eventbus.Event) {
		observed = append(observed, ev.StatusChange())
	})
	defer unsubscribe()

	id, err := svc.Submit(ctx, models.KindProduct, map[string]interface{}{"name": "Shoes", "bussinessId": "B1"})
	require.NoError(t, err)
	require.Equal(t, "P1", id)

	require.NoError(t, feed.ForceRefresh(ctx))
	require.Equal(t, []string{"P1"}, pendingIn(feed.Snapshot()))
	assert.Equal(t, string(notifications.SourceFallback), feed.Snapshot().Source)

	require.NoError(t, svc.Reject(ctx, models.KindProduct, "P1", "image blurry"))
	assert.Equal(t, "image blurry", fake.Reason("P1"))
	assert.Empty(t, pendingIn(feed.Snapshot()))

	require.NoError(t, feed.ForceRefresh(ctx))
	assert.Empty(t, pendingIn(feed.Snapshot()))
	assert.Zero(t, feed.Snapshot().PendingCount)

	require.Len(t, observed, 1)
	assert.Equal(t, "P1", observed[0].EntityID)
	assert.Equal(t, models.StatusRejected, observed[0].NewStatus)
	assert.Equal(t, models.ActionReject, observed[0].Action)
}

func TestService_FailedReviewChangesNothing(t *testing.T) {
	svc, _ := createTestService(t)
	ctx := context.Background()

	_, err := svc.Submit(ctx, models.KindBusiness, map[string]interface{}{"name": "Bakery", "owner": "owner-1"})
	require.NoError(t, err)

	err = svc.Approve(ctx, models.KindBusiness, "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeEndpointUnavailable))

	pending, err := svc.Overrides().IsPending(ctx, models.KindBusiness, "B1")
	require.NoError(t, err)
	assert.True(t, pending)
}

// ==========================
// Overrides
// ==========================

func TestService_CollectOverrides(t *testing.T) {
	svc, fake := createTestService(t)
	ctx := context.Background()

	_, err := svc.Submit(ctx, models.KindBusiness, map[string]interface{}{"name": "Bakery"})
	require.NoError(t, err)
	require.NoError(t, svc.Overrides().SetPending(ctx, models.KindBusiness, "deleted"))

	fake.mu.Lock()
	fake.listErr = true
	fake.mu.Unlock()
	_, err = svc.CollectOverrides(ctx, models.KindBusiness)
	require.Error(t, err)
	ids, err := svc.Overrides().PendingIDs(ctx, models.KindBusiness)
	require.NoError(t, err)
	assert.Len(t, ids, 2, "nothing removed when the listing fails")

	fake.mu.Lock()
	fake.listErr = false
	fake.mu.Unlock()
	removed, err := svc.CollectOverrides(ctx, models.KindBusiness)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	ids, err = svc.Overrides().PendingIDs(ctx, models.KindBusiness)
	require.NoError(t, err)
	assert.Equal(t, []string{"B1"}, ids)
}

// ==========================
// Validation And Lifecycle
// ==========================

func TestService_RejectsUnknownKind(t *testing.T) {
	svc, _ := createTestService(t)
	ctx := context.Background()

	_, err := svc.Submit(ctx, models.EntityKind("order"), nil)
	assert.ErrorIs(t, err, apperrors.ErrValidationFailed)

	_, _, err = svc.MountFeed(ctx, models.EntityKind("order"))
	assert.ErrorIs(t, err, apperrors.ErrValidationFailed)

	_, _, err = svc.MountOwnerView(ctx, models.KindBusiness, " ")
	assert.ErrorIs(t, err, apperrors.ErrValidationFailed)
}

func TestService_CloseUnmountsViews(t *testing.T) {
	svc, _ := createTestService(t)
	ctx := context.Background()

	_, unmount, err := svc.MountAdminView(ctx, models.KindBusiness)
	require.NoError(t, err)
	_, _, err = svc.MountFeed(ctx, models.KindBusiness)
	require.NoError(t, err)
	assert.Equal(t, 4, svc.Bus().Len())

	unmount()
	unmount()
	assert.Equal(t, 2, svc.Bus().Len())

	svc.Close()
	assert.Zero(t, svc.Bus().Len())

	_, _, err = svc.MountFeed(ctx, models.KindBusiness)
	assert.Error(t, err)
}
