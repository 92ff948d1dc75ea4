package commands

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"approval-sync/internal/approval/eventbus"
	"approval-sync/internal/approval/overrides"
	apperrors "approval-sync/internal/common/errors"
	"approval-sync/internal/common/logger"
	"approval-sync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Doubles
// ==========================

type fakeBackend struct {
	status int
	err    error
	calls  []string
	reason string
}

func (f *fakeBackend) Approve(_ context.Context, kind models.EntityKind, id string) (int, error) {
	f.calls = append(f.calls, "approve:"+string(kind)+":"+id)
	return f.status, f.err
}

func (f *fakeBackend) Reject(_ context.Context, kind models.EntityKind, id, reason string) (int, error) {
	f.calls = append(f.calls, "reject:"+string(kind)+":"+id)
	f.reason = reason
	return f.status, f.err
}

type recordingView struct {
	name     string
	journal  *[]string
	resolved []models.StatusChangeEvent
}

func (v *recordingView) Resolve(ev models.StatusChangeEvent) {
	v.resolved = append(v.resolved, ev)
	*v.journal = append(*v.journal, v.name+":resolve")
}

func (v *recordingView) ForceRefresh(context.Context) error {
	*v.journal = append(*v.journal, v.name+":refresh")
	return nil
}

type journalingOverrides struct {
	*overrides.Store
	journal *[]string
}

func (j journalingOverrides) ClearPending(ctx context.Context, kind models.EntityKind, id string) error {
	*j.journal = append(*j.journal, "clear")
	return j.Store.ClearPending(ctx, kind, id)
}

type testEnv struct {
	commander *Commander
	backend   *fakeBackend
	store     *overrides.Store
	bus       *eventbus.Bus
	journal   *[]string
}

func createTestEnv(t *testing.T, status int, err error) *testEnv {
	journal := &[]string{}
	log := logger.NewTestLogger(t)
	store := overrides.NewStore(overrides.NewMemoryKV(), "", log)
	bus := eventbus.New(log)
	backend := &fakeBackend{status: status, err: err}
	commander := NewCommander(backend, journalingOverrides{Store: store, journal: journal}, bus, log)
	return &testEnv{commander: commander, backend: backend, store: store, bus: bus, journal: journal}
}

// ==========================
// Success Path Tests
// ==========================

func TestCommander_Approve_SuccessOrder(t *testing.T) {
	ctx := context.Background()
	env := createTestEnv(t, http.StatusOK, nil)
	require.NoError(t, env.store.SetPending(ctx, models.KindBusiness, "b1"))

	feed := &recordingView{name: "feed", journal: env.journal}
	list := &recordingView{name: "list", journal: env.journal}
	other := &recordingView{name: "products", journal: env.journal}
	env.commander.Attach(models.KindBusiness, feed)
	env.commander.Attach(models.KindBusiness, list)
	env.commander.Attach(models.KindProduct, other)

	env.bus.Subscribe(eventbus.EntityStatusChanged, func(ev eventbus.Event) {
		*env.journal = append(*env.journal, "publish:"+string(ev.Status))
	})

	require.NoError(t, env.commander.Approve(ctx, models.KindBusiness, "b1"))

	assert.Equal(t, []string{
		"feed:resolve", "list:resolve",
		"clear",
		"feed:refresh", "list:refresh",
		"publish:approved",
	}, *env.journal)

	require.Len(t, feed.resolved, 1)
	assert.Equal(t, models.StatusApproved, feed.resolved[0].NewStatus)
	assert.Equal(t, models.ActionApprove, feed.resolved[0].Action)
	assert.Empty(t, other.resolved, "views of another kind are untouched")

	pending, err := env.store.IsPending(ctx, models.KindBusiness, "b1")
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestCommander_Reject_PublishesRejected(t *testing.T) {
	env := createTestEnv(t, http.StatusCreated, nil)

	var got []models.StatusChangeEvent
	env.bus.Subscribe(eventbus.EntityStatusChanged, func(ev eventbus.Event) {
		got = append(got, ev.StatusChange())
	})

	require.NoError(t, env.commander.Reject(context.Background(), models.KindProduct, "p1", "image blurry"))

	assert.Equal(t, "image blurry", env.backend.reason)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].EntityID)
	assert.Equal(t, models.StatusRejected, got[0].NewStatus)
	assert.Equal(t, models.ActionReject, got[0].Action)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestCommander_DetachedViewIsSkipped(t *testing.T) {
	env := createTestEnv(t, http.StatusOK, nil)
	view := &recordingView{name: "feed", journal: env.journal}

	detach := env.commander.Attach(models.KindBusiness, view)
	detach()
	detach()

	require.NoError(t, env.commander.Approve(context.Background(), models.KindBusiness, "b1"))
	assert.Empty(t, view.resolved)
}

// ==========================
// Failure Path Tests
// ==========================

func TestCommander_Failures(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		err         error
		wantCode    apperrors.ErrorCode
		wantNetwork bool
	}{
		{
			name:     "not found",
			status:   http.StatusNotFound,
			err:      apperrors.NewEndpointUnavailableError("PUT", "/bussiness/admin/approve/b1"),
			wantCode: apperrors.ErrCodeEndpointUnavailable,
		},
		{
			name:     "server error",
			status:   http.StatusInternalServerError,
			err:      apperrors.NewServerRejectedError("PUT", "/bussiness/admin/approve/b1", 500),
			wantCode: apperrors.ErrCodeServerRejected,
		},
		{
			name:     "unexpected 204",
			status:   http.StatusNoContent,
			wantCode: apperrors.ErrCodeServerRejected,
		},
		{
			name:        "network failure",
			status:      0,
			err:         apperrors.NewNetworkFailureError("PUT", "/bussiness/admin/approve/b1", errors.New("connection reset")),
			wantCode:    apperrors.ErrCodeServerRejected,
			wantNetwork: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			env := createTestEnv(t, tt.status, tt.err)
			require.NoError(t, env.store.SetPending(ctx, models.KindBusiness, "b1"))

			view := &recordingView{name: "feed", journal: env.journal}
			env.commander.Attach(models.KindBusiness, view)
			published := 0
			env.bus.SubscribeAll(func(eventbus.Event) { published++ })

			err := env.commander.Approve(ctx, models.KindBusiness, "b1")
			require.Error(t, err)

			var cmdErr *CommandError
			require.ErrorAs(t, err, &cmdErr)
			assert.Equal(t, tt.wantCode, cmdErr.Code)
			assert.Equal(t, tt.wantCode, apperrors.CodeOf(err))
			assert.Equal(t, tt.wantNetwork, errors.Is(err, apperrors.ErrNetworkFailure))

			assert.Empty(t, *env.journal, "no local mutation on failure")
			assert.Zero(t, published)
			pending, err := env.store.IsPending(ctx, models.KindBusiness, "b1")
			require.NoError(t, err)
			assert.True(t, pending)
		})
	}
}

func TestCommander_Validation(t *testing.T) {
	env := createTestEnv(t, http.StatusOK, nil)

	err := env.commander.Approve(context.Background(), models.KindBusiness, " ")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed))

	err = env.commander.Reject(context.Background(), "category", "c1", "")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed))

	assert.Empty(t, env.backend.calls)
}
