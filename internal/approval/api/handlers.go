// Package api exposes the mounted views and the review commands as JSON
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	apperrors "approval-sync/internal/common/errors"
	"approval-sync/internal/common/logger"
	"approval-sync/internal/common/validation"
	"approval-sync/internal/models"

	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 20

// Service performs submissions and reviews.
type Service interface {
	Submit(ctx context.Context, kind models.EntityKind, payload map[string]interface{}) (string, error)
	Approve(ctx context.Context, kind models.EntityKind, id string) error
	Reject(ctx context.Context, kind models.EntityKind, id, reason string) error
}

// FeedView is a mounted notification badge.
type FeedView interface {
	Snapshot() models.FeedSnapshot
	Focus()
}

// EntityView is a mounted entity list.
type EntityView interface {
	Snapshot() models.Snapshot
	Focus()
}

// Handlers serves the approval API.
type Handlers struct {
	service Service
	feeds   map[models.EntityKind]FeedView
	views   map[models.EntityKind]EntityView
	owners  *OwnerViews
	errors  *apperrors.ErrorHandler
	logger  logger.Logger
}

func NewHandlers(service Service, feeds map[models.EntityKind]FeedView, views map[models.EntityKind]EntityView, log logger.Logger) *Handlers {
	log = logger.Component(log, "api")
	if feeds == nil {
		feeds = map[models.EntityKind]FeedView{}
	}
	if views == nil {
		views = map[models.EntityKind]EntityView{}
	}
	return &Handlers{
		service: service,
		feeds:   feeds,
		views:   views,
		errors:  apperrors.NewErrorHandler(log),
		logger:  log,
	}
}

// WithOwnerViews serves the per-owner lists from owners.
func (h *Handlers) WithOwnerViews(owners *OwnerViews) *Handlers {
	h.owners = owners
	return h
}

type reviewResponse struct {
	EntityID string                `json:"entityId"`
	Kind     models.EntityKind     `json:"kind"`
	Status   models.ApprovalStatus `json:"status"`
	Action   models.Action         `json:"action"`
}

type submitResponse struct {
	ID   string            `json:"id"`
	Kind models.EntityKind `json:"kind"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// GetNotifications returns the badge snapshot of a kind
func (h *Handlers) GetNotifications(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	feed, found := h.feeds[kind]
	if !found {
		h.errors.HandleHTTP(w, r, apperrors.NewEndpointUnavailableError(r.Method, r.URL.Path))
		return
	}
	respondJSON(w, http.StatusOK, feed.Snapshot())
}

// FocusNotifications requests a refresh of a badge
func (h *Handlers) FocusNotifications(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	feed, found := h.feeds[kind]
	if !found {
		h.errors.HandleHTTP(w, r, apperrors.NewEndpointUnavailableError(r.Method, r.URL.Path))
		return
	}
	feed.Focus()
	w.WriteHeader(http.StatusAccepted)
}

// GetView returns the admin list snapshot of a kind
func (h *Handlers) GetView(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	view, found := h.views[kind]
	if !found {
		h.errors.HandleHTTP(w, r, apperrors.NewEndpointUnavailableError(r.Method, r.URL.Path))
		return
	}
	respondJSON(w, http.StatusOK, view.Snapshot())
}

// FocusView requests a confirming refresh of an admin list
func (h *Handlers) FocusView(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	view, found := h.views[kind]
	if !found {
		h.errors.HandleHTTP(w, r, apperrors.NewEndpointUnavailableError(r.Method, r.URL.Path))
		return
	}
	view.Focus()
	w.WriteHeader(http.StatusAccepted)
}

// GetOwnerView returns the list of a kind owned by ownerId, mounting it on
// first request
func (h *Handlers) GetOwnerView(w http.ResponseWriter, r *http.Request) {
	view, ok := h.ownerView(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, view.Snapshot())
}

// FocusOwnerView requests a confirming refresh of an owner list
func (h *Handlers) FocusOwnerView(w http.ResponseWriter, r *http.Request) {
	view, ok := h.ownerView(w, r)
	if !ok {
		return
	}
	view.Focus()
	w.WriteHeader(http.StatusAccepted)
}

// Submit creates an entity
func (h *Handlers) Submit(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	var payload map[string]interface{}
	if err := decodeBody(r, &payload, false); err != nil {
		h.errors.HandleHTTP(w, r, err)
		return
	}

	id, err := h.service.Submit(r.Context(), kind, payload)
	if err != nil {
		h.errors.HandleHTTP(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, submitResponse{ID: id, Kind: kind})
}

// Approve approves an entity
func (h *Handlers) Approve(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.service.Approve(r.Context(), kind, id); err != nil {
		h.errors.HandleHTTP(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, reviewResponse{
		EntityID: id,
		Kind:     kind,
		Status:   models.StatusApproved,
		Action:   models.ActionApprove,
	})
}

// Reject rejects an entity; the body may carry a reason
func (h *Handlers) Reject(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if err := decodeBody(r, &req, true); err != nil {
		h.errors.HandleHTTP(w, r, err)
		return
	}
	if err := h.service.Reject(r.Context(), kind, id, strings.TrimSpace(req.Reason)); err != nil {
		h.errors.HandleHTTP(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, reviewResponse{
		EntityID: id,
		Kind:     kind,
		Status:   models.StatusRejected,
		Action:   models.ActionReject,
	})
}

func (h *Handlers) kind(w http.ResponseWriter, r *http.Request) (models.EntityKind, bool) {
	kind, err := models.ParseEntityKind(mux.Vars(r)["kind"])
	if err != nil {
		h.errors.HandleHTTP(w, r, apperrors.NewValidationError(err.Error()))
		return "", false
	}
	return kind, true
}

func (h *Handlers) target(w http.ResponseWriter, r *http.Request) (models.EntityKind, string, bool) {
	kind, ok := h.kind(w, r)
	if !ok {
		return "", "", false
	}
	id := mux.Vars(r)["id"]
	if err := validation.ValidateEntityID(id); err != nil {
		h.errors.HandleHTTP(w, r, apperrors.NewValidationError(err.Error()))
		return "", "", false
	}
	return kind, id, true
}

func (h *Handlers) ownerView(w http.ResponseWriter, r *http.Request) (EntityView, bool) {
	kind, ok := h.kind(w, r)
	if !ok {
		return nil, false
	}
	ownerID := mux.Vars(r)["ownerId"]
	if err := validation.ValidateEntityID(ownerID); err != nil {
		h.errors.HandleHTTP(w, r, apperrors.NewValidationError(err.Error()))
		return nil, false
	}
	if h.owners == nil {
		h.errors.HandleHTTP(w, r, apperrors.NewEndpointUnavailableError(r.Method, r.URL.Path))
		return nil, false
	}
	view, err := h.owners.Get(kind, ownerID)
	if errors.Is(err, errOwnerViewsClosed) {
		err = apperrors.NewEndpointUnavailableError(r.Method, r.URL.Path)
	}
	if err != nil {
		h.errors.HandleHTTP(w, r, err)
		return nil, false
	}
	return view, true
}

// decodeBody reads a JSON body into v. An empty body is accepted only when
// optional is set.
func decodeBody(r *http.Request, v interface{}, optional bool) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return apperrors.NewValidationError("failed to read request body")
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		if optional {
			return nil
		}
		return apperrors.NewValidationError("request body is required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.NewValidationError("invalid JSON body: " + err.Error())
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
