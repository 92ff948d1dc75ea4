// Package backend talks to the REST backend that owns businesses and
// products. Every response is schema-checked and normalized here.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "approval-sync/internal/common/errors"
	commonhttp "approval-sync/internal/common/http"
	"approval-sync/internal/common/logger"
	"approval-sync/internal/models"
)

// DefaultRejectionReason is sent when an admin rejects without a reason.
const DefaultRejectionReason = "Not approved by admin"

// Client is the backend API client.
type Client struct {
	http   *commonhttp.Client
	config Config
	logger logger.Logger
}

func NewClient(cfg Config, httpClient *commonhttp.Client, log logger.Logger) *Client {
	return &Client{
		http:   httpClient,
		config: cfg,
		logger: logger.Component(log, "backend"),
	}
}

func (c *Client) resource(kind models.EntityKind) (Resource, error) {
	res, ok := c.config.Resources[kind]
	if !ok || res.Segment == "" {
		return Resource{}, apperrors.NewValidationError(fmt.Sprintf("no backend resource configured for kind %q", kind))
	}
	return res, nil
}

// ListAll returns every entity of kind from /<segment>/admin/all.
func (c *Client) ListAll(ctx context.Context, kind models.EntityKind) ([]models.Entity, error) {
	res, err := c.resource(kind)
	if err != nil {
		return nil, err
	}
	path := "/" + res.Segment + "/admin/all"
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	return decodeListing(path, body, kind)
}

// ListByOwner returns the entities of kind that belong to ownerID. For
// products the owner is the parent business.
func (c *Client) ListByOwner(ctx context.Context, kind models.EntityKind, ownerID string) ([]models.Entity, error) {
	res, err := c.resource(kind)
	if err != nil {
		return nil, err
	}
	if res.OwnerListPath == "" {
		return nil, apperrors.NewValidationError(fmt.Sprintf("no owner listing configured for kind %q", kind))
	}
	path := strings.ReplaceAll(res.OwnerListPath, "{id}", url.PathEscape(ownerID))
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	return decodeListing(path, body, kind)
}

// Notifications returns every notification from the notifications endpoint.
// Callers filter by Kind. A null or empty body is an InvalidResponse error.
func (c *Client) Notifications(ctx context.Context) ([]models.Notification, error) {
	path := c.config.NotificationsPath
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, apperrors.NewInvalidResponseError(path, fmt.Errorf("empty body"))
	}
	if err := notificationsSchema.ValidateBytes(trimmed).Err(); err != nil {
		return nil, apperrors.NewInvalidResponseError(path, err)
	}

	var raw []wireNotification
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, apperrors.NewInvalidResponseError(path, err)
		}
	} else {
		var env notificationsEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, apperrors.NewInvalidResponseError(path, err)
		}
		if env.Result != nil {
			raw = env.Result.Notifications
		}
	}

	out := make([]models.Notification, 0, len(raw))
	for _, w := range raw {
		out = append(out, w.toModel())
	}
	return out, nil
}

// Approve asks the backend to approve an entity and returns the HTTP status.
// err is nil for any 2xx.
func (c *Client) Approve(ctx context.Context, kind models.EntityKind, id string) (int, error) {
	return c.command(ctx, kind, models.ActionApprove, id, nil)
}

// Reject asks the backend to reject an entity. An empty reason is replaced
// by DefaultRejectionReason.
func (c *Client) Reject(ctx context.Context, kind models.EntityKind, id, reason string) (int, error) {
	if strings.TrimSpace(reason) == "" {
		reason = DefaultRejectionReason
	}
	return c.command(ctx, kind, models.ActionReject, id, map[string]string{"rejectionReason": reason})
}

func (c *Client) command(ctx context.Context, kind models.EntityKind, action models.Action, id string, payload interface{}) (int, error) {
	res, err := c.resource(kind)
	if err != nil {
		return 0, err
	}
	path := fmt.Sprintf("/%s/admin/%s/%s", res.Segment, action, url.PathEscape(id))
	method := c.config.CommandMethod

	start := time.Now()
	resp, err := c.http.DoJSON(ctx, method, path, payload)
	if err != nil {
		c.logger.Warn("backend command failed", map[string]interface{}{
			"method": method, "path": path, "error": err,
		})
		return 0, apperrors.NewNetworkFailureError(method, path, err)
	}

	c.logger.Debug("backend command completed", map[string]interface{}{
		"method":     method,
		"path":       path,
		"status":     resp.StatusCode,
		"durationMs": time.Since(start).Milliseconds(),
	})
	return resp.StatusCode, statusError(method, path, resp.StatusCode)
}

// Create submits a new entity and returns the ID the backend assigned.
func (c *Client) Create(ctx context.Context, kind models.EntityKind, payload map[string]interface{}) (string, error) {
	res, err := c.resource(kind)
	if err != nil {
		return "", err
	}
	path := res.CreatePath
	resp, err := c.http.DoJSON(ctx, http.MethodPost, path, payload)
	if err != nil {
		return "", apperrors.NewNetworkFailureError(http.MethodPost, path, err)
	}
	if err := statusError(http.MethodPost, path, resp.StatusCode); err != nil {
		return "", err
	}

	if err := createSchema.ValidateBytes(resp.Body).Err(); err != nil {
		return "", apperrors.NewInvalidResponseError(path, err)
	}
	var env createEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return "", apperrors.NewInvalidResponseError(path, err)
	}
	id := env.entityID()
	if id == "" {
		return "", apperrors.NewInvalidResponseError(path, fmt.Errorf("response carries no entity id"))
	}
	return id, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.http.DoJSON(ctx, http.MethodGet, path, nil)
	if err != nil {
		c.logger.Debug("backend request failed", map[string]interface{}{"path": path, "error": err})
		return nil, apperrors.NewNetworkFailureError(http.MethodGet, path, err)
	}
	if err := statusError(http.MethodGet, path, resp.StatusCode); err != nil {
		c.logger.Debug("backend request rejected", map[string]interface{}{"path": path, "status": resp.StatusCode})
		return nil, err
	}
	return resp.Body, nil
}

// statusError maps a status code onto the error taxonomy: 404 is
// EndpointUnavailable, other non-2xx codes are ServerRejected.
func statusError(method, path string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return apperrors.NewEndpointUnavailableError(method, path)
	default:
		return apperrors.NewServerRejectedError(method, path, status)
	}
}

func decodeListing(path string, body []byte, kind models.EntityKind) ([]models.Entity, error) {
	if err := listingSchema.ValidateBytes(body).Err(); err != nil {
		return nil, apperrors.NewInvalidResponseError(path, err)
	}

	var env listingEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, apperrors.NewInvalidResponseError(path, err)
	}

	raw, err := listingItems(env, kind)
	if err != nil {
		return nil, apperrors.NewInvalidResponseError(path, err)
	}

	out := make([]models.Entity, 0, len(raw))
	for _, w := range raw {
		out = append(out, w.toModel(kind))
	}
	return out, nil
}

func listingItems(env listingEnvelope, kind models.EntityKind) ([]wireEntity, error) {
	if items, ok, err := decodeEntities(env.Data); ok || err != nil {
		return items, err
	}
	if items, ok, err := decodeEntities(env.Result); ok || err != nil {
		return items, err
	}

	// {"result": {"products": [...]}}
	if isJSONObject(env.Result) {
		var byName map[string]json.RawMessage
		if err := json.Unmarshal(env.Result, &byName); err != nil {
			return nil, err
		}
		for _, key := range pluralKeys(kind) {
			if items, ok, err := decodeEntities(byName[key]); ok || err != nil {
				return items, err
			}
		}
	}
	return nil, nil
}

// decodeEntities decodes an array or a single object. ok is false when raw
// holds neither.
func decodeEntities(raw json.RawMessage) ([]wireEntity, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, false, nil
	}
	switch raw[0] {
	case '[':
		var items []wireEntity
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, true, err
		}
		return items, true, nil
	case '{':
		var ref struct {
			ID string `json:"_id"`
		}
		if err := json.Unmarshal(raw, &ref); err != nil || ref.ID == "" {
			return nil, false, nil
		}
		var item wireEntity
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, true, err
		}
		return []wireEntity{item}, true, nil
	}
	return nil, false, nil
}

func isJSONObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func pluralKeys(kind models.EntityKind) []string {
	if kind == models.KindProduct {
		return []string{"products"}
	}
	return []string{"businesses", "bussinesses"}
}
