package backend

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"approval-sync/internal/models"
)

// Wire shapes of the backend. They absorb the field-name variants seen in
// production and are converted to models types before leaving the package.

type flexTime struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// UnmarshalJSON accepts RFC 3339 strings and unix milliseconds. Unparseable
// values decode to the zero time.
func (f *flexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	f.Time = time.Time{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] != '"' {
		if ms, err := strconv.ParseInt(string(data), 10, 64); err == nil {
			f.Time = time.UnixMilli(ms).UTC()
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			f.Time = t.UTC()
			return nil
		}
	}
	return nil
}

// flexStatus holds the active/inactive flag, sent as a string or a bool.
type flexStatus string

func (f *flexStatus) UnmarshalJSON(data []byte) error {
	switch strings.TrimSpace(string(data)) {
	case "true":
		*f = "active"
		return nil
	case "false":
		*f = "inactive"
		return nil
	case "null":
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*f = ""
		return nil
	}
	*f = flexStatus(strings.ToLower(s))
	return nil
}

type wireEntity struct {
	ID             string                `json:"_id"`
	Name           string                `json:"name"`
	BusinessName   string                `json:"businessName"`
	ApprovalStatus models.ApprovalStatus `json:"approvalStatus"`
	Status         flexStatus            `json:"status"`
	Owner          models.Ref            `json:"owner"`
	Business       models.Ref            `json:"business"`
	BussinessID    models.Ref            `json:"bussinessId"`
	BusinessID     models.Ref            `json:"businessId"`
	Category       models.Ref            `json:"category"`
	Description    string                `json:"description"`
	CreatedAt      flexTime              `json:"createdAt"`
	CreatedAtSnake flexTime              `json:"created_at"`
	DateCreated    flexTime              `json:"dateCreated"`
	UpdatedAt      flexTime              `json:"updatedAt"`
}

func (w wireEntity) toModel(kind models.EntityKind) models.Entity {
	name := w.Name
	if name == "" {
		name = w.BusinessName
	}

	business := w.Business
	if business.ID == "" {
		business.ID = firstNonEmpty(w.BussinessID.ID, w.BusinessID.ID)
	}

	created := w.CreatedAt.Time
	if created.IsZero() {
		created = w.CreatedAtSnake.Time
	}
	if created.IsZero() {
		created = w.DateCreated.Time
	}

	return models.Entity{
		ID:             w.ID,
		Kind:           kind,
		Name:           name,
		ApprovalStatus: w.ApprovalStatus,
		Status:         string(w.Status),
		Owner:          w.Owner,
		Business:       business,
		Category:       w.Category,
		Description:    w.Description,
		CreatedAt:      created,
		UpdatedAt:      w.UpdatedAt.Time,
	}
}

type listingEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Result json.RawMessage `json:"result"`
}

type wireNotificationData struct {
	Type        string     `json:"type"`
	BusinessID  string     `json:"businessId"`
	BussinessID string     `json:"bussinessId"`
	ProductID   string     `json:"productId"`
	OwnerID     string     `json:"ownerId"`
	Name        string     `json:"name"`
	Category    models.Ref `json:"category"`
}

type wireNotification struct {
	ID          string                `json:"_id"`
	Type        string                `json:"type"`
	Name        string                `json:"name"`
	Owner       models.Ref            `json:"owner"`
	Category    models.Ref            `json:"category"`
	Business    models.Ref            `json:"business"`
	BussinessID models.Ref            `json:"bussinessId"`
	BusinessID  models.Ref            `json:"businessId"`
	CreatedAt   flexTime              `json:"createdAt"`
	Data        *wireNotificationData `json:"data"`
}

// kind resolves the type discriminator: "<kind>_submission" or "<kind>",
// else data.type.
func (w wireNotification) kind() models.EntityKind {
	switch w.Type {
	case models.NotificationBusinessSubmission, "business":
		return models.KindBusiness
	case models.NotificationProductSubmission, "product":
		return models.KindProduct
	}
	if w.Data != nil {
		switch w.Data.Type {
		case "business":
			return models.KindBusiness
		case "product":
			return models.KindProduct
		}
	}
	return ""
}

func (w wireNotification) toModel() models.Notification {
	kind := w.kind()
	data := w.Data
	if data == nil {
		data = &wireNotificationData{}
	}

	n := models.Notification{
		ID:        w.ID,
		Type:      w.Type,
		Kind:      kind,
		Name:      firstNonEmpty(w.Name, data.Name),
		Owner:     firstNonEmpty(data.OwnerID, w.Owner.Name, w.Owner.ID),
		Category:  firstNonEmpty(w.Category.Name, w.Category.ID, data.Category.Name, data.Category.ID),
		CreatedAt: w.CreatedAt.Time,
	}
	if n.Type == "" {
		n.Type = models.SubmissionType(kind)
	}

	switch kind {
	case models.KindProduct:
		n.EntityID = firstNonEmpty(data.ProductID, w.ID)
		n.ParentID = firstNonEmpty(w.BussinessID.ID, w.BusinessID.ID, w.Business.ID, data.BussinessID, data.BusinessID)
	default:
		n.EntityID = firstNonEmpty(data.BusinessID, data.BussinessID, w.ID)
	}
	return n
}

type notificationsEnvelope struct {
	Result *struct {
		Notifications []wireNotification `json:"notifications"`
	} `json:"result"`
}

type createEnvelope struct {
	ID   string `json:"_id"`
	Data *struct {
		ID string `json:"_id"`
	} `json:"data"`
	Result *struct {
		ID string `json:"_id"`
	} `json:"result"`
}

func (c createEnvelope) entityID() string {
	var dataID, resultID string
	if c.Data != nil {
		dataID = c.Data.ID
	}
	if c.Result != nil {
		resultID = c.Result.ID
	}
	return firstNonEmpty(dataID, resultID, c.ID)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
