// internal/models/notification.go
package models

import "time"

// Notification types emitted by the backend.
const (
	NotificationBusinessSubmission = "business_submission"
	NotificationProductSubmission  = "product_submission"
)

// SubmissionType returns the notification type used for kind.
func SubmissionType(kind EntityKind) string {
	if kind == KindProduct {
		return NotificationProductSubmission
	}
	return NotificationBusinessSubmission
}

// Notification is a pending submission awaiting admin review. It is rebuilt
// on every fetch and never persisted.
type Notification struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Kind      EntityKind `json:"kind"`
	EntityID  string     `json:"entityId"`
	ParentID  string     `json:"parentId,omitempty"`
	Name      string     `json:"name"`
	Owner     string     `json:"owner,omitempty"`
	Category  string     `json:"category,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Matches reports whether the notification refers to id, either by its own
// ID or by the entity it announces.
func (n Notification) Matches(id string) bool {
	return id != "" && (n.ID == id || n.EntityID == id)
}

// NotificationFromEntity builds the view of a pending entity found through
// the listing fallback.
func NotificationFromEntity(e Entity) Notification {
	owner := e.Owner.Name
	if owner == "" {
		owner = e.Owner.ID
	}
	category := e.Category.Name
	if category == "" {
		category = e.Category.ID
	}
	return Notification{
		ID:        e.ID,
		Type:      SubmissionType(e.Kind),
		Kind:      e.Kind,
		EntityID:  e.ID,
		ParentID:  e.ParentID(),
		Name:      e.Name,
		Owner:     owner,
		Category:  category,
		CreatedAt: e.CreatedAt,
	}
}
