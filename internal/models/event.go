// internal/models/event.go
package models

import "time"

// Action is the admin decision carried by a status change.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Status returns the approval status an action results in.
func (a Action) Status() ApprovalStatus {
	if a == ActionApprove {
		return StatusApproved
	}
	return StatusRejected
}

// StatusChangeEvent announces a successful approve or reject.
type StatusChangeEvent struct {
	EntityID  string         `json:"entityId"`
	Kind      EntityKind     `json:"kind"`
	NewStatus ApprovalStatus `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Action    Action         `json:"action"`
}

// CreatedEvent announces a newly submitted entity.
type CreatedEvent struct {
	EntityID  string     `json:"entityId"`
	Kind      EntityKind `json:"kind"`
	Timestamp time.Time  `json:"timestamp"`
}

// ViewEntity is an entity as shown by a view after merging local overrides.
type ViewEntity struct {
	Entity
	EffectiveStatus ApprovalStatus `json:"effectiveStatus"`
	LocallyPending  bool           `json:"locallyPending"`
}

// Snapshot is the published state of an entity view.
type Snapshot struct {
	Seq          uint64       `json:"seq"`
	Kind         EntityKind   `json:"kind"`
	Entities     []ViewEntity `json:"entities"`
	Visible      []ViewEntity `json:"visible"`
	PendingCount int          `json:"pendingCount"`
	RefreshedAt  time.Time    `json:"refreshedAt"`
}

// FeedSnapshot is the published state of a notification badge.
type FeedSnapshot struct {
	Seq           uint64         `json:"seq"`
	Kind          EntityKind     `json:"kind"`
	Notifications []Notification `json:"notifications"`
	PendingCount  int            `json:"pendingCount"`
	Source        string         `json:"source"`
	RefreshedAt   time.Time      `json:"refreshedAt"`
}
