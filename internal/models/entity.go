// internal/models/entity.go
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EntityKind names a resource family subject to admin approval.
type EntityKind string

const (
	KindBusiness EntityKind = "business"
	KindProduct  EntityKind = "product"
)

// Kinds lists every supported kind.
func Kinds() []EntityKind {
	return []EntityKind{KindBusiness, KindProduct}
}

// ParseEntityKind accepts the singular or plural form.
func ParseEntityKind(s string) (EntityKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "business", "businesses":
		return KindBusiness, nil
	case "product", "products":
		return KindProduct, nil
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

func (k EntityKind) Valid() bool {
	return k == KindBusiness || k == KindProduct
}

// Parent returns the kind that owns entities of kind k.
func (k EntityKind) Parent() (EntityKind, bool) {
	if k == KindProduct {
		return KindBusiness, true
	}
	return "", false
}

func (k EntityKind) String() string { return string(k) }

// ApprovalStatus is the admin review state of an entity. The zero value is
// "unknown".
type ApprovalStatus string

const (
	StatusUnknown  ApprovalStatus = ""
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusRejected ApprovalStatus = "rejected"
)

// ParseApprovalStatus normalizes the spellings seen on the wire. "denied"
// and "declined" are rejections.
func ParseApprovalStatus(s string) ApprovalStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatusPending
	case "approved", "approve":
		return StatusApproved
	case "rejected", "reject", "denied", "declined":
		return StatusRejected
	}
	return StatusUnknown
}

// IsTerminal reports whether the status is a final review outcome.
func (s ApprovalStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

func (s *ApprovalStatus) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*s = StatusUnknown
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("approval status: %w", err)
	}
	*s = ParseApprovalStatus(raw)
	return nil
}

// Ref points at another record. On the wire it is either a bare ID or a
// populated object.
type Ref struct {
	ID   string `json:"_id,omitempty"`
	Name string `json:"name,omitempty"`
}

func (r *Ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = Ref{}
		return nil
	}
	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*r = Ref{ID: id}
		return nil
	}
	var obj struct {
		MongoID string `json:"_id"`
		ID      string `json:"id"`
		Name    string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("ref: %w", err)
	}
	r.ID = obj.MongoID
	if r.ID == "" {
		r.ID = obj.ID
	}
	r.Name = obj.Name
	return nil
}

func (r Ref) IsZero() bool { return r.ID == "" }

// Entity is a business or product as the backend reports it.
type Entity struct {
	ID             string         `json:"_id"`
	Kind           EntityKind     `json:"kind"`
	Name           string         `json:"name"`
	ApprovalStatus ApprovalStatus `json:"approvalStatus"`
	Status         string         `json:"status,omitempty"` // active | inactive
	Owner          Ref            `json:"owner,omitzero"`
	Business       Ref            `json:"business,omitzero"`
	Category       Ref            `json:"category,omitzero"`
	Description    string         `json:"description,omitempty"`
	CreatedAt      time.Time      `json:"createdAt,omitzero"`
	UpdatedAt      time.Time      `json:"updatedAt,omitzero"`
}

// ParentID is the owning business of a product, empty otherwise.
func (e Entity) ParentID() string {
	return e.Business.ID
}
