package tenant

import (
	"time"

	"github.com/google/uuid"
)

// Status enumerates franchise lifecycle states.
type Status string

const (
	// StatusActive means the franchise trades normally.
	StatusActive Status = "active"
	// StatusInactive means the franchise is closed to new activity.
	StatusInactive Status = "inactive"
	// StatusMaintenance means the franchise is temporarily paused.
	StatusMaintenance Status = "maintenance"
)

// Valid reports whether the status is a known value.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusMaintenance:
		return true
	}
	return false
}

// Franchise is an isolated retail unit owning its own catalog and sales
// scope. Franchises are never deleted while referencing records exist;
// they are deactivated instead.
type Franchise struct {
	ID        uuid.UUID `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateFranchiseRequest is the payload for creating a franchise.
type CreateFranchiseRequest struct {
	Code    string `json:"code" validate:"required,max=20"`
	Name    string `json:"name" validate:"required,max=200"`
	Address string `json:"address" validate:"omitempty,max=500"`
	Phone   string `json:"phone" validate:"omitempty,max=50"`
}

// UpdateFranchiseRequest is the payload for updating a franchise.
type UpdateFranchiseRequest struct {
	Name    *string `json:"name,omitempty" validate:"omitempty,max=200"`
	Address *string `json:"address,omitempty" validate:"omitempty,max=500"`
	Phone   *string `json:"phone,omitempty" validate:"omitempty,max=50"`
	Status  *Status `json:"status,omitempty"`
}
