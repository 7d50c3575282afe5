package transfer

import (
	"time"

	"github.com/google/uuid"
)

// Status enumerates transfer workflow states. Transitions are
// one-directional; no state is re-enterable.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusInTransit Status = "in_transit"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:  {StatusInTransit, StatusCompleted, StatusCancelled},
	StatusInTransit: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether the edge from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status accepts no further transitions.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Transfer is a tracked movement of stock between two franchises. Quantity
// is fixed at creation; only the status ever changes.
type Transfer struct {
	ID            uuid.UUID  `json:"id"`
	ProductID     uuid.UUID  `json:"product_id"`
	FromFranchise uuid.UUID  `json:"from_franchise"`
	ToFranchise   uuid.UUID  `json:"to_franchise"`
	Quantity      int64      `json:"quantity"`
	UnitPrice     float64    `json:"unit_price"`
	TotalValue    float64    `json:"total_value"`
	Status        Status     `json:"status"`
	InitiatedBy   int64      `json:"initiated_by"`
	ApprovedBy    *int64     `json:"approved_by,omitempty"`
	Note          string     `json:"note,omitempty"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// StatusChange is one append-only entry in a transfer's status history.
type StatusChange struct {
	ID         int64     `json:"id"`
	TransferID uuid.UUID `json:"transfer_id"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	ActorID    int64     `json:"actor_id"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// InitiateRequest is the payload for creating a transfer.
type InitiateRequest struct {
	ProductID     uuid.UUID `json:"product_id" validate:"required"`
	FromFranchise uuid.UUID `json:"from_franchise" validate:"required"`
	ToFranchise   uuid.UUID `json:"to_franchise" validate:"required"`
	Quantity      int64     `json:"quantity" validate:"required,gt=0"`
	UnitPrice     float64   `json:"unit_price" validate:"gte=0"`
	Note          string    `json:"note"`
}

// DirectRequest is the payload for the stock-in / stock-out shortcuts:
// already-settled physical movement recorded and completed in one call.
type DirectRequest struct {
	ProductID     uuid.UUID `json:"product_id" validate:"required"`
	FromFranchise uuid.UUID `json:"from_franchise" validate:"required"`
	ToFranchise   uuid.UUID `json:"to_franchise" validate:"required"`
	Quantity      int64     `json:"quantity" validate:"required,gt=0"`
	UnitCost      float64   `json:"unit_cost" validate:"gte=0"`
	Note          string    `json:"note"`
}

// ListFilter narrows transfer listings.
type ListFilter struct {
	Status  *Status
	Page    int
	PerPage int
}
