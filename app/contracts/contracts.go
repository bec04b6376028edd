package contracts

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending             Status = "pending"
	StatusAccepted            Status = "accepted"
	StatusInProgress          Status = "in_progress"
	StatusCompleted           Status = "completed"
	StatusCancelledByBuyer    Status = "cancelled_by_buyer"
	StatusCancelledByProvider Status = "cancelled_by_provider"
)

func (s Status) Cancelled() bool {
	return s == StatusCancelledByBuyer || s == StatusCancelledByProvider
}

// Contract is the external aggregate being paid for. It is owned by the
// contracts service; this package only reads it and pushes status updates.
type Contract struct {
	ID               uint64           `json:"id"`
	BuyerID          uint64           `json:"buyer_id"`
	ProviderID       uint64           `json:"provider_id"`
	Status           Status           `json:"status"`
	TotalAmount      decimal.Decimal  `json:"total_amount"`
	ServiceStartedAt *time.Time       `json:"service_started_at,omitempty"`
}

// StatusUpdate carries the fields the payments flow is allowed to touch.
// ServiceStartedAt is only sent when it should be set.
type StatusUpdate struct {
	Status           Status     `json:"status"`
	ServiceStartedAt *time.Time `json:"service_started_at,omitempty"`
}
