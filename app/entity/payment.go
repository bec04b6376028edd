package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusCreated    Status = "created"
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusDeclined   Status = "declined"
	StatusRefunded   Status = "refunded"
	StatusChargeback Status = "chargeback"
	StatusError      Status = "error"
)

func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusPending, StatusApproved, StatusDeclined, StatusRefunded, StatusChargeback, StatusError:
		return true
	default:
		return false
	}
}

type Method string

const (
	MethodCreditCard   Method = "credit_card"
	MethodDebitCard    Method = "debit_card"
	MethodBoleto       Method = "boleto"
	MethodPix          Method = "pix"
	MethodBankTransfer Method = "bank_transfer"
)

func (m Method) Valid() bool {
	switch m {
	case MethodCreditCard, MethodDebitCard, MethodBoleto, MethodPix, MethodBankTransfer:
		return true
	default:
		return false
	}
}

const (
	ContractSyncNone    int32 = 0
	ContractSyncPending int32 = 1
	ContractSyncSuccess int32 = 10
	ContractSyncFailed  int32 = 20
)

// Payment is one payment attempt against a contract. Its status is never
// stored directly: the ordered History is the single source of truth and
// CurrentStatus derives from the last entry.
type Payment struct {
	ID uint64

	ContractID uint64
	BuyerID    uint64
	ProviderID uint64

	Amount decimal.Decimal
	Method Method

	ExternalTransactionID *string

	History []StatusEntry

	ContractSyncStatus   int32
	ContractSyncTarget   *string
	ContractSyncAttempts int32
	ContractSyncNextAt   *time.Time
	ContractSyncLastErr  *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p *Payment) CurrentStatus() Status {
	if len(p.History) == 0 {
		return ""
	}
	return p.History[len(p.History)-1].Status
}

// StatusEntry is immutable once appended.
type StatusEntry struct {
	ID uint64

	PaymentID uint64

	Status   Status
	Reason   *string
	Metadata map[string]string

	CreatedAt time.Time
}
