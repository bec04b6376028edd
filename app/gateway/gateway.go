package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/contratai/ms-go-payments/app/entity"
)

var ErrProcessorUnavailable = errors.New("payment processor unavailable")

type ChargeInput struct {
	PaymentID  uint64
	ContractID uint64
	BuyerID    uint64
	Amount     decimal.Decimal
	Method     entity.Method
}

// ChargeOutput is the processor's synchronous decision. A network or
// processor failure is reported through the error return instead.
type ChargeOutput struct {
	Approved      bool
	TransactionID string
	Message       string
	ErrorCode     string
}

type RefundInput struct {
	TransactionID string
	Amount        decimal.Decimal
	Reason        string
}

type RefundOutput struct {
	Refunded  bool
	Message   string
	ErrorCode string
}

// Gateway is the boundary to the external payment processor.
type Gateway interface {
	Charge(ctx context.Context, input *ChargeInput) (*ChargeOutput, error)
	Refund(ctx context.Context, input *RefundInput) (*RefundOutput, error)
}
