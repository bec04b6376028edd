package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/contratai/ms-go-payments/app/auth"
	"github.com/contratai/ms-go-payments/app/contracts"
	"github.com/contratai/ms-go-payments/app/entity"
	"github.com/contratai/ms-go-payments/app/gateway"
	"github.com/contratai/ms-go-payments/app/types"
)

// RefundPayment refunds an approved payment through the processor. Admins may
// refund any payment; the buyer may only self-request a refund when the
// contract is already cancelled_by_buyer.
func (s *PaymentService) RefundPayment(ctx context.Context, req *types.RefundPaymentRequest, requester *auth.Claims) (*entity.Payment, error) {
	if requester == nil || requester.UserID == 0 {
		return nil, ErrUnauthenticated
	}
	if req == nil || req.ID == 0 {
		return nil, fmt.Errorf("%w: payment id is required", ErrInvalidRequest)
	}

	payment, err := s.paymentRepo.FindByID(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}

	contract, err := s.contracts.GetContract(ctx, payment.ContractID)
	if err != nil {
		if errors.Is(err, contracts.ErrContractNotFound) {
			return nil, ErrContractNotFound
		}
		return nil, err
	}

	buyerMayRefund := requester.UserID == contract.BuyerID && contract.Status == contracts.StatusCancelledByBuyer
	if !requester.Admin() && !buyerMayRefund {
		return nil, fmt.Errorf("%w: refund requires admin or cancelling buyer", ErrNotAllowed)
	}

	if payment.CurrentStatus() != entity.StatusApproved {
		return nil, fmt.Errorf("%w: only approved payments can be refunded, current status is %s", ErrInvalidStatus, payment.CurrentStatus())
	}
	if payment.ExternalTransactionID == nil {
		return nil, fmt.Errorf("%w: payment has no external transaction id", ErrInvalidStatus)
	}

	output, err := s.gateway.Refund(ctx, &gateway.RefundInput{
		TransactionID: *payment.ExternalTransactionID,
		Amount:        payment.Amount,
		Reason:        req.Reason,
	})
	if err != nil {
		s.recordProcessingError(ctx, payment, fmt.Sprintf("processor refund failed: %v", err))
		return payment, nil
	}
	if !output.Refunded {
		s.recordProcessingError(ctx, payment, fmt.Sprintf("processor declined refund: %s (code=%s)", output.Message, output.ErrorCode))
		return payment, nil
	}

	entry := &entity.StatusEntry{
		PaymentID: payment.ID,
		Status:    entity.StatusRefunded,
		Reason:    refundReason(req.Reason, output.Message),
		Metadata:  map[string]string{"transaction_id": *payment.ExternalTransactionID},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.appendEntry(ctx, payment, entry); err != nil {
		s.recordProcessingError(ctx, payment, fmt.Sprintf("failed to record refunded entry: %v", err))
		return payment, nil
	}

	if contract.Status == contracts.StatusInProgress || contract.Status == contracts.StatusAccepted || contract.Status == contracts.StatusPending {
		s.syncContract(ctx, payment, refundCancellationTarget(requester, contract))
	}

	return payment, nil
}

// refundCancellationTarget frames the contract cancellation by requester:
// admin-initiated refunds default to the buyer-initiated framing.
func refundCancellationTarget(requester *auth.Claims, contract *contracts.Contract) contracts.Status {
	if requester.UserID == contract.ProviderID {
		return contracts.StatusCancelledByProvider
	}
	return contracts.StatusCancelledByBuyer
}

func refundReason(requestReason, gatewayMessage string) *string {
	if reason := optionalReason(requestReason); reason != nil {
		return reason
	}
	return optionalReason(gatewayMessage)
}
