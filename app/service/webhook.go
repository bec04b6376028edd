package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/contratai/ms-go-payments/app/contracts"
	"github.com/contratai/ms-go-payments/app/entity"
	"github.com/contratai/ms-go-payments/app/types"
)

var webhookEventStatus = map[string]entity.Status{
	"payment.approved":   entity.StatusApproved,
	"payment.rejected":   entity.StatusDeclined,
	"payment.refunded":   entity.StatusRefunded,
	"payment.chargeback": entity.StatusChargeback,
}

// ProcessWebhookEvent applies one processor event to the ledger. The HTTP
// acknowledgment has already been sent by the time this runs, so every
// failure here is terminal: unresolvable or unrecognized events are dropped
// with a log line and duplicate deliveries are applied as-is. The processor
// sends no delivery id to deduplicate on; appending the repeated entry keeps
// the ledger an honest record of what the processor reported.
func (s *PaymentService) ProcessWebhookEvent(ctx context.Context, req *types.WebhookRequest) error {
	logger := s.logger.WithField("event", req.Event)

	status, ok := webhookEventStatus[strings.TrimSpace(req.Event)]
	if !ok {
		logger.Warn("Dropping webhook with unrecognized event")
		return nil
	}

	payment, err := s.resolveWebhookPayment(ctx, req.Data)
	if err != nil {
		return err
	}
	if payment == nil {
		logger.WithField("transaction_id", req.Data.TransactionID).
			WithField("internal_payment_id", req.Data.InternalPaymentID).
			Warn("Dropping webhook for unknown payment")
		return nil
	}

	if status == entity.StatusApproved && payment.ExternalTransactionID == nil && strings.TrimSpace(req.Data.TransactionID) != "" {
		if err := s.paymentRepo.SetExternalTransactionID(ctx, payment.ID, req.Data.TransactionID); err != nil {
			logger.WithError(err).WithField("payment_id", payment.ID).Error("Failed to store external transaction id from webhook")
		} else {
			transactionID := req.Data.TransactionID
			payment.ExternalTransactionID = &transactionID
		}
	}

	entry := &entity.StatusEntry{
		PaymentID: payment.ID,
		Status:    status,
		Reason:    optionalReason(req.Data.Message),
		Metadata:  webhookMetadata(req),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.appendEntry(ctx, payment, entry); err != nil {
		return err
	}

	switch status {
	case entity.StatusApproved:
		s.syncContract(ctx, payment, contracts.StatusInProgress)
	case entity.StatusRefunded, entity.StatusChargeback:
		s.syncContract(ctx, payment, contracts.StatusCancelledByBuyer)
	}

	return nil
}

// resolveWebhookPayment correlates by external transaction id first and
// falls back to the internal id carried in the event payload.
func (s *PaymentService) resolveWebhookPayment(ctx context.Context, data types.WebhookData) (*entity.Payment, error) {
	if transactionID := strings.TrimSpace(data.TransactionID); transactionID != "" {
		payment, err := s.paymentRepo.FindByExternalTransactionID(ctx, transactionID)
		if err != nil {
			return nil, err
		}
		if payment != nil {
			return payment, nil
		}
	}

	if internalRaw := strings.TrimSpace(data.InternalPaymentID); internalRaw != "" {
		id, err := strconv.ParseUint(internalRaw, 10, 64)
		if err != nil {
			return nil, nil
		}
		return s.paymentRepo.FindByID(ctx, id)
	}

	return nil, nil
}

func webhookMetadata(req *types.WebhookRequest) map[string]string {
	metadata := map[string]string{"event": req.Event}
	if strings.TrimSpace(req.Data.TransactionID) != "" {
		metadata["transaction_id"] = req.Data.TransactionID
	}
	if strings.TrimSpace(req.Data.InternalPaymentID) != "" {
		metadata["internal_payment_id"] = req.Data.InternalPaymentID
	}
	if strings.TrimSpace(req.Data.ErrorCode) != "" {
		metadata["error_code"] = req.Data.ErrorCode
	}
	return metadata
}
