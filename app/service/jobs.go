package service

import (
	"context"
	"time"

	"github.com/contratai/ms-go-payments/app/contracts"
	"github.com/contratai/ms-go-payments/app/entity"
)

// RunContractSyncBatch retries contract projections that failed on the
// synchronous paths. Each due payment gets one attempt; repeated failures
// back off until the attempt cap marks the row failed for manual follow-up.
func (s *PaymentService) RunContractSyncBatch(ctx context.Context) error {
	now := time.Now().UTC()
	items, err := s.paymentRepo.ListDueContractSync(ctx, now, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, payment := range items {
		if payment == nil || payment.ContractSyncTarget == nil {
			continue
		}
		target := contracts.Status(*payment.ContractSyncTarget)

		if err := s.pushContractStatus(ctx, payment.ContractID, target); err != nil {
			s.recordSyncFailure(payment, err, now)
		} else {
			s.markContractSyncDone(payment)
		}

		if err := s.paymentRepo.UpdateContractSync(ctx, payment); err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

func (s *PaymentService) recordSyncFailure(payment *entity.Payment, cause error, now time.Time) {
	payment.ContractSyncAttempts++
	message := truncate(cause.Error(), maxReasonLength)
	payment.ContractSyncLastErr = &message

	if payment.ContractSyncAttempts >= s.syncMaxAttempts() {
		s.logger.WithError(cause).
			WithField("payment_id", payment.ID).
			WithField("attempts", payment.ContractSyncAttempts).
			Error("Contract sync gave up after max attempts")
		payment.ContractSyncStatus = entity.ContractSyncFailed
		payment.ContractSyncNextAt = nil
		return
	}

	next := now.Add(s.syncRetryInterval())
	payment.ContractSyncNextAt = &next
}

func (s *PaymentService) syncMaxAttempts() int32 {
	if s.paymentsCfg.SyncMaxAttempts > 0 {
		return s.paymentsCfg.SyncMaxAttempts
	}
	return 10
}

func keepFirstErr(current, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
