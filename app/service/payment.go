package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/contratai/ms-go-payments/app/auth"
	"github.com/contratai/ms-go-payments/app/contracts"
	"github.com/contratai/ms-go-payments/app/entity"
	"github.com/contratai/ms-go-payments/app/factory"
	"github.com/contratai/ms-go-payments/app/gateway"
	"github.com/contratai/ms-go-payments/app/repository"
	"github.com/contratai/ms-go-payments/app/types"
	"github.com/contratai/ms-go-payments/config"
)

const (
	defaultListLimit = int32(100)
	defaultBatchSize = int32(100)

	maxReasonLength = 512
)

type paymentRepository interface {
	Create(ctx context.Context, payment *entity.Payment, initial *entity.StatusEntry) error
	AppendEntry(ctx context.Context, entry *entity.StatusEntry) error
	SetExternalTransactionID(ctx context.Context, paymentID uint64, transactionID string) error
	UpdateContractSync(ctx context.Context, payment *entity.Payment) error
	FindByID(ctx context.Context, id uint64) (*entity.Payment, error)
	FindByExternalTransactionID(ctx context.Context, transactionID string) (*entity.Payment, error)
	ListByContract(ctx context.Context, contractID uint64) ([]*entity.Payment, error)
	List(ctx context.Context, filter repository.PaymentFilter) ([]*entity.Payment, error)
	ListDueContractSync(ctx context.Context, now time.Time, limit int32) ([]*entity.Payment, error)
}

type contractsClient interface {
	GetContract(ctx context.Context, id uint64) (*contracts.Contract, error)
	UpdateStatus(ctx context.Context, id uint64, update contracts.StatusUpdate) error
}

type PaymentService struct {
	paymentRepo paymentRepository
	contracts   contractsClient
	gateway     gateway.Gateway
	paymentsCfg config.PaymentsConfig
	logger      logrus.FieldLogger
}

func NewPaymentService(
	paymentRepo paymentRepository,
	contractsClient contractsClient,
	processorGateway gateway.Gateway,
	paymentsCfg config.PaymentsConfig,
) *PaymentService {
	return &PaymentService{
		paymentRepo: paymentRepo,
		contracts:   contractsClient,
		gateway:     processorGateway,
		paymentsCfg: paymentsCfg,
		logger:      factory.NewModuleLogger("payments-service"),
	}
}

// InitiatePayment runs the synchronous buyer-initiated flow: validate against
// the contract, persist the payment with its created entry, charge the
// processor and record the outcome. Once the payment exists, processor or
// persistence failures no longer fail the call; they are recorded as an error
// entry and the payment is returned so the caller can follow up.
func (s *PaymentService) InitiatePayment(ctx context.Context, req *types.InitiatePaymentRequest, requester *auth.Claims) (*entity.Payment, error) {
	if requester == nil || requester.UserID == 0 {
		return nil, ErrUnauthenticated
	}
	if req == nil || req.ContractID == 0 {
		return nil, fmt.Errorf("%w: contract id is required", ErrInvalidRequest)
	}
	method := entity.Method(strings.TrimSpace(req.Method))
	if !method.Valid() {
		return nil, fmt.Errorf("%w: unrecognized payment method %q", ErrInvalidRequest, req.Method)
	}

	contract, err := s.contracts.GetContract(ctx, req.ContractID)
	if err != nil {
		if errors.Is(err, contracts.ErrContractNotFound) {
			return nil, ErrContractNotFound
		}
		return nil, err
	}
	if contract.BuyerID != requester.UserID {
		return nil, fmt.Errorf("%w: only the contract buyer can pay", ErrNotAllowed)
	}
	if contract.Status != contracts.StatusPending && contract.Status != contracts.StatusAccepted {
		return nil, fmt.Errorf("%w: contract status %s does not allow payment", ErrInvalidStatus, contract.Status)
	}

	existing, err := s.paymentRepo.ListByContract(ctx, contract.ID)
	if err != nil {
		return nil, err
	}
	for _, item := range existing {
		if item.CurrentStatus() == entity.StatusApproved {
			return nil, ErrPaymentAlreadyApproved
		}
	}

	now := time.Now().UTC()
	payment := &entity.Payment{
		ContractID: contract.ID,
		BuyerID:    contract.BuyerID,
		ProviderID: contract.ProviderID,
		Amount:     contract.TotalAmount,
		Method:     method,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	initial := &entity.StatusEntry{
		Status:    entity.StatusCreated,
		CreatedAt: now,
	}
	if err := s.paymentRepo.Create(ctx, payment, initial); err != nil {
		return nil, err
	}

	s.chargePayment(ctx, payment, contract)

	return payment, nil
}

func (s *PaymentService) chargePayment(ctx context.Context, payment *entity.Payment, contract *contracts.Contract) {
	output, err := s.gateway.Charge(ctx, &gateway.ChargeInput{
		PaymentID:  payment.ID,
		ContractID: payment.ContractID,
		BuyerID:    payment.BuyerID,
		Amount:     payment.Amount,
		Method:     payment.Method,
	})
	if err != nil {
		s.recordProcessingError(ctx, payment, fmt.Sprintf("processor charge failed: %v", err))
		return
	}

	now := time.Now().UTC()
	if !output.Approved {
		entry := &entity.StatusEntry{
			PaymentID: payment.ID,
			Status:    entity.StatusDeclined,
			Reason:    optionalReason(output.Message),
			Metadata:  declineMetadata(output.ErrorCode),
			CreatedAt: now,
		}
		if err := s.appendEntry(ctx, payment, entry); err != nil {
			s.recordProcessingError(ctx, payment, fmt.Sprintf("failed to record declined entry: %v", err))
		}
		return
	}

	if err := s.paymentRepo.SetExternalTransactionID(ctx, payment.ID, output.TransactionID); err != nil {
		s.recordProcessingError(ctx, payment, fmt.Sprintf("failed to store external transaction id: %v", err))
		return
	}
	transactionID := output.TransactionID
	payment.ExternalTransactionID = &transactionID

	entry := &entity.StatusEntry{
		PaymentID: payment.ID,
		Status:    entity.StatusApproved,
		Reason:    optionalReason(output.Message),
		Metadata:  map[string]string{"transaction_id": transactionID},
		CreatedAt: now,
	}
	if err := s.appendEntry(ctx, payment, entry); err != nil {
		s.recordProcessingError(ctx, payment, fmt.Sprintf("failed to record approved entry: %v", err))
		return
	}

	s.syncContract(ctx, payment, contracts.StatusInProgress)
}

func (s *PaymentService) GetPayment(ctx context.Context, req *types.GetPaymentRequest, requester *auth.Claims) (*entity.Payment, error) {
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

	if !requester.Admin() && requester.UserID != payment.BuyerID && requester.UserID != payment.ProviderID {
		return nil, ErrNotAllowed
	}
	return payment, nil
}

func (s *PaymentService) ListPayments(ctx context.Context, req *types.ListPaymentsRequest, requester *auth.Claims) ([]*entity.Payment, error) {
	if requester == nil || requester.UserID == 0 {
		return nil, ErrUnauthenticated
	}
	if req == nil {
		req = &types.ListPaymentsRequest{}
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	return s.paymentRepo.List(ctx, repository.PaymentFilter{
		BuyerID: requester.UserID,
		Status:  entity.Status(req.Status),
		Method:  entity.Method(req.Method),
		From:    req.From,
		To:      req.To,
		Limit:   limit,
		Offset:  req.Offset,
	})
}

// recordProcessingError appends an error entry unless the ledger already
// ends in one, so a failure path hit twice never stacks duplicates.
func (s *PaymentService) recordProcessingError(ctx context.Context, payment *entity.Payment, message string) {
	s.logger.WithField("payment_id", payment.ID).Error(message)

	if payment.CurrentStatus() == entity.StatusError {
		return
	}

	reason := truncate(message, maxReasonLength)
	entry := &entity.StatusEntry{
		PaymentID: payment.ID,
		Status:    entity.StatusError,
		Reason:    &reason,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.appendEntry(ctx, payment, entry); err != nil {
		s.logger.WithError(err).WithField("payment_id", payment.ID).Error("Failed to record error entry")
	}
}

func (s *PaymentService) appendEntry(ctx context.Context, payment *entity.Payment, entry *entity.StatusEntry) error {
	if err := s.paymentRepo.AppendEntry(ctx, entry); err != nil {
		return err
	}
	payment.History = append(payment.History, *entry)
	payment.UpdatedAt = entry.CreatedAt
	return nil
}

// syncContract pushes the contract projection best-effort: a failure is
// logged and queued for the sync job, never surfaced to the caller.
func (s *PaymentService) syncContract(ctx context.Context, payment *entity.Payment, target contracts.Status) {
	now := time.Now().UTC()
	if err := s.pushContractStatus(ctx, payment.ContractID, target); err != nil {
		s.logger.WithError(err).
			WithField("payment_id", payment.ID).
			WithField("contract_id", payment.ContractID).
			WithField("target_status", string(target)).
			Error("Contract sync failed, queued for retry")
		s.markContractSyncPending(payment, target, now)
	} else {
		s.markContractSyncDone(payment)
	}

	if err := s.paymentRepo.UpdateContractSync(ctx, payment); err != nil {
		s.logger.WithError(err).WithField("payment_id", payment.ID).Error("Failed to persist contract sync state")
	}
}

// pushContractStatus applies one projection step against the contracts
// service. It re-reads the contract so retries observe the latest state.
func (s *PaymentService) pushContractStatus(ctx context.Context, contractID uint64, target contracts.Status) error {
	contract, err := s.contracts.GetContract(ctx, contractID)
	if err != nil {
		return err
	}

	switch target {
	case contracts.StatusInProgress:
		if contract.Status == contracts.StatusInProgress {
			return nil
		}
		update := contracts.StatusUpdate{Status: contracts.StatusInProgress}
		if contract.ServiceStartedAt == nil {
			now := time.Now().UTC()
			update.ServiceStartedAt = &now
		}
		return s.contracts.UpdateStatus(ctx, contractID, update)
	case contracts.StatusCancelledByBuyer, contracts.StatusCancelledByProvider:
		if contract.Status.Cancelled() || contract.Status == contracts.StatusCompleted {
			return nil
		}
		return s.contracts.UpdateStatus(ctx, contractID, contracts.StatusUpdate{Status: target})
	default:
		return fmt.Errorf("unsupported contract sync target %q", target)
	}
}

func (s *PaymentService) markContractSyncPending(payment *entity.Payment, target contracts.Status, now time.Time) {
	targetValue := string(target)
	next := now.Add(s.syncRetryInterval())
	payment.ContractSyncStatus = entity.ContractSyncPending
	payment.ContractSyncTarget = &targetValue
	payment.ContractSyncAttempts = 0
	payment.ContractSyncNextAt = &next
	payment.ContractSyncLastErr = nil
}

func (s *PaymentService) markContractSyncDone(payment *entity.Payment) {
	payment.ContractSyncStatus = entity.ContractSyncSuccess
	payment.ContractSyncTarget = nil
	payment.ContractSyncNextAt = nil
	payment.ContractSyncLastErr = nil
}

func (s *PaymentService) syncRetryInterval() time.Duration {
	if s.paymentsCfg.SyncRetryInterval > 0 {
		return s.paymentsCfg.SyncRetryInterval
	}
	return 5 * time.Minute
}

func (s *PaymentService) batchSize() int32 {
	if s.paymentsCfg.JobBatchSize > 0 {
		return s.paymentsCfg.JobBatchSize
	}
	return defaultBatchSize
}

func optionalReason(message string) *string {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return nil
	}
	trimmed = truncate(trimmed, maxReasonLength)
	return &trimmed
}

func declineMetadata(errorCode string) map[string]string {
	if strings.TrimSpace(errorCode) == "" {
		return nil
	}
	return map[string]string{"error_code": errorCode}
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
