package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/contratai/ms-go-payments/app/auth"
	"github.com/contratai/ms-go-payments/app/contracts"
	"github.com/contratai/ms-go-payments/app/entity"
	"github.com/contratai/ms-go-payments/app/gateway"
	"github.com/contratai/ms-go-payments/app/repository"
	"github.com/contratai/ms-go-payments/app/service"
	"github.com/contratai/ms-go-payments/app/types"
	"github.com/contratai/ms-go-payments/config"
)

type controllerPaymentRepo struct {
	mu sync.Mutex

	createFn              func(ctx context.Context, payment *entity.Payment, initial *entity.StatusEntry) error
	appendEntryFn         func(ctx context.Context, entry *entity.StatusEntry) error
	setExternalFn         func(ctx context.Context, paymentID uint64, transactionID string) error
	updateContractSyncFn  func(ctx context.Context, payment *entity.Payment) error
	findByIDFn            func(ctx context.Context, id uint64) (*entity.Payment, error)
	findByExternalFn      func(ctx context.Context, transactionID string) (*entity.Payment, error)
	listByContractFn      func(ctx context.Context, contractID uint64) ([]*entity.Payment, error)
	listFn                func(ctx context.Context, filter repository.PaymentFilter) ([]*entity.Payment, error)
	listDueContractSyncFn func(ctx context.Context, now time.Time, limit int32) ([]*entity.Payment, error)

	appendedEntries []entity.StatusEntry
}

func (r *controllerPaymentRepo) Create(ctx context.Context, payment *entity.Payment, initial *entity.StatusEntry) error {
	if r.createFn != nil {
		return r.createFn(ctx, payment, initial)
	}
	payment.ID = 1
	payment.History = append(payment.History, *initial)
	return nil
}

func (r *controllerPaymentRepo) AppendEntry(ctx context.Context, entry *entity.StatusEntry) error {
	r.mu.Lock()
	r.appendedEntries = append(r.appendedEntries, *entry)
	r.mu.Unlock()
	if r.appendEntryFn != nil {
		return r.appendEntryFn(ctx, entry)
	}
	return nil
}

func (r *controllerPaymentRepo) appended() []entity.StatusEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entity.StatusEntry(nil), r.appendedEntries...)
}

func (r *controllerPaymentRepo) SetExternalTransactionID(ctx context.Context, paymentID uint64, transactionID string) error {
	if r.setExternalFn != nil {
		return r.setExternalFn(ctx, paymentID, transactionID)
	}
	return nil
}

func (r *controllerPaymentRepo) UpdateContractSync(ctx context.Context, payment *entity.Payment) error {
	if r.updateContractSyncFn != nil {
		return r.updateContractSyncFn(ctx, payment)
	}
	return nil
}

func (r *controllerPaymentRepo) FindByID(ctx context.Context, id uint64) (*entity.Payment, error) {
	if r.findByIDFn != nil {
		return r.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (r *controllerPaymentRepo) FindByExternalTransactionID(ctx context.Context, transactionID string) (*entity.Payment, error) {
	if r.findByExternalFn != nil {
		return r.findByExternalFn(ctx, transactionID)
	}
	return nil, nil
}

func (r *controllerPaymentRepo) ListByContract(ctx context.Context, contractID uint64) ([]*entity.Payment, error) {
	if r.listByContractFn != nil {
		return r.listByContractFn(ctx, contractID)
	}
	return []*entity.Payment{}, nil
}

func (r *controllerPaymentRepo) List(ctx context.Context, filter repository.PaymentFilter) ([]*entity.Payment, error) {
	if r.listFn != nil {
		return r.listFn(ctx, filter)
	}
	return []*entity.Payment{}, nil
}

func (r *controllerPaymentRepo) ListDueContractSync(ctx context.Context, now time.Time, limit int32) ([]*entity.Payment, error) {
	if r.listDueContractSyncFn != nil {
		return r.listDueContractSyncFn(ctx, now, limit)
	}
	return []*entity.Payment{}, nil
}

type controllerContracts struct {
	getFn    func(ctx context.Context, id uint64) (*contracts.Contract, error)
	updateFn func(ctx context.Context, id uint64, update contracts.StatusUpdate) error
}

func (c *controllerContracts) GetContract(ctx context.Context, id uint64) (*contracts.Contract, error) {
	if c.getFn != nil {
		return c.getFn(ctx, id)
	}
	return &contracts.Contract{
		ID:          id,
		BuyerID:     10,
		ProviderID:  20,
		Status:      contracts.StatusAccepted,
		TotalAmount: decimal.RequireFromString("100.00"),
	}, nil
}

func (c *controllerContracts) UpdateStatus(ctx context.Context, id uint64, update contracts.StatusUpdate) error {
	if c.updateFn != nil {
		return c.updateFn(ctx, id, update)
	}
	return nil
}

type controllerGateway struct {
	chargeOutput *gateway.ChargeOutput
	chargeErr    error
	refundOutput *gateway.RefundOutput
	refundErr    error
}

func (g *controllerGateway) Charge(context.Context, *gateway.ChargeInput) (*gateway.ChargeOutput, error) {
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	if g.chargeOutput != nil {
		return g.chargeOutput, nil
	}
	return &gateway.ChargeOutput{Approved: true, TransactionID: "TX-ctrl", Message: "authorized"}, nil
}

func (g *controllerGateway) Refund(context.Context, *gateway.RefundInput) (*gateway.RefundOutput, error) {
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	if g.refundOutput != nil {
		return g.refundOutput, nil
	}
	return &gateway.RefundOutput{Refunded: true}, nil
}

func newControllerForTest(repo *controllerPaymentRepo, contractsFake *controllerContracts, gatewayFake *controllerGateway) *PaymentController {
	paymentService := service.NewPaymentService(
		repo,
		contractsFake,
		gatewayFake,
		config.PaymentsConfig{SyncMaxAttempts: 3, SyncRetryInterval: time.Minute, JobBatchSize: 100},
	)
	return NewPaymentController(paymentService, "webhook-secret")
}

func newAuthedContext(e *echo.Echo, req *http.Request, rec *httptest.ResponseRecorder, claims *auth.Claims) echo.Context {
	ctx := e.NewContext(req, rec)
	if claims != nil {
		auth.SetClaims(ctx, claims)
	}
	return ctx
}

func TestInitiatePaymentSuccess(t *testing.T) {
	ctrl := newControllerForTest(&controllerPaymentRepo{}, &controllerContracts{}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/payments", bytes.NewBufferString(`{"contractId":1,"method":"pix"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := newAuthedContext(e, req, rec, &auth.Claims{UserID: 10})

	if err := ctrl.InitiatePayment(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	var payload types.PaymentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if payload.Status != string(entity.StatusApproved) {
		t.Fatalf("expected approved payment, got %+v", payload)
	}
	if payload.Amount != "100.00" {
		t.Fatalf("expected amount 100.00, got %s", payload.Amount)
	}
	if len(payload.History) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(payload.History))
	}
}

func TestInitiatePaymentBadBody(t *testing.T) {
	ctrl := newControllerForTest(&controllerPaymentRepo{}, &controllerContracts{}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/payments", bytes.NewBufferString("{bad"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := newAuthedContext(e, req, rec, &auth.Claims{UserID: 10})

	_ = ctrl.InitiatePayment(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestInitiatePaymentUnauthenticated(t *testing.T) {
	ctrl := newControllerForTest(&controllerPaymentRepo{}, &controllerContracts{}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/payments", bytes.NewBufferString(`{"contractId":1,"method":"pix"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := newAuthedContext(e, req, rec, nil)

	_ = ctrl.InitiatePayment(ctx)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestInitiatePaymentForbiddenForNonBuyer(t *testing.T) {
	ctrl := newControllerForTest(&controllerPaymentRepo{}, &controllerContracts{}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/payments", bytes.NewBufferString(`{"contractId":1,"method":"pix"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := newAuthedContext(e, req, rec, &auth.Claims{UserID: 42})

	_ = ctrl.InitiatePayment(ctx)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestInitiatePaymentConflictOnApprovedContract(t *testing.T) {
	approved := &entity.Payment{
		ID:         5,
		ContractID: 1,
		BuyerID:    10,
		History:    []entity.StatusEntry{{Status: entity.StatusCreated}, {Status: entity.StatusApproved}},
	}
	repo := &controllerPaymentRepo{listByContractFn: func(context.Context, uint64) ([]*entity.Payment, error) {
		return []*entity.Payment{approved}, nil
	}}
	ctrl := newControllerForTest(repo, &controllerContracts{}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/payments", bytes.NewBufferString(`{"contractId":1,"method":"pix"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := newAuthedContext(e, req, rec, &auth.Claims{UserID: 10})

	_ = ctrl.InitiatePayment(ctx)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestGetPaymentNotFound(t *testing.T) {
	ctrl := newControllerForTest(&controllerPaymentRepo{}, &controllerContracts{}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/payments/9", nil)
	rec := httptest.NewRecorder()
	ctx := newAuthedContext(e, req, rec, &auth.Claims{UserID: 10})
	ctx.SetParamNames("id")
	ctx.SetParamValues("9")

	_ = ctrl.GetPayment(ctx)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListPaymentsInvalidLimit(t *testing.T) {
	ctrl := newControllerForTest(&controllerPaymentRepo{}, &controllerContracts{}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/payments?limit=9000", nil)
	rec := httptest.NewRecorder()
	ctx := newAuthedContext(e, req, rec, &auth.Claims{UserID: 10})

	_ = ctrl.ListPayments(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRefundPaymentInvalidStatusMapsToBadRequest(t *testing.T) {
	declined := &entity.Payment{
		ID:         5,
		ContractID: 1,
		BuyerID:    10,
		History:    []entity.StatusEntry{{Status: entity.StatusCreated}, {Status: entity.StatusDeclined}},
	}
	repo := &controllerPaymentRepo{findByIDFn: func(context.Context, uint64) (*entity.Payment, error) {
		return declined, nil
	}}
	ctrl := newControllerForTest(repo, &controllerContracts{}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPut, "/payments/5/refund", bytes.NewBufferString(`{"reason":"not delivered"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := newAuthedContext(e, req, rec, &auth.Claims{UserID: 99, Role: auth.RoleAdmin})
	ctx.SetParamNames("id")
	ctx.SetParamValues("5")

	_ = ctrl.RefundPayment(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	ctrl := newControllerForTest(&controllerPaymentRepo{}, &controllerContracts{}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	if err := ctrl.Health(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func webhookRequest(token, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewBufferString(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set("X-Webhook-Token", token)
	}
	return req
}

func TestWebhookAcksAndProcesses(t *testing.T) {
	transactionID := "TX-wh"
	pending := &entity.Payment{
		ID:                    5,
		ContractID:            1,
		BuyerID:               10,
		ExternalTransactionID: &transactionID,
		History:               []entity.StatusEntry{{Status: entity.StatusCreated}},
	}
	repo := &controllerPaymentRepo{findByExternalFn: func(context.Context, string) (*entity.Payment, error) {
		return pending, nil
	}}
	ctrl := newControllerForTest(repo, &controllerContracts{}, &controllerGateway{})
	e := echo.New()
	rec := httptest.NewRecorder()
	ctx := e.NewContext(webhookRequest("webhook-secret", `{"event":"payment.approved","data":{"transacaoId":"TX-wh"}}`), rec)

	if err := ctrl.HandleWebhook(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 ack, got %d", rec.Code)
	}

	// Processing runs after the ack; wait for the appended entry.
	deadline := time.Now().Add(2 * time.Second)
	for {
		entries := repo.appended()
		if len(entries) == 1 && entries[0].Status == entity.StatusApproved {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("webhook entry never appended, got %+v", entries)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebhookInvalidTokenAcksWithoutProcessing(t *testing.T) {
	repo := &controllerPaymentRepo{findByExternalFn: func(context.Context, string) (*entity.Payment, error) {
		t.Fatal("webhook with invalid token must not be processed")
		return nil, nil
	}}
	ctrl := newControllerForTest(repo, &controllerContracts{}, &controllerGateway{})
	e := echo.New()

	for _, token := range []string{"", "wrong-token"} {
		rec := httptest.NewRecorder()
		ctx := e.NewContext(webhookRequest(token, `{"event":"payment.approved","data":{"transacaoId":"TX-wh"}}`), rec)

		if err := ctrl.HandleWebhook(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 ack for token %q, got %d", token, rec.Code)
		}
	}

	time.Sleep(50 * time.Millisecond)
	if entries := repo.appended(); len(entries) != 0 {
		t.Fatalf("expected no processing, got entries %+v", entries)
	}
}

func TestWebhookMalformedBodyAcks(t *testing.T) {
	ctrl := newControllerForTest(&controllerPaymentRepo{}, &controllerContracts{}, &controllerGateway{})
	e := echo.New()
	rec := httptest.NewRecorder()
	ctx := e.NewContext(webhookRequest("webhook-secret", "{bad json"), rec)

	if err := ctrl.HandleWebhook(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 ack, got %d", rec.Code)
	}
}
