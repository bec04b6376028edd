package types

import (
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/contratai/ms-go-payments/app/entity"
)

type InitiatePaymentRequest struct {
	ContractID uint64 `json:"contractId"`
	Method     string `json:"method"`
}

func NewInitiatePaymentRequestFromContext(ctx echo.Context) (*InitiatePaymentRequest, error) {
	var body InitiatePaymentRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.Method = strings.ToLower(strings.TrimSpace(body.Method))
	return &body, nil
}

func (r *InitiatePaymentRequest) Validate() error {
	if r.ContractID == 0 {
		return errors.New("contractId is required")
	}
	if !entity.Method(r.Method).Valid() {
		return errors.New("method must be one of credit_card, debit_card, boleto, pix, bank_transfer")
	}
	return nil
}

type GetPaymentRequest struct {
	ID uint64
}

func NewGetPaymentRequestFromContext(ctx echo.Context) (*GetPaymentRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	return &GetPaymentRequest{ID: id}, nil
}

func (r *GetPaymentRequest) Validate() error {
	if r.ID == 0 {
		return errors.New("invalid payment id")
	}
	return nil
}

type RefundPaymentRequest struct {
	ID     uint64 `json:"-"`
	Reason string `json:"reason"`
}

func NewRefundPaymentRequestFromContext(ctx echo.Context) (*RefundPaymentRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}

	var body RefundPaymentRequest
	if err = ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	body.ID = id
	body.Reason = strings.TrimSpace(body.Reason)

	return &body, nil
}

func (r *RefundPaymentRequest) Validate() error {
	if r.ID == 0 {
		return errors.New("invalid payment id")
	}
	return nil
}

type ListPaymentsRequest struct {
	Status string
	Method string
	From   *time.Time
	To     *time.Time
	Limit  int32
	Offset int32
}

func NewListPaymentsRequestFromContext(ctx echo.Context) (*ListPaymentsRequest, error) {
	req := &ListPaymentsRequest{
		Status: strings.ToLower(strings.TrimSpace(ctx.QueryParam("status"))),
		Method: strings.ToLower(strings.TrimSpace(ctx.QueryParam("method"))),
		Limit:  100,
		Offset: 0,
	}

	if fromRaw := strings.TrimSpace(ctx.QueryParam("from")); fromRaw != "" {
		from, err := time.Parse(time.RFC3339, fromRaw)
		if err != nil {
			return nil, err
		}
		req.From = &from
	}
	if toRaw := strings.TrimSpace(ctx.QueryParam("to")); toRaw != "" {
		to, err := time.Parse(time.RFC3339, toRaw)
		if err != nil {
			return nil, err
		}
		req.To = &to
	}

	if limitRaw := strings.TrimSpace(ctx.QueryParam("limit")); limitRaw != "" {
		limit, err := strconv.ParseInt(limitRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Limit = int32(limit)
	}
	if offsetRaw := strings.TrimSpace(ctx.QueryParam("offset")); offsetRaw != "" {
		offset, err := strconv.ParseInt(offsetRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Offset = int32(offset)
	}

	return req, nil
}

func (r *ListPaymentsRequest) Validate() error {
	if r.Limit <= 0 || r.Limit > 500 {
		return errors.New("limit must be between 1 and 500")
	}
	if r.Offset < 0 {
		return errors.New("offset must be >= 0")
	}
	if r.Status != "" && !entity.Status(r.Status).Valid() {
		return errors.New("invalid status")
	}
	if r.Method != "" && !entity.Method(r.Method).Valid() {
		return errors.New("invalid method")
	}
	if r.From != nil && r.To != nil && r.To.Before(*r.From) {
		return errors.New("to must not be before from")
	}
	return nil
}

// WebhookData carries the processor's event payload. Field names follow the
// processor's wire format.
type WebhookData struct {
	TransactionID     string `json:"transacaoId,omitempty"`
	InternalPaymentID string `json:"pagamentoIdInterno,omitempty"`
	Message           string `json:"message,omitempty"`
	ErrorCode         string `json:"errorCode,omitempty"`
}

type WebhookRequest struct {
	Event string      `json:"event"`
	Data  WebhookData `json:"data"`
}

func NewWebhookRequestFromContext(ctx echo.Context) (*WebhookRequest, error) {
	rawBody, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return nil, err
	}

	var req WebhookRequest
	if err := json.Unmarshal(rawBody, &req); err != nil {
		return nil, err
	}
	req.Event = strings.TrimSpace(req.Event)
	return &req, nil
}
