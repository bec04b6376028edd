package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

type HTTPConfig struct {
	BaseURL     string
	APIKey      string
	HTTPTimeout time.Duration
}

// HTTPGateway implements Gateway against the processor's REST API. The
// client timeout bounds every call; a timed-out charge surfaces as
// ErrProcessorUnavailable, never as a hang.
type HTTPGateway struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTPGateway(cfg HTTPConfig) *HTTPGateway {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTPGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type chargeRequest struct {
	ReferenceID string `json:"reference_id"`
	ContractID  uint64 `json:"contract_id"`
	BuyerID     uint64 `json:"buyer_id"`
	Amount      string `json:"amount"`
	Method      string `json:"method"`
}

type chargeResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	Message       string `json:"message"`
	ErrorCode     string `json:"error_code"`
}

func (g *HTTPGateway) Charge(ctx context.Context, input *ChargeInput) (*ChargeOutput, error) {
	if strings.TrimSpace(g.cfg.APIKey) == "" {
		return nil, errors.New("processor api key is not configured")
	}

	payload, err := json.Marshal(&chargeRequest{
		ReferenceID: fmt.Sprintf("pay-%d", input.PaymentID),
		ContractID:  input.ContractID,
		BuyerID:     input.BuyerID,
		Amount:      input.Amount.StringFixed(2),
		Method:      string(input.Method),
	})
	if err != nil {
		return nil, err
	}

	body, err := g.post(ctx, "/v1/charges", payload)
	if err != nil {
		return nil, err
	}

	var decision chargeResponse
	if err := json.Unmarshal(body, &decision); err != nil {
		return nil, fmt.Errorf("%w: malformed charge response: %v", ErrProcessorUnavailable, err)
	}

	switch decision.Status {
	case "approved":
		if strings.TrimSpace(decision.TransactionID) == "" {
			return nil, fmt.Errorf("%w: approved charge without transaction id", ErrProcessorUnavailable)
		}
		return &ChargeOutput{
			Approved:      true,
			TransactionID: decision.TransactionID,
			Message:       decision.Message,
		}, nil
	case "declined":
		return &ChargeOutput{
			Approved:  false,
			Message:   decision.Message,
			ErrorCode: decision.ErrorCode,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected charge status %q", ErrProcessorUnavailable, decision.Status)
	}
}

type refundRequest struct {
	Amount string `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

type refundResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code"`
}

func (g *HTTPGateway) Refund(ctx context.Context, input *RefundInput) (*RefundOutput, error) {
	if strings.TrimSpace(g.cfg.APIKey) == "" {
		return nil, errors.New("processor api key is not configured")
	}
	if strings.TrimSpace(input.TransactionID) == "" {
		return nil, errors.New("transaction id is required for refund")
	}

	payload, err := json.Marshal(&refundRequest{
		Amount: input.Amount.StringFixed(2),
		Reason: input.Reason,
	})
	if err != nil {
		return nil, err
	}

	body, err := g.post(ctx, "/v1/charges/"+url.PathEscape(input.TransactionID)+"/refunds", payload)
	if err != nil {
		return nil, err
	}

	var decision refundResponse
	if err := json.Unmarshal(body, &decision); err != nil {
		return nil, fmt.Errorf("%w: malformed refund response: %v", ErrProcessorUnavailable, err)
	}

	switch decision.Status {
	case "refunded":
		return &RefundOutput{Refunded: true, Message: decision.Message}, nil
	case "declined":
		return &RefundOutput{Refunded: false, Message: decision.Message, ErrorCode: decision.ErrorCode}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected refund status %q", ErrProcessorUnavailable, decision.Status)
	}
}

func (g *HTTPGateway) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	base := strings.TrimRight(strings.TrimSpace(g.cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("processor base url is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrProcessorUnavailable, resp.StatusCode, truncateBody(body))
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("processor rejected request: status=%d body=%s", resp.StatusCode, truncateBody(body))
	}

	return body, nil
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max])
}
