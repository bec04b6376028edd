package types

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type StatusEntryResponse struct {
	Status    string            `json:"status"`
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp string            `json:"timestamp"`
}

type PaymentResponse struct {
	ID                    uint64                `json:"id"`
	ContractID            uint64                `json:"contractId"`
	Amount                string                `json:"amount"`
	Method                string                `json:"method"`
	Status                string                `json:"status"`
	ExternalTransactionID string                `json:"externalTransactionId,omitempty"`
	History               []StatusEntryResponse `json:"history"`
	CreatedAt             string                `json:"createdAt"`
	UpdatedAt             string                `json:"updatedAt"`
}

type ListPaymentsResponse struct {
	Payments []*PaymentResponse `json:"payments"`
}
