package mapper

import (
	"time"

	"github.com/contratai/ms-go-payments/app/entity"
	"github.com/contratai/ms-go-payments/app/types"
)

func PaymentToResponse(item *entity.Payment) *types.PaymentResponse {
	if item == nil {
		return nil
	}

	history := make([]types.StatusEntryResponse, 0, len(item.History))
	for _, entry := range item.History {
		history = append(history, types.StatusEntryResponse{
			Status:    string(entry.Status),
			Reason:    derefString(entry.Reason),
			Metadata:  cloneMetadata(entry.Metadata),
			Timestamp: entry.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	return &types.PaymentResponse{
		ID:                    item.ID,
		ContractID:            item.ContractID,
		Amount:                item.Amount.StringFixed(2),
		Method:                string(item.Method),
		Status:                string(item.CurrentStatus()),
		ExternalTransactionID: derefString(item.ExternalTransactionID),
		History:               history,
		CreatedAt:             item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:             item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func PaymentsToResponse(items []*entity.Payment) []*types.PaymentResponse {
	result := make([]*types.PaymentResponse, 0, len(items))
	for _, item := range items {
		result = append(result, PaymentToResponse(item))
	}
	return result
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func cloneMetadata(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
