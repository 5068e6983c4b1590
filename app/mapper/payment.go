package mapper

import (
	"time"

	"github.com/vibast-solutions/ms-go-momo/app/entity"
	"github.com/vibast-solutions/ms-go-momo/app/types"
)

func PaymentStatusName(status int32) string {
	switch status {
	case entity.PaymentStatusPending:
		return "PENDING"
	case entity.PaymentStatusSuccessful:
		return "SUCCESSFUL"
	case entity.PaymentStatusFailed:
		return "FAILED"
	case entity.PaymentStatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

func PaymentToResponse(item *entity.PaymentRecord) *types.Payment {
	if item == nil {
		return nil
	}

	return &types.Payment{
		Reference:         item.Reference,
		OrderID:           item.OrderID,
		PayerHandle:       item.PayerHandle,
		Description:       item.Description,
		AmountCents:       item.AmountCents,
		Currency:          item.Currency,
		Status:            PaymentStatusName(item.Status),
		Operator:          derefString(item.Operator),
		ProviderCode:      derefString(item.ProviderCode),
		OperatorReference: derefString(item.OperatorReference),
		FailureReason:     derefString(item.FailureReason),
		CreatedAt:         item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:         item.UpdatedAt.UTC().Format(time.RFC3339),
		ExpiresAt:         item.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
