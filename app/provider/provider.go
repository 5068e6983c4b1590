package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/vibast-solutions/ms-go-momo/app/entity"
)

var (
	ErrProviderNotSupported = errors.New("provider is not supported")

	// ErrProviderRejected marks a permanent provider decision (bad payer
	// handle, unsupported operator). Callers must not retry.
	ErrProviderRejected = errors.New("provider rejected the request")

	// ErrProviderUnavailable marks a transport-level failure. Callers may
	// retry with backoff.
	ErrProviderUnavailable = errors.New("provider temporarily unavailable")
)

type InitiateInput struct {
	IdempotencyKey    string
	ExternalReference string

	AmountCents int64
	Currency    string
	PayerHandle string
	Description string
}

type InitiateOutput struct {
	Reference string
	Status    int32
	Operator  *string
	UssdCode  *string
}

type StatusResult struct {
	Status int32

	Operator          *string
	ProviderCode      *string
	OperatorReference *string
	Reason            *string
}

type Provider interface {
	Code() int32
	InitiatePayment(ctx context.Context, input *InitiateInput) (*InitiateOutput, error)
	GetPaymentStatus(ctx context.Context, reference string) (*StatusResult, error)
	VerifyWebhookSignature(payload []byte, signature string) error
}

// MapProviderStatus normalizes the provider's status vocabulary, including
// spellings seen from different operators, to the internal codes. Unknown
// values map to zero and are treated as no information.
func MapProviderStatus(raw string) int32 {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PENDING", "PROCESSING", "INITIATED":
		return entity.PaymentStatusPending
	case "SUCCESSFUL", "SUCCESS", "SUCCEEDED", "COMPLETED":
		return entity.PaymentStatusSuccessful
	case "FAILED", "FAILURE", "EXPIRED":
		return entity.PaymentStatusFailed
	case "CANCELLED", "CANCELED":
		return entity.PaymentStatusCancelled
	default:
		return 0
	}
}
