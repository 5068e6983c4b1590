package types

import (
	"errors"
	"io"
	"strings"

	"github.com/labstack/echo/v4"
)

type Payment struct {
	Reference         string `json:"reference"`
	OrderID           string `json:"order_id"`
	PayerHandle       string `json:"payer_handle"`
	Description       string `json:"description,omitempty"`
	AmountCents       int64  `json:"amount_cents"`
	Currency          string `json:"currency"`
	Status            string `json:"status"`
	Operator          string `json:"operator,omitempty"`
	ProviderCode      string `json:"provider_code,omitempty"`
	OperatorReference string `json:"operator_reference,omitempty"`
	FailureReason     string `json:"failure_reason,omitempty"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
	ExpiresAt         string `json:"expires_at"`
}

type PaymentEnvelopeResponse struct {
	Payment *Payment `json:"payment"`
}

type OrderStatusResponse struct {
	OrderID           string `json:"order_id"`
	PaymentStatus     string `json:"payment_status"`
	FulfillmentStatus string `json:"fulfillment_status"`
	Reference         string `json:"reference,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type InitiatePaymentRequest struct {
	OrderID     string `json:"order_id"`
	PayerHandle string `json:"payer_handle"`
	Description string `json:"description"`
}

func NewInitiatePaymentRequestFromContext(ctx echo.Context) (*InitiatePaymentRequest, error) {
	var body InitiatePaymentRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.OrderID = strings.TrimSpace(body.OrderID)
	body.PayerHandle = strings.TrimSpace(body.PayerHandle)
	body.Description = strings.TrimSpace(body.Description)

	return &body, nil
}

func (r *InitiatePaymentRequest) Validate() error {
	if r.OrderID == "" {
		return errors.New("order_id is required")
	}
	if r.PayerHandle == "" {
		return errors.New("payer_handle is required")
	}
	if !validPayerHandle(r.PayerHandle) {
		return errors.New("payer_handle must be a valid msisdn")
	}
	return nil
}

type ProviderWebhookRequest struct {
	Signature string
	Payload   []byte
}

func NewProviderWebhookRequestFromContext(ctx echo.Context) (*ProviderWebhookRequest, error) {
	rawBody, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return nil, err
	}

	return &ProviderWebhookRequest{
		Signature: strings.TrimSpace(ctx.Request().Header.Get("X-Momo-Signature")),
		Payload:   rawBody,
	}, nil
}

func (r *ProviderWebhookRequest) Validate() error {
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	return nil
}

func (r *ProviderWebhookRequest) GetSignature() string {
	return r.Signature
}

func (r *ProviderWebhookRequest) GetPayload() []byte {
	return r.Payload
}

type OrderStatusRequest struct {
	OrderID string
}

func NewOrderStatusRequestFromContext(ctx echo.Context) (*OrderStatusRequest, error) {
	return &OrderStatusRequest{OrderID: strings.TrimSpace(ctx.Param("orderId"))}, nil
}

func (r *OrderStatusRequest) Validate() error {
	if r.OrderID == "" {
		return errors.New("order id is required")
	}
	return nil
}

type GetPaymentRequest struct {
	Reference string
}

func NewGetPaymentRequestFromContext(ctx echo.Context) (*GetPaymentRequest, error) {
	return &GetPaymentRequest{Reference: strings.TrimSpace(ctx.Param("reference"))}, nil
}

func (r *GetPaymentRequest) Validate() error {
	if r.Reference == "" {
		return errors.New("reference is required")
	}
	return nil
}

// validPayerHandle accepts international msisdn formats: an optional leading
// plus followed by 8 to 15 digits.
func validPayerHandle(handle string) bool {
	digits := handle
	if strings.HasPrefix(digits, "+") {
		digits = digits[1:]
	}
	if len(digits) < 8 || len(digits) > 15 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
