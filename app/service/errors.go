package service

import "errors"

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrOrderNotFound        = errors.New("order not found")
	ErrPaymentNotFound      = errors.New("payment record not found")
	ErrPaymentAlreadyExists = errors.New("payment record already exists")
	ErrActivePaymentExists  = errors.New("an active payment already exists for this order")
	ErrInvalidStatus        = errors.New("invalid status")
	ErrProviderUnsupported  = errors.New("provider is not supported")
	ErrWebhookRejected      = errors.New("webhook rejected")
)
