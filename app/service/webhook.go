package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/vibast-solutions/ms-go-momo/app/provider"
)

type providerWebhookRequest interface {
	GetSignature() string
	GetPayload() []byte
}

type momoWebhookPayload struct {
	Reference         string `json:"reference"`
	ExternalReference string `json:"external_reference"`
	Status            string `json:"status"`
	AmountCents       int64  `json:"amount_cents"`
	Currency          string `json:"currency"`
	Operator          string `json:"operator"`
	Code              string `json:"code"`
	OperatorReference string `json:"operator_reference"`
	Reason            string `json:"reason"`
}

// HandleProviderWebhook normalizes a provider callback and feeds it to the
// reconciliation engine. It succeeds (so the provider stops retrying) as
// soon as the update is durably applied or recognized as a no-op; only
// malformed payloads and store failures surface as errors.
func (s *PaymentService) HandleProviderWebhook(ctx context.Context, req providerWebhookRequest) (*ApplyOutcome, error) {
	providerClient, err := s.providerReg.Get(s.providerCode())
	if err != nil {
		if errors.Is(err, provider.ErrProviderNotSupported) {
			return nil, ErrProviderUnsupported
		}
		return nil, err
	}

	payload := req.GetPayload()
	if err := providerClient.VerifyWebhookSignature(payload, req.GetSignature()); err != nil {
		s.logger.WithError(err).Warn("Provider webhook signature rejected")
		return nil, ErrWebhookRejected
	}

	var body momoWebhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, ErrWebhookRejected
	}

	status := provider.MapProviderStatus(body.Status)
	if status == 0 {
		s.logger.WithField("status", body.Status).Warn("Provider webhook carries unknown status")
		return nil, ErrWebhookRejected
	}

	update := &StatusUpdate{
		Reference:   strings.TrimSpace(body.Reference),
		NewStatus:   status,
		Source:      SourceWebhook,
		OrderID:     strings.TrimSpace(body.ExternalReference),
		AmountCents: body.AmountCents,
		Metadata: OperatorMetadata{
			Operator:          optionalString(body.Operator),
			ProviderCode:      optionalString(body.Code),
			OperatorReference: optionalString(body.OperatorReference),
			Reason:            optionalString(body.Reason),
		},
	}

	// Prefer the provider reference we stored at initiation; some operators
	// only echo their own transaction id, so fall back to a reverse lookup.
	if update.Reference == "" {
		operatorRef := strings.TrimSpace(body.OperatorReference)
		if operatorRef == "" {
			return nil, ErrWebhookRejected
		}
		record, err := s.recordRepo.FindByOperatorReference(ctx, operatorRef)
		if err != nil {
			return nil, err
		}
		if record == nil {
			s.logger.WithField("operator_reference", operatorRef).
				Warn("Webhook reverse lookup found no record")
			return nil, ErrWebhookRejected
		}
		update.Reference = record.Reference
	}

	return s.ApplyStatus(ctx, update)
}

func optionalString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
