package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type MomoConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	HTTPTimeout   time.Duration
}

// MomoProvider talks to the mobile-money aggregator's collection API. The
// aggregator pushes a USSD confirmation prompt to the payer and reports the
// outcome asynchronously via callback; GetPaymentStatus covers the cases
// where the callback never arrives.
type MomoProvider struct {
	cfg    MomoConfig
	client *http.Client
}

func NewMomoProvider(cfg MomoConfig) *MomoProvider {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	return &MomoProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *MomoProvider) Code() int32 {
	return CodeMomo
}

func (p *MomoProvider) InitiatePayment(ctx context.Context, input *InitiateInput) (*InitiateOutput, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, errors.New("momo api key is not configured")
	}

	body := map[string]interface{}{
		"amount_cents":       input.AmountCents,
		"currency":           strings.ToUpper(strings.TrimSpace(input.Currency)),
		"from":               strings.TrimSpace(input.PayerHandle),
		"description":        strings.TrimSpace(input.Description),
		"external_reference": input.ExternalReference,
	}

	respBody, err := p.postJSON(ctx, "/api/collect", body, input.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Operator  string `json:"operator"`
		UssdCode  string `json:"ussd_code"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, err
	}

	reference := strings.TrimSpace(payload.Reference)
	if reference == "" {
		return nil, errors.New("momo collect response is missing the reference")
	}

	result := &InitiateOutput{
		Reference: reference,
		Status:    MapProviderStatus(payload.Status),
	}
	if s := strings.TrimSpace(payload.Operator); s != "" {
		result.Operator = &s
	}
	if s := strings.TrimSpace(payload.UssdCode); s != "" {
		result.UssdCode = &s
	}

	return result, nil
}

func (p *MomoProvider) GetPaymentStatus(ctx context.Context, reference string) (*StatusResult, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, errors.New("reference is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/api/transaction/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", p.cfg.APIKey)

	respBody, err := p.do(req)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Reference         string `json:"reference"`
		Status            string `json:"status"`
		Operator          string `json:"operator"`
		Code              string `json:"code"`
		OperatorReference string `json:"operator_reference"`
		Reason            string `json:"reason"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, err
	}

	result := &StatusResult{Status: MapProviderStatus(payload.Status)}
	if s := strings.TrimSpace(payload.Operator); s != "" {
		result.Operator = &s
	}
	if s := strings.TrimSpace(payload.Code); s != "" {
		result.ProviderCode = &s
	}
	if s := strings.TrimSpace(payload.OperatorReference); s != "" {
		result.OperatorReference = &s
	}
	if s := strings.TrimSpace(payload.Reason); s != "" {
		result.Reason = &s
	}

	return result, nil
}

// VerifyWebhookSignature checks the aggregator's HMAC-SHA256 hex signature
// over the raw payload. An empty configured secret disables the check.
func (p *MomoProvider) VerifyWebhookSignature(payload []byte, signature string) error {
	secret := strings.TrimSpace(p.cfg.WebhookSecret)
	if secret == "" {
		return nil
	}

	signature = strings.TrimSpace(signature)
	if signature == "" {
		return errors.New("missing webhook signature")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return errors.New("invalid webhook signature")
	}
	return nil
}

func (p *MomoProvider) postJSON(ctx context.Context, path string, payload map[string]interface{}, idempotencyKey string) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", p.cfg.APIKey)
	if strings.TrimSpace(idempotencyKey) != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	return p.do(req)
}

func (p *MomoProvider) do(req *http.Request) ([]byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrProviderUnavailable, resp.StatusCode, truncateBody(body))
	default:
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrProviderRejected, resp.StatusCode, truncateBody(body))
	}
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max])
}
