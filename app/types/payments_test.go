package types

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newEchoContext(method, target, body string, header http.Header) echo.Context {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	return echo.New().NewContext(req, httptest.NewRecorder())
}

func TestNewInitiatePaymentRequestFromContext(t *testing.T) {
	header := http.Header{"Content-Type": []string{"application/json"}}
	ctx := newEchoContext(http.MethodPost, "/payments/initiate",
		`{"order_id":" order-1 ","payer_handle":" +237670000001 ","description":" lunch "}`, header)

	req, err := NewInitiatePaymentRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.OrderID != "order-1" || req.PayerHandle != "+237670000001" || req.Description != "lunch" {
		t.Fatalf("expected trimmed fields, got %+v", req)
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid request: %v", err)
	}
}

func TestInitiatePaymentRequestValidate(t *testing.T) {
	cases := []struct {
		name    string
		request InitiatePaymentRequest
		wantErr bool
	}{
		{"valid international", InitiatePaymentRequest{OrderID: "order-1", PayerHandle: "+237670000001"}, false},
		{"valid without plus", InitiatePaymentRequest{OrderID: "order-1", PayerHandle: "670000001"}, false},
		{"missing order", InitiatePaymentRequest{PayerHandle: "+237670000001"}, true},
		{"missing payer", InitiatePaymentRequest{OrderID: "order-1"}, true},
		{"too short", InitiatePaymentRequest{OrderID: "order-1", PayerHandle: "+1234567"}, true},
		{"too long", InitiatePaymentRequest{OrderID: "order-1", PayerHandle: "+1234567890123456"}, true},
		{"letters", InitiatePaymentRequest{OrderID: "order-1", PayerHandle: "+23767ABC001"}, true},
		{"plus only", InitiatePaymentRequest{OrderID: "order-1", PayerHandle: "+"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.request.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected a validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestNewProviderWebhookRequestFromContext(t *testing.T) {
	header := http.Header{"X-Momo-Signature": []string{" abc123 "}}
	ctx := newEchoContext(http.MethodPost, "/payments/webhook", `{"reference":"ref-1"}`, header)

	req, err := NewProviderWebhookRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.GetSignature() != "abc123" {
		t.Fatalf("expected trimmed signature, got %q", req.GetSignature())
	}
	if string(req.GetPayload()) != `{"reference":"ref-1"}` {
		t.Fatalf("expected the raw payload, got %q", req.GetPayload())
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid request: %v", err)
	}
}

func TestProviderWebhookRequestValidateEmptyPayload(t *testing.T) {
	req := &ProviderWebhookRequest{}
	if err := req.Validate(); err == nil {
		t.Fatal("expected a validation error for an empty payload")
	}
}

func TestOrderStatusRequestFromContext(t *testing.T) {
	ctx := newEchoContext(http.MethodGet, "/payments/status/order-1", "", nil)
	ctx.SetParamNames("orderId")
	ctx.SetParamValues(" order-1 ")

	req, err := NewOrderStatusRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.OrderID != "order-1" {
		t.Fatalf("expected trimmed order id, got %q", req.OrderID)
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid request: %v", err)
	}

	empty := &OrderStatusRequest{}
	if err := empty.Validate(); err == nil {
		t.Fatal("expected a validation error for a missing order id")
	}
}

func TestGetPaymentRequestFromContext(t *testing.T) {
	ctx := newEchoContext(http.MethodGet, "/payments/ref-1", "", nil)
	ctx.SetParamNames("reference")
	ctx.SetParamValues("ref-1")

	req, err := NewGetPaymentRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Reference != "ref-1" {
		t.Fatalf("unexpected reference: %q", req.Reference)
	}

	empty := &GetPaymentRequest{}
	if err := empty.Validate(); err == nil {
		t.Fatal("expected a validation error for a missing reference")
	}
}
