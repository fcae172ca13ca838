package flowpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/payment/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

func testProvider(t *testing.T, handler http.Handler) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewProvider(Config{
		BaseURL:      server.URL,
		ClientID:     "client_1",
		ClientSecret: "secret_1",
	}, zap.NewNop())
}

func tokenHandler(t *testing.T, tokenCalls *int) func(w http.ResponseWriter, r *http.Request) bool {
	return func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path != "/oauth2/token" {
			return false
		}
		*tokenCalls++
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client_1" || pass != "secret_1" {
			t.Fatalf("expected basic auth credentials, got %q %q", user, pass)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok_1",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
		return true
	}
}

func sessionWithOrder(t *testing.T, orderID string) *domain.PaymentSession {
	t.Helper()
	node, _ := snowflake.NewNode(1)
	data, _ := json.Marshal(map[string]any{"order_id": orderID})
	return &domain.PaymentSession{
		ID:           node.Generate(),
		CollectionID: node.Generate(),
		ProviderCode: Code,
		Data:         datatypes.JSON(data),
		IsInitiated:  true,
	}
}

func TestCreateSession_FetchesTokenOnce(t *testing.T) {
	tokenCalls := 0
	handleToken := tokenHandler(t, &tokenCalls)
	provider := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handleToken(w, r) {
			return
		}
		if r.Method != http.MethodPost || r.URL.Path != "/v2/checkout/orders" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok_1" {
			t.Fatalf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "ord_1",
			"status":      "CREATED",
			"approve_url": "https://flowpay.test/approve/ord_1",
		})
	}))

	node, _ := snowflake.NewNode(1)
	ctx := context.Background()
	req := domain.SessionRequest{SessionID: node.Generate(), Amount: 5000, CurrencyCode: "usd"}

	data, err := provider.CreateSession(ctx, req)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if data["order_id"] != "ord_1" || data["approve_url"] != "https://flowpay.test/approve/ord_1" {
		t.Fatalf("unexpected session data: %v", data)
	}

	// Second call reuses the cached token.
	if _, err := provider.CreateSession(ctx, req); err != nil {
		t.Fatalf("second create session: %v", err)
	}
	if tokenCalls != 1 {
		t.Fatalf("expected one token fetch, got %d", tokenCalls)
	}
}

func TestCapture_CompletedSucceeds(t *testing.T) {
	tokenCalls := 0
	handleToken := tokenHandler(t, &tokenCalls)
	provider := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handleToken(w, r) {
			return
		}
		if r.Method != http.MethodPost || r.URL.Path != "/v2/checkout/orders/ord_1/capture" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":       "cap_1",
			"order_id": "ord_1",
			"status":   "COMPLETED",
			"amount":   5000,
			"currency": "USD",
		})
	}))

	result, err := provider.Capture(context.Background(), sessionWithOrder(t, "ord_1"), 5000, "USD")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if result.Status != domain.CaptureSucceeded || result.ProviderRef != "cap_1" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCapture_DeniedFails(t *testing.T) {
	tokenCalls := 0
	handleToken := tokenHandler(t, &tokenCalls)
	provider := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handleToken(w, r) {
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "cap_1", "status": "DENIED"})
	}))

	result, err := provider.Capture(context.Background(), sessionWithOrder(t, "ord_1"), 5000, "USD")
	if err == nil {
		t.Fatalf("expected error for denied capture")
	}
	if result.Status != domain.CaptureFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
}

func TestVerifyWebhook(t *testing.T) {
	provider := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	payload := []byte(`{"id":"evt_1"}`)

	mac := hmac.New(sha256.New, []byte("secret_1"))
	_, _ = mac.Write(payload)
	headers := http.Header{}
	headers.Set("Flowpay-Signature", hex.EncodeToString(mac.Sum(nil)))
	if err := provider.VerifyWebhook(context.Background(), payload, headers); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	headers.Set("Flowpay-Signature", "deadbeef")
	if err := provider.VerifyWebhook(context.Background(), payload, headers); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestParseWebhook_KindMapping(t *testing.T) {
	provider := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	payloadFor := func(eventType string) []byte {
		payload, _ := json.Marshal(map[string]any{
			"id":         "evt_1",
			"event_type": eventType,
			"created_at": "2026-01-02T15:04:05Z",
			"resource": map[string]any{
				"id": "cap_1", "order_id": "ord_1", "status": "COMPLETED",
				"amount": 5000, "currency": "usd",
			},
		})
		return payload
	}

	cases := map[string]domain.EventKind{
		"CHECKOUT.ORDER.COMPLETED":  domain.EventPaymentSucceeded,
		"PAYMENT.CAPTURE.COMPLETED": domain.EventCaptureCompleted,
		"PAYMENT.CAPTURE.DENIED":    domain.EventPaymentFailed,
		"CHECKOUT.ORDER.APPROVED":   domain.EventAuthorizationCreated,
		"CHECKOUT.ORDER.VOIDED":     domain.EventAuthorizationVoided,
	}
	for eventType, kind := range cases {
		event, err := provider.ParseWebhook(context.Background(), payloadFor(eventType))
		if err != nil {
			t.Fatalf("parse %s: %v", eventType, err)
		}
		if event.Kind != kind || event.ProviderRef != "cap_1" {
			t.Fatalf("unexpected event for %s: %+v", eventType, event)
		}
	}

	if _, err := provider.ParseWebhook(context.Background(), payloadFor("BILLING.PLAN.CREATED")); !errors.Is(err, domain.ErrEventIgnored) {
		t.Fatalf("expected ErrEventIgnored, got %v", err)
	}
}
