package cardpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/payment/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

func testProvider(t *testing.T, handler http.Handler) (*Provider, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	provider := NewProvider(Config{
		BaseURL:       server.URL,
		APIKey:        "sk_test_123",
		WebhookSecret: "whsec_test",
	}, zap.NewNop())
	return provider, server
}

func sessionWithIntent(t *testing.T, intentID string) *domain.PaymentSession {
	t.Helper()
	node, _ := snowflake.NewNode(1)
	data, _ := json.Marshal(map[string]any{"intent_id": intentID})
	return &domain.PaymentSession{
		ID:           node.Generate(),
		CollectionID: node.Generate(),
		ProviderCode: Code,
		Data:         datatypes.JSON(data),
		IsInitiated:  true,
	}
}

func TestCreateSession(t *testing.T) {
	var gotAuth, gotCaptureMethod string
	provider, _ := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/payment_intents" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotCaptureMethod, _ = body["capture_method"].(string)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "pi_1",
			"client_secret": "pi_1_secret",
			"status":        "requires_confirmation",
		})
	}))

	node, _ := snowflake.NewNode(1)
	data, err := provider.CreateSession(context.Background(), domain.SessionRequest{
		SessionID:    node.Generate(),
		Amount:       5000,
		CurrencyCode: "USD",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if gotAuth != "Bearer sk_test_123" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if gotCaptureMethod != "manual" {
		t.Fatalf("expected manual capture method, got %q", gotCaptureMethod)
	}
	if data["intent_id"] != "pi_1" || data["client_secret"] != "pi_1_secret" {
		t.Fatalf("unexpected session data: %v", data)
	}
}

func TestCapture_RequiresCaptureSettles(t *testing.T) {
	captured := false
	provider, _ := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/payment_intents/pi_1":
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "pi_1", "status": "requires_capture"})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/payment_intents/pi_1/capture":
			captured = true
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "pi_1", "status": "succeeded", "amount": 5000})
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	result, err := provider.Capture(context.Background(), sessionWithIntent(t, "pi_1"), 5000, "USD")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if !captured {
		t.Fatalf("expected explicit capture call")
	}
	if result.Status != domain.CaptureSucceeded || result.ProviderRef != "pi_1" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCapture_NonCapturableStatusFails(t *testing.T) {
	provider, _ := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "pi_1", "status": "canceled"})
	}))

	result, err := provider.Capture(context.Background(), sessionWithIntent(t, "pi_1"), 5000, "USD")
	if err == nil {
		t.Fatalf("expected error for canceled intent")
	}
	if result.Status != domain.CaptureFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
}

func TestCapture_TransportErrorFails(t *testing.T) {
	provider, server := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	result, err := provider.Capture(context.Background(), sessionWithIntent(t, "pi_1"), 5000, "USD")
	if err == nil {
		t.Fatalf("expected transport error")
	}
	if result.Status != domain.CaptureFailed {
		t.Fatalf("expected failed on transport error, got %s", result.Status)
	}
}

func signPayload(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%s.%s", timestamp, payload)))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhook(t *testing.T) {
	provider, _ := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	payload := []byte(`{"id":"evt_1"}`)

	headers := http.Header{}
	headers.Set("Cardpay-Signature", "t=12345,v1="+signPayload("whsec_test", "12345", payload))
	if err := provider.VerifyWebhook(context.Background(), payload, headers); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	headers.Set("Cardpay-Signature", "t=12345,v1="+signPayload("whsec_wrong", "12345", payload))
	if err := provider.VerifyWebhook(context.Background(), payload, headers); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	headers.Del("Cardpay-Signature")
	if err := provider.VerifyWebhook(context.Background(), payload, headers); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for missing header, got %v", err)
	}
}

func TestParseWebhook_KindMapping(t *testing.T) {
	provider, _ := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	payloadFor := func(eventType string) []byte {
		payload, _ := json.Marshal(map[string]any{
			"id":      "evt_1",
			"type":    eventType,
			"created": 1700000000,
			"data": map[string]any{
				"object": map[string]any{"id": "pi_1", "status": "succeeded", "amount": 5000, "currency": "usd"},
			},
		})
		return payload
	}

	cases := map[string]domain.EventKind{
		"payment_intent.succeeded":      domain.EventPaymentSucceeded,
		"charge.captured":               domain.EventCaptureCompleted,
		"payment_intent.payment_failed": domain.EventPaymentFailed,
		"payment_intent.authorized":     domain.EventAuthorizationCreated,
		"payment_intent.canceled":       domain.EventAuthorizationVoided,
	}
	for eventType, kind := range cases {
		event, err := provider.ParseWebhook(context.Background(), payloadFor(eventType))
		if err != nil {
			t.Fatalf("parse %s: %v", eventType, err)
		}
		if event.Kind != kind || event.ProviderRef != "pi_1" || event.CurrencyCode != "USD" {
			t.Fatalf("unexpected event for %s: %+v", eventType, event)
		}
	}

	if _, err := provider.ParseWebhook(context.Background(), payloadFor("customer.created")); !errors.Is(err, domain.ErrEventIgnored) {
		t.Fatalf("expected ErrEventIgnored for unknown type, got %v", err)
	}
}
