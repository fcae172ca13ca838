// Package cardpay implements the card processor adapter. The provider
// holds an authorization against a payment intent; settlement requires
// an explicit capture call.
package cardpay

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
	"strings"
	"time"

	"github.com/smallbiznis/storefront/internal/payment/domain"
	"go.uber.org/zap"
)

const Code = "cardpay"

type Config struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
}

type Provider struct {
	cfg    Config
	client *http.Client
	log    *zap.Logger
}

func NewProvider(cfg Config, log *zap.Logger) *Provider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    log.Named("payment.cardpay"),
	}
}

func (p *Provider) Code() string {
	return Code
}

type intentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// CreateSession registers a payment intent and returns the session data
// the storefront needs to confirm it client-side.
func (p *Provider) CreateSession(ctx context.Context, req domain.SessionRequest) (map[string]any, error) {
	body := map[string]any{
		"amount":         req.Amount,
		"currency":       strings.ToLower(req.CurrencyCode),
		"capture_method": "manual",
		"metadata": map[string]string{
			"session_id": req.SessionID.String(),
		},
	}

	var intent intentResponse
	if err := p.do(ctx, http.MethodPost, "/v1/payment_intents", body, &intent); err != nil {
		return nil, err
	}
	if intent.ID == "" {
		return nil, domain.ErrInvalidPayload
	}

	return map[string]any{
		"intent_id":     intent.ID,
		"client_secret": intent.ClientSecret,
		"status":        intent.Status,
	}, nil
}

// Capture settles the provider-held authorization. Native intent
// statuses map to exactly one normalized outcome; a transport error or
// timeout is failed, never retried here.
func (p *Provider) Capture(ctx context.Context, session *domain.PaymentSession, amount int64, currencyCode string) (domain.CaptureResult, error) {
	intentID := sessionIntentID(session)
	if intentID == "" {
		return domain.CaptureResult{Status: domain.CaptureFailed}, domain.ErrSessionNotFound
	}

	var intent intentResponse
	if err := p.do(ctx, http.MethodGet, "/v1/payment_intents/"+intentID, nil, &intent); err != nil {
		return domain.CaptureResult{Status: domain.CaptureFailed}, err
	}

	switch intent.Status {
	case "succeeded":
		// Already settled provider-side.
	case "requires_capture":
		if err := p.do(ctx, http.MethodPost, "/v1/payment_intents/"+intentID+"/capture", map[string]any{
			"amount_to_capture": amount,
		}, &intent); err != nil {
			return domain.CaptureResult{Status: domain.CaptureFailed}, err
		}
	default:
		return domain.CaptureResult{Status: domain.CaptureFailed},
			fmt.Errorf("cardpay intent %s not capturable in status %q", intentID, intent.Status)
	}

	raw, _ := json.Marshal(intent)
	if intent.Status != "succeeded" {
		return domain.CaptureResult{Status: domain.CaptureFailed, ProviderRef: intent.ID, Raw: raw},
			fmt.Errorf("cardpay capture ended in status %q", intent.Status)
	}
	return domain.CaptureResult{Status: domain.CaptureSucceeded, ProviderRef: intent.ID, Raw: raw}, nil
}

// VerifyWebhook checks the HMAC signature header.
func (p *Provider) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Cardpay-Signature"))
	if sigHeader == "" {
		return domain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignature(sigHeader)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(p.cfg.WebhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return domain.ErrInvalidSignature
}

type webhookEvent struct {
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Created int64       `json:"created"`
	Data    webhookData `json:"data"`
}

type webhookData struct {
	Object json.RawMessage `json:"object"`
}

// ParseWebhook classifies the event type into the closed event-kind
// set. Unknown types are ignored, not errors.
func (p *Provider) ParseWebhook(ctx context.Context, payload []byte) (*domain.WebhookEvent, error) {
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	var kind domain.EventKind
	switch strings.TrimSpace(event.Type) {
	case "payment_intent.succeeded":
		kind = domain.EventPaymentSucceeded
	case "charge.captured":
		kind = domain.EventCaptureCompleted
	case "payment_intent.payment_failed":
		kind = domain.EventPaymentFailed
	case "payment_intent.authorized":
		kind = domain.EventAuthorizationCreated
	case "payment_intent.canceled":
		kind = domain.EventAuthorizationVoided
	default:
		return nil, domain.ErrEventIgnored
	}

	var intent intentResponse
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(intent.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	occurredAt := time.Unix(event.Created, 0).UTC()
	if event.Created == 0 {
		occurredAt = time.Now().UTC()
	}

	return &domain.WebhookEvent{
		Provider:        Code,
		ProviderEventID: event.ID,
		ProviderRef:     intent.ID,
		Kind:            kind,
		Amount:          intent.Amount,
		CurrencyCode:    strings.ToUpper(strings.TrimSpace(intent.Currency)),
		OccurredAt:      occurredAt,
		RawPayload:      payload,
	}, nil
}

func (p *Provider) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := p.client.Do(req)
	if err != nil {
		p.log.Warn("cardpay request failed", zap.String("path", path), zap.Error(err))
		return err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		p.log.Warn("cardpay non-success response",
			zap.String("path", path),
			zap.Int("status", res.StatusCode),
		)
		return fmt.Errorf("cardpay %s returned status %d", path, res.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func sessionIntentID(session *domain.PaymentSession) string {
	if session == nil || len(session.Data) == 0 {
		return ""
	}
	var data map[string]any
	if err := json.Unmarshal(session.Data, &data); err != nil {
		return ""
	}
	id, _ := data["intent_id"].(string)
	return strings.TrimSpace(id)
}

func parseSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}
