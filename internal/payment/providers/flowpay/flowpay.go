// Package flowpay implements the wallet processor adapter. Every API
// call is authenticated with an OAuth2 client-credentials token;
// settlement is an order-capture call against the provider.
package flowpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/storefront/internal/payment/domain"
	"go.uber.org/zap"
)

const Code = "flowpay"

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

type Provider struct {
	cfg    Config
	client *http.Client
	log    *zap.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewProvider(cfg Config, log *zap.Logger) *Provider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    log.Named("payment.flowpay"),
	}
}

func (p *Provider) Code() string {
	return Code
}

type orderResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	ApproveURL string `json:"approve_url"`
}

type captureResponse struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// CreateSession registers a wallet order the customer approves in the
// provider's UI.
func (p *Provider) CreateSession(ctx context.Context, req domain.SessionRequest) (map[string]any, error) {
	body := map[string]any{
		"amount":    req.Amount,
		"currency":  strings.ToUpper(req.CurrencyCode),
		"reference": req.SessionID.String(),
	}

	var order orderResponse
	if err := p.do(ctx, http.MethodPost, "/v2/checkout/orders", body, &order); err != nil {
		return nil, err
	}
	if order.ID == "" {
		return nil, domain.ErrInvalidPayload
	}

	return map[string]any{
		"order_id":    order.ID,
		"status":      order.Status,
		"approve_url": order.ApproveURL,
	}, nil
}

// Capture settles an approved wallet order. COMPLETED is the only
// success status; everything else, including transport timeouts, is
// failed.
func (p *Provider) Capture(ctx context.Context, session *domain.PaymentSession, amount int64, currencyCode string) (domain.CaptureResult, error) {
	orderID := sessionOrderID(session)
	if orderID == "" {
		return domain.CaptureResult{Status: domain.CaptureFailed}, domain.ErrSessionNotFound
	}

	var capture captureResponse
	if err := p.do(ctx, http.MethodPost, "/v2/checkout/orders/"+orderID+"/capture", nil, &capture); err != nil {
		return domain.CaptureResult{Status: domain.CaptureFailed}, err
	}

	raw, _ := json.Marshal(capture)
	if !strings.EqualFold(capture.Status, "COMPLETED") {
		return domain.CaptureResult{Status: domain.CaptureFailed, ProviderRef: capture.ID, Raw: raw},
			fmt.Errorf("flowpay capture ended in status %q", capture.Status)
	}
	return domain.CaptureResult{Status: domain.CaptureSucceeded, ProviderRef: capture.ID, Raw: raw}, nil
}

// VerifyWebhook checks the HMAC signature over the raw payload.
func (p *Provider) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	signature := strings.TrimSpace(headers.Get("Flowpay-Signature"))
	if signature == "" {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(p.cfg.ClientSecret))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

type webhookEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	CreatedAt string          `json:"created_at"`
	Resource  json.RawMessage `json:"resource"`
}

// ParseWebhook classifies the provider event type into the closed
// event-kind set. Unknown types are ignored, not errors.
func (p *Provider) ParseWebhook(ctx context.Context, payload []byte) (*domain.WebhookEvent, error) {
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	var kind domain.EventKind
	switch strings.ToUpper(strings.TrimSpace(event.EventType)) {
	case "CHECKOUT.ORDER.COMPLETED":
		kind = domain.EventPaymentSucceeded
	case "PAYMENT.CAPTURE.COMPLETED":
		kind = domain.EventCaptureCompleted
	case "PAYMENT.CAPTURE.DENIED":
		kind = domain.EventPaymentFailed
	case "CHECKOUT.ORDER.APPROVED":
		kind = domain.EventAuthorizationCreated
	case "CHECKOUT.ORDER.VOIDED":
		kind = domain.EventAuthorizationVoided
	default:
		return nil, domain.ErrEventIgnored
	}

	var capture captureResponse
	if err := json.Unmarshal(event.Resource, &capture); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(capture.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	occurredAt := time.Now().UTC()
	if parsed, err := time.Parse(time.RFC3339, event.CreatedAt); err == nil {
		occurredAt = parsed.UTC()
	}

	return &domain.WebhookEvent{
		Provider:        Code,
		ProviderEventID: event.ID,
		ProviderRef:     capture.ID,
		Kind:            kind,
		Amount:          capture.Amount,
		CurrencyCode:    strings.ToUpper(strings.TrimSpace(capture.Currency)),
		OccurredAt:      occurredAt,
		RawPayload:      payload,
	}, nil
}

func (p *Provider) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accessToken != "" && time.Now().Before(p.tokenExpiry) {
		return p.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := p.client.Do(req)
	if err != nil {
		p.log.Warn("flowpay token request failed", zap.Error(err))
		return "", err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("flowpay token endpoint returned status %d", res.StatusCode)
	}

	var token struct {
		AccessToken string      `json:"access_token"`
		ExpiresIn   json.Number `json:"expires_in"`
		TokenType   string      `json:"token_type"`
	}
	if err := json.Unmarshal(data, &token); err != nil {
		return "", err
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("flowpay token endpoint returned no access_token")
	}

	expiresIn, err := strconv.ParseInt(token.ExpiresIn.String(), 10, 64)
	if err != nil || expiresIn <= 0 {
		expiresIn = 300
	}
	p.accessToken = token.AccessToken
	// Refresh a minute early to avoid using a token mid-expiry.
	p.tokenExpiry = time.Now().Add(time.Duration(expiresIn-60) * time.Second)

	return p.accessToken, nil
}

func (p *Provider) do(ctx context.Context, method, path string, body any, out any) error {
	accessToken, err := p.token(ctx)
	if err != nil {
		return err
	}

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
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		p.log.Warn("flowpay request failed", zap.String("path", path), zap.Error(err))
		return err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		p.log.Warn("flowpay non-success response",
			zap.String("path", path),
			zap.Int("status", res.StatusCode),
		)
		return fmt.Errorf("flowpay %s returned status %d", path, res.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func sessionOrderID(session *domain.PaymentSession) string {
	if session == nil || len(session.Data) == 0 {
		return ""
	}
	var data map[string]any
	if err := json.Unmarshal(session.Data, &data); err != nil {
		return ""
	}
	id, _ := data["order_id"].(string)
	return strings.TrimSpace(id)
}
