package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"logitrack/internal/config"
	"logitrack/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// MessageSender delivers composed text to a phone number (WhatsApp deep link, gateway, ...).
type MessageSender interface {
	Send(ctx context.Context, phone, text string) error
}

// Escalator notifies a supervisor about a shipment.
type Escalator interface {
	Escalate(ctx context.Context, shipment *models.Shipment, motivo, supervisor string) error
}

// TeamNotifier broadcasts a message on a team channel.
type TeamNotifier interface {
	Notify(ctx context.Context, canal, mensaje string) error
}

// NormalizePhone keeps digits only and prefixes countryCode to 10-digit national numbers.
func NormalizePhone(phone, countryCode string) (string, error) {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 7 {
		return "", fmt.Errorf("invalid phone number %q", phone)
	}
	if len(digits) == 10 && countryCode != "" {
		digits = countryCode + digits
	}
	return digits, nil
}

// WhatsAppLink builds the wa.me deep link for phone and text.
func WhatsAppLink(phone, text string) string {
	return fmt.Sprintf("https://wa.me/%s?text=%s", phone, url.QueryEscape(text))
}

// OutboundLink is a deep link composed for the host UI to open.
type OutboundLink struct {
	Phone     string    `json:"phone"`
	Text      string    `json:"text"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// LinkMessenger composes wa.me deep links and keeps the most recent ones for the UI to open.
type LinkMessenger struct {
	countryCode string
	logger      *logrus.Logger
	mu          sync.Mutex
	links       []OutboundLink
	limit       int
}

func NewLinkMessenger(countryCode string, logger *logrus.Logger) *LinkMessenger {
	if logger == nil {
		logger = logrus.New()
	}
	return &LinkMessenger{countryCode: countryCode, logger: logger, limit: 200}
}

func (m *LinkMessenger) Send(_ context.Context, phone, text string) error {
	digits, err := NormalizePhone(phone, m.countryCode)
	if err != nil {
		return err
	}
	link := OutboundLink{Phone: digits, Text: text, URL: WhatsAppLink(digits, text), CreatedAt: time.Now()}
	m.mu.Lock()
	m.links = append([]OutboundLink{link}, m.links...)
	if len(m.links) > m.limit {
		m.links = m.links[:m.limit]
	}
	m.mu.Unlock()
	m.logger.WithField("phone", digits).Debugf("messaging: whatsapp link composed: %s", link.URL)
	return nil
}

// Links returns composed links, newest first.
func (m *LinkMessenger) Links() []OutboundLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboundLink, len(m.links))
	copy(out, m.links)
	return out
}

// WebhookMessenger posts messages, escalations and team notifications to an HTTP gateway.
type WebhookMessenger struct {
	baseURL     string
	apiKey      string
	countryCode string
	maxRetries  int
	httpClient  *http.Client
	breaker     *CircuitBreaker
	logger      *logrus.Logger
}

// NewWebhookMessenger builds a client; the transport is instrumented with otelhttp.
func NewWebhookMessenger(cfg config.MessagingConfig, logger *logrus.Logger) *WebhookMessenger {
	if logger == nil {
		logger = logrus.New()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	m := &WebhookMessenger{
		baseURL:     strings.TrimRight(cfg.WebhookURL, "/"),
		apiKey:      cfg.APIKey,
		countryCode: cfg.DefaultCountryCode,
		maxRetries:  cfg.MaxRetries,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
	if cfg.CircuitBreaker.Enabled {
		m.breaker = NewCircuitBreaker(cfg.CircuitBreaker)
	}
	return m
}

type webhookMessage struct {
	Phone string `json:"phone"`
	Text  string `json:"text"`
}

type webhookEscalation struct {
	GuiaID         string `json:"guia_id"`
	Guia           string `json:"guia"`
	Transportadora string `json:"transportadora"`
	Estado         string `json:"estado"`
	Motivo         string `json:"motivo"`
	Supervisor     string `json:"supervisor,omitempty"`
}

type webhookNotification struct {
	Canal   string `json:"canal"`
	Mensaje string `json:"mensaje"`
}

func (m *WebhookMessenger) Send(ctx context.Context, phone, text string) error {
	digits, err := NormalizePhone(phone, m.countryCode)
	if err != nil {
		return err
	}
	return m.post(ctx, "/messages", webhookMessage{Phone: digits, Text: text})
}

func (m *WebhookMessenger) Escalate(ctx context.Context, s *models.Shipment, motivo, supervisor string) error {
	return m.post(ctx, "/escalations", webhookEscalation{
		GuiaID:         s.ID,
		Guia:           s.Guia,
		Transportadora: s.Transportadora,
		Estado:         s.Estado,
		Motivo:         motivo,
		Supervisor:     supervisor,
	})
}

func (m *WebhookMessenger) Notify(ctx context.Context, canal, mensaje string) error {
	return m.post(ctx, "/notifications", webhookNotification{Canal: canal, Mensaje: mensaje})
}

// BreakerStats exposes the circuit breaker state, nil when disabled.
func (m *WebhookMessenger) BreakerStats() map[string]interface{} {
	if m.breaker == nil {
		return nil
	}
	return m.breaker.Stats()
}

func (m *WebhookMessenger) post(ctx context.Context, endpoint string, body interface{}) error {
	if m.baseURL == "" {
		return fmt.Errorf("webhook url: %w", ErrCollaborator)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	send := func() error {
		return m.retry(ctx, func() error { return m.doPost(ctx, endpoint, payload) })
	}
	if m.breaker == nil {
		return send()
	}
	return m.breaker.Do(send)
}

func (m *WebhookMessenger) retry(ctx context.Context, op func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 200 * time.Millisecond
	exp.MaxInterval = 2 * time.Second
	var policy backoff.BackOff = exp
	if m.maxRetries > 0 {
		policy = backoff.WithMaxRetries(policy, uint64(m.maxRetries))
	} else {
		policy = &backoff.StopBackOff{}
	}
	return backoff.Retry(op, backoff.WithContext(policy, ctx))
}

func (m *WebhookMessenger) doPost(ctx context.Context, endpoint string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("X-API-Key", m.apiKey)
	}
	req.Header.Set("User-Agent", "Logitrack-Automation/1.0")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	m.logger.Debugf("Webhook Request: %s %s -> %d", req.Method, req.URL.String(), resp.StatusCode)

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("gateway error [%d]: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	case resp.StatusCode >= 400:
		// 4xx 不重试
		return backoff.Permanent(fmt.Errorf("gateway rejected [%d]: %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	}
	return nil
}
