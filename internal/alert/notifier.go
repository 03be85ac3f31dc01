package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"codeberg.org/mutker/fogctl/internal/errors"
	"codeberg.org/mutker/fogctl/internal/logger"
	"k8s.io/utils/clock"
)

// Notifier forwards alerts to an external channel. Notify must not block.
type Notifier interface {
	Notify(alerts []Alert)
}

type webhookPayload struct {
	Text  string `json:"text"`
	Alert Alert  `json:"alert"`
}

// WebhookNotifier posts alerts as JSON to a webhook. Alerts are queued and
// delivered by Run; repeats of the same alert key and severity within the
// cooldown are suppressed.
type WebhookNotifier struct {
	url      string
	client   *http.Client
	clock    clock.PassiveClock
	log      logger.Logger
	cooldown time.Duration
	queue    chan Alert

	mu       sync.Mutex
	lastSent map[string]time.Time
}

type WebhookOption func(*WebhookNotifier)

func WithHTTPClient(client *http.Client) WebhookOption {
	return func(n *WebhookNotifier) {
		if client != nil {
			n.client = client
		}
	}
}

func WithClock(clk clock.PassiveClock) WebhookOption {
	return func(n *WebhookNotifier) {
		if clk != nil {
			n.clock = clk
		}
	}
}

func WithLogger(l logger.Logger) WebhookOption {
	return func(n *WebhookNotifier) {
		if l != nil {
			n.log = l
		}
	}
}

func NewWebhookNotifier(cfg NotifyConfig, opts ...WebhookOption) (*WebhookNotifier, error) {
	errFactory := errors.New()

	if cfg.WebhookURL == "" {
		return nil, errFactory.WithData(ErrInvalidConfig, "webhook_url is empty")
	}

	n := &WebhookNotifier{
		url:      cfg.WebhookURL,
		client:   &http.Client{Timeout: cfg.Timeout},
		clock:    clock.RealClock{},
		log:      logger.Nop(),
		cooldown: cfg.Cooldown,
		queue:    make(chan Alert, cfg.QueueSize),
		lastSent: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(n)
	}

	return n, nil
}

// Notify queues every alert that is not cooling down. The cooldown is
// tracked per alert key and severity, so an escalation is sent at once.
// When the queue is full the alert is dropped and stays eligible.
func (n *WebhookNotifier) Notify(alerts []Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.clock.Now()
	for _, a := range alerts {
		key := cooldownKey(a)
		if last, ok := n.lastSent[key]; ok && now.Sub(last) < n.cooldown {
			continue
		}

		select {
		case n.queue <- a:
			n.lastSent[key] = now
		default:
			n.log.Warn().Str("alert", a.Key()).Msg("Notification queue full, dropping alert")
		}
	}
}

func cooldownKey(a Alert) string {
	return a.Key() + "/" + string(a.Severity)
}

// Run delivers queued alerts until ctx is cancelled.
func (n *WebhookNotifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case a := <-n.queue:
			if err := n.Send(ctx, a); err != nil {
				n.log.WarnWithCode(errors.New().Wrap(ErrNotifyFailed, err)).
					Str("alert", a.Key()).
					Msg("Failed to deliver alert notification")
			}
		}
	}
}

// Send posts a single alert.
func (n *WebhookNotifier) Send(ctx context.Context, a Alert) error {
	body, err := json.Marshal(webhookPayload{
		Text:  fmt.Sprintf("[%s] %s", a.Severity, a.Message),
		Alert: a,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
