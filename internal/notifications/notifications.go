package notifications

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://ntfy.sh"

var (
	ErrDisabled    = errors.New("notifications not configured")
	ErrRateLimited = errors.New("notification suppressed by rate limit")
)

// Notifier posts messages to an ntfy topic, at most one per interval.
type Notifier struct {
	client  *http.Client
	baseURL string
	topic   string
	limiter *rate.Limiter
}

type Option func(*Notifier)

func WithBaseURL(url string) Option {
	return func(n *Notifier) { n.baseURL = url }
}

func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) { n.client = c }
}

// New returns nil when topic is empty; Send on a nil Notifier reports ErrDisabled.
func New(topic string, interval time.Duration, opts ...Option) *Notifier {
	if topic == "" {
		log.Warn().Msg("Ntfy topic not configured - notifications disabled")
		return nil
	}

	n := &Notifier{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: defaultBaseURL,
		topic:   topic,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
	for _, opt := range opts {
		opt(n)
	}

	log.Info().
		Str("topic", topic).
		Dur("interval", interval).
		Msg("Ntfy notifications initialized")
	return n
}

// Send sends a notification to ntfy.
func (n *Notifier) Send(title, message string) error {
	if n == nil {
		return ErrDisabled
	}
	if !n.limiter.Allow() {
		log.Debug().Str("title", title).Msg("Notification rate limited")
		return ErrRateLimited
	}

	payload := map[string]interface{}{
		"topic":   n.topic,
		"title":   title,
		"message": message,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, n.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned non-success status: %d", resp.StatusCode)
	}

	log.Debug().
		Str("title", title).
		Int("status", resp.StatusCode).
		Msg("Notification sent successfully")

	return nil
}

// SendAsync sends without blocking the caller, logging any failure.
func (n *Notifier) SendAsync(title, message string) {
	if n == nil {
		return
	}
	go func() {
		if err := n.Send(title, message); err != nil && !errors.Is(err, ErrRateLimited) {
			log.Warn().Err(err).Str("title", title).Msg("Failed to send notification")
		}
	}()
}
