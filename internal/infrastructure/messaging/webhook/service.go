package webhookmessaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/arkade-os/escrowd/internal/core/ports"
	"github.com/cenkalti/backoff/v4"
)

const (
	defaultMaxRetries = 3
	defaultTimeout    = 10 * time.Second
)

type outboundPayload struct {
	RequesterId string `json:"requester_id"`
	Text        string `json:"text"`
	Link        string `json:"link,omitempty"`
}

type Option func(*service)

func WithMaxRetries(maxRetries uint64) Option {
	return func(s *service) {
		s.maxRetries = maxRetries
	}
}

func WithInitialInterval(interval time.Duration) Option {
	return func(s *service) {
		s.initialInterval = interval
	}
}

type service struct {
	url             string
	token           string
	httpClient      *http.Client
	maxRetries      uint64
	initialInterval time.Duration
}

// NewService returns a gateway delivering outbound messages by POSTing them to the transport
// webhook url. An optional token is sent as bearer credential.
func NewService(webhookURL, token string, opts ...Option) (ports.MessagingGateway, error) {
	if _, err := url.ParseRequestURI(webhookURL); err != nil {
		return nil, fmt.Errorf("invalid messaging url")
	}
	svc := &service{
		url:             webhookURL,
		token:           token,
		httpClient:      &http.Client{Timeout: defaultTimeout},
		maxRetries:      defaultMaxRetries,
		initialInterval: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func (s *service) Send(ctx context.Context, requesterId string, msg ports.OutboundMessage) error {
	payload, err := json.Marshal(outboundPayload{
		RequesterId: requesterId,
		Text:        msg.Text,
		Link:        msg.Link,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialInterval

	return backoff.Retry(func() error {
		return s.post(ctx, payload)
	}, backoff.WithContext(backoff.WithMaxRetries(b, s.maxRetries), ctx))
}

func (s *service) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return fmt.Errorf("failed to deliver message: %w", urlErr.Err)
		}
		return fmt.Errorf("failed to deliver message: %w", err)
	}
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("messaging transport returned status %d", resp.StatusCode)
	default:
		return backoff.Permanent(
			fmt.Errorf("messaging transport rejected message with status %d", resp.StatusCode),
		)
	}
}
