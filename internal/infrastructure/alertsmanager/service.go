package alertsmanager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/arkade-os/escrowd/internal/core/ports"
)

const (
	serviceName = "escrowd"
	severity    = "critical"

	maxRetries = 5
)

type Alert struct {
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
}

type service struct {
	baseUrl     string
	explorerUrl string
	httpClient  *http.Client
	baseDelay   time.Duration
}

// NewService returns an Alertmanager publisher. explorerURL is optional and used to link
// settlement transactions.
func NewService(alertManagerURL, explorerURL string) ports.Alerts {
	return &service{
		baseUrl:     alertManagerURL,
		explorerUrl: strings.TrimSuffix(explorerURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseDelay: 100 * time.Millisecond,
	}
}

func (s *service) Publish(ctx context.Context, topic ports.Topic, message any) error {
	labels := map[string]string{
		"alertname": string(topic),
		"service":   serviceName,
		"severity":  severity,
	}

	desc := ""
	annotations := map[string]string{}
	switch topic {
	case ports.SettlementFailed, ports.RefundFailed, ports.HoldNotRecorded:
		annotations["firing_title"] = fmt.Sprintf("🚨 %s", topic)
		m, ok := message.(ports.SettlementFailedAlert)
		if !ok {
			return fmt.Errorf("invalid message type: %T", message)
		}
		desc = formatSettlementFailedAlert(s.explorerUrl, m)
		labels["claim_id"] = m.ClaimId
		if m.TxRef != "" {
			labels["tx_ref"] = m.TxRef
		}
	default:
		annotations["firing_title"] = fmt.Sprintf("🔔 %s", topic)
		desc = formatGenericAlert(map[string]any{"event": message})
	}

	annotations["description"] = desc
	alert := Alert{
		Labels:      labels,
		Annotations: annotations,
		StartsAt:    time.Now(),
	}

	if err := s.sendAlert(ctx, alert); err != nil {
		return fmt.Errorf("failed to send alert to AlertManager: %w", err)
	}

	return nil
}

func (s *service) sendAlert(ctx context.Context, alerts Alert) error {
	payload, err := json.Marshal([]Alert{alerts})
	if err != nil {
		return fmt.Errorf("failed to marshal alerts: %w", err)
	}

	for attempt := range maxRetries {
		req, err := http.NewRequestWithContext(ctx, "POST", s.baseUrl, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			if attempt < maxRetries-1 {
				if err := s.wait(ctx, attempt); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("failed to send alert after %d attempts: %w", maxRetries, err)
		}
		_ = resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		// only server errors are retried
		if resp.StatusCode >= 500 && attempt < maxRetries-1 {
			if err := s.wait(ctx, attempt); err != nil {
				return err
			}
			continue
		}

		return fmt.Errorf(
			"failed to send alert to AlertManager with status %d after %d attempts",
			resp.StatusCode, attempt+1,
		)
	}

	return fmt.Errorf("failed to send alert after %d attempts", maxRetries)
}

// wait sleeps baseDelay * 2^attempt or until ctx is done.
func (s *service) wait(ctx context.Context, attempt int) error {
	delay := s.baseDelay * time.Duration(1<<uint(attempt))
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func formatSettlementFailedAlert(explorerUrl string, data ports.SettlementFailedAlert) string {
	lines := make([]string, 0)
	if data.TxRef != "" && explorerUrl != "" {
		lines = append(lines, fmt.Sprintf("%s/tx/%s", explorerUrl, data.TxRef))
	}
	lines = append(lines, fmt.Sprintf("*Claim:* `%s`", data.ClaimId))
	lines = append(lines, fmt.Sprintf("• Path: %s", data.Kind))
	lines = append(lines, fmt.Sprintf("• Amount: %s", data.Amount))
	lines = append(lines, fmt.Sprintf("• Sender: %s", data.Sender))
	if data.TxRef != "" {
		lines = append(lines, fmt.Sprintf("• Tx: %s", data.TxRef))
	}
	if data.Note != "" {
		lines = append(lines, fmt.Sprintf("• Reason: %s", data.Note))
	}
	lines = append(lines, fmt.Sprintf(
		"• Failed at: %s", time.Unix(data.FailedAt, 0).UTC().Format(time.RFC3339),
	))
	return strings.Join(lines, "\n")
}

func formatGenericAlert(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("• %s: %v", key, data[key]))
	}
	return strings.Join(lines, "\n")
}
