package remotecustody

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/arkade-os/escrowd/internal/core/ports"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	walletsEndpoint   = "/v1/wallets"
	transfersEndpoint = "/v1/wallets/%s/transfers"

	defaultTimeout = 30 * time.Second
	maxBodySize    = 1 << 20
)

type createWalletResponse struct {
	Handle  string `json:"handle"`
	Address string `json:"address"`
}

type transferRequest struct {
	To      string          `json:"to"`
	Amount  decimal.Decimal `json:"amount"`
	FeeHint decimal.Decimal `json:"fee_hint"`
}

type transferResponse struct {
	TxRef string `json:"tx_ref"`
}

type Option func(*service)

func WithTimeout(timeout time.Duration) Option {
	return func(s *service) {
		s.httpClient.Timeout = timeout
	}
}

type service struct {
	baseUrl    string
	apiKey     string
	httpClient *http.Client
}

// NewService returns a client of a custody service exposing wallets over HTTP.
// Wallet handles are path parameters and are never part of returned errors.
func NewService(baseURL, apiKey string, opts ...Option) (ports.WalletCustody, error) {
	if len(baseURL) == 0 {
		return nil, fmt.Errorf("missing custody url")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid custody url")
	}

	svc := &service{
		baseUrl:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func (s *service) CreateWallet(ctx context.Context) (*ports.CustodyWallet, error) {
	var resp createWalletResponse
	if err := s.post(ctx, walletsEndpoint, struct{}{}, &resp); err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	if resp.Handle == "" || resp.Address == "" {
		return nil, fmt.Errorf("failed to create wallet: incomplete response")
	}
	return &ports.CustodyWallet{Handle: resp.Handle, Address: resp.Address}, nil
}

func (s *service) Broadcast(
	ctx context.Context, handle string, req ports.TransferRequest,
) (string, error) {
	if handle == "" {
		return "", fmt.Errorf("missing wallet handle")
	}

	path := fmt.Sprintf(transfersEndpoint, url.PathEscape(handle))
	body := transferRequest{To: req.To, Amount: req.Amount, FeeHint: req.FeeHint}

	var resp transferResponse
	if err := s.post(ctx, path, body, &resp); err != nil {
		return "", fmt.Errorf("failed to broadcast transfer: %w", err)
	}
	if resp.TxRef == "" {
		return "", fmt.Errorf("failed to broadcast transfer: missing tx reference")
	}
	return resp.TxRef, nil
}

func (s *service) Close() {
	s.httpClient.CloseIdleConnections()
}

func (s *service) post(ctx context.Context, path string, body, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %s", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, s.baseUrl+path, bytes.NewReader(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", ports.ErrCustodyUnavailable, sanitize(err))
	}
	// nolint:errcheck
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: failed to read response", ports.ErrCustodyUnavailable)
	}

	if err := statusError(resp.StatusCode); err != nil {
		log.WithField("status", resp.StatusCode).Debug("custody: request rejected")
		return err
	}

	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("malformed response: %s", err)
	}
	return nil
}

func statusError(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusPaymentRequired || status == http.StatusConflict:
		return fmt.Errorf("%w: custody returned status %d", ports.ErrInsufficientFunds, status)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: custody returned status %d", ports.ErrCustodyUnavailable, status)
	default:
		return fmt.Errorf("custody rejected request with status %d", status)
	}
}

// sanitize drops the request url from transport errors since it carries the wallet handle.
func sanitize(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return "request timed out"
		}
		return urlErr.Err.Error()
	}
	return err.Error()
}
