package supplier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/carorbit/reservations/internal/retry"
)

const maxResponseSize = 2 * 1024 * 1024 // 2MB, a supplier response is never legitimately larger

// DefaultMaxRetries is the retry budget for 5xx/transport errors.
const DefaultMaxRetries = 3

// tokenCacheSafetyMargin is subtracted from a cached OAuth2 token's
// expires_in so a token about to expire is refreshed before a supplier
// call, not after it 401s mid-request.
const tokenCacheSafetyMargin = 30 * time.Second

// BaseAdapter provides the shared plumbing every concrete supplier
// adapter embeds: a pooled HTTP client, per-attempt structured logging,
// and the shared retry policy (no retry on 4xx, retry up to MaxRetries on
// 5xx/transport errors).
type BaseAdapter struct {
	SupplierCode string
	BaseURL      string
	MaxRetries   int
	HTTPClient   *http.Client
	Logger       *slog.Logger

	token cachedToken
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// NewBaseAdapter builds a BaseAdapter with a pooled client suited to a
// handful of concurrent outbound suppliers — enough idle connections to
// avoid a dial per request without holding open sockets indefinitely.
func NewBaseAdapter(supplierCode, baseURL string, logger *slog.Logger) *BaseAdapter {
	return &BaseAdapter{
		SupplierCode: supplierCode,
		BaseURL:      baseURL,
		MaxRetries:   DefaultMaxRetries,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Logger: logger,
	}
}

// Token returns the cached bearer token if it's still valid past the
// safety margin, signaling the caller to refresh otherwise.
func (b *BaseAdapter) Token() (string, bool) {
	if b.token.value == "" || time.Now().After(b.token.expiresAt.Add(-tokenCacheSafetyMargin)) {
		return "", false
	}
	return b.token.value, true
}

// SetToken caches a bearer token with its provider-reported expires_in.
func (b *BaseAdapter) SetToken(value string, expiresIn time.Duration) {
	b.token = cachedToken{value: value, expiresAt: time.Now().Add(expiresIn)}
}

// DoJSON executes method/endpoint with body marshaled as JSON, retrying
// per the shared policy, and unmarshals the response into out (if non-nil).
// requestKind labels the call for the per-attempt log lines and is also
// what the coordinator records on the SupplierRequest audit row.
func (b *BaseAdapter) DoJSON(ctx context.Context, requestKind, method, endpoint string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("supplier %s: marshal request: %w", b.SupplierCode, err)
		}
	}

	attempt := 0
	err := retry.Do(ctx, b.maxRetries(), 500*time.Millisecond, func() error {
		attempt++
		respBody, status, err := b.doOnce(ctx, requestKind, method, endpoint, payload, attempt)
		if err != nil {
			return err // transport error, retryable
		}
		if status >= 400 && status < 500 {
			return retry.Permanent(fmt.Errorf("supplier %s: %s %s returned %d", b.SupplierCode, method, endpoint, status))
		}
		if status >= 500 {
			return fmt.Errorf("supplier %s: %s %s returned %d", b.SupplierCode, method, endpoint, status)
		}
		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return retry.Permanent(fmt.Errorf("supplier %s: decode response: %w", b.SupplierCode, err))
			}
		}
		return nil
	})
	return err
}

func (b *BaseAdapter) maxRetries() int {
	if b.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return b.MaxRetries
}

func (b *BaseAdapter) doOnce(ctx context.Context, requestKind, method, endpoint string, payload []byte, attempt int) ([]byte, int, error) {
	url := b.BaseURL + endpoint

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("supplier %s: build request: %w", b.SupplierCode, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token, ok := b.Token(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := b.HTTPClient.Do(req)
	latency := time.Since(start)

	logger := b.Logger.With(
		"supplier", b.SupplierCode,
		"method", requestKind,
		"endpoint", endpoint,
		"attempt", attempt,
	)
	if err != nil {
		logger.Warn("supplier request transport error", "error", err, "latency_ms", latency.Milliseconds())
		return nil, 0, fmt.Errorf("supplier %s: %s %s: %w", b.SupplierCode, method, endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	limited := io.LimitReader(resp.Body, maxResponseSize)
	respBody, err := io.ReadAll(limited)
	if err != nil {
		logger.Warn("supplier response read error", "error", err, "latency_ms", latency.Milliseconds())
		return nil, resp.StatusCode, fmt.Errorf("supplier %s: read response: %w", b.SupplierCode, err)
	}

	logger.Info("supplier request completed", "status", resp.StatusCode, "latency_ms", latency.Milliseconds())
	return respBody, resp.StatusCode, nil
}
