// Package client talks to the Wallet by BudgetBakers REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/boddenberg/wallet-bridge-go/internal/domain"
	"github.com/boddenberg/wallet-bridge-go/internal/infra/observability"
	"github.com/boddenberg/wallet-bridge-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("client")

const (
	DefaultBaseURL        = "https://rest.budgetbakers.com/wallet"
	AccountsEndpoint      = "/v1/api/accounts"
	RecordsEndpoint       = "/v1/api/records"
	DefaultPageLimit      = 100
	DefaultRequestTimeout = 30 * time.Second
)

// timestampLayout is RFC 3339 in UTC with whole seconds and a literal Z.
const timestampLayout = "2006-01-02T15:04:05Z"

// Config holds client parameters.
type Config struct {
	BaseURL           string
	PageLimit         int
	RequestTimeout    time.Duration
	RequestsPerSecond float64
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.PageLimit <= 0 {
		c.PageLimit = DefaultPageLimit
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

// WalletClient issues authenticated, paginated GETs against the accounts and
// records collections. It never retries; every failure is returned as one of
// *domain.AuthError, *domain.RateLimitError or *domain.APIError.
type WalletClient struct {
	httpClient *http.Client
	token      string
	cfg        Config
	cb         *gobreaker.CircuitBreaker
	pacer      *resilience.Pacer
	metrics    *observability.Metrics
	logger     *zap.Logger

	requests atomic.Int64
}

// NewWalletClient creates a client bound to one credential. A nil breaker
// disables circuit breaking.
func NewWalletClient(httpClient *http.Client, token string, cb *gobreaker.CircuitBreaker, cfg Config, metrics *observability.Metrics, logger *zap.Logger) *WalletClient {
	cfg = cfg.withDefaults()
	return &WalletClient{
		httpClient: httpClient,
		token:      token,
		cfg:        cfg,
		cb:         cb,
		pacer:      resilience.NewPacer(cfg.RequestsPerSecond),
		metrics:    metrics,
		logger:     logger,
	}
}

// RequestsMade returns the HTTP round trips attempted since the last reset.
func (c *WalletClient) RequestsMade() int {
	return int(c.requests.Load())
}

// ResetRequestCount zeroes the request counter.
func (c *WalletClient) ResetRequestCount() {
	c.requests.Store(0)
}

// ValidateCredential requests a single account to check the token.
func (c *WalletClient) ValidateCredential(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "WalletClient.ValidateCredential")
	defer span.End()

	query := url.Values{}
	query.Set("limit", "1")
	query.Set("offset", "0")
	_, err := c.requestJSON(ctx, AccountsEndpoint, query)
	return err
}

// FetchAllAccounts walks every page of the accounts collection.
func (c *WalletClient) FetchAllAccounts(ctx context.Context) ([]domain.Account, error) {
	ctx, span := tracer.Start(ctx, "WalletClient.FetchAllAccounts")
	defer span.End()

	var accounts []domain.Account
	err := c.paginate(ctx, AccountsEndpoint, "accounts", url.Values{}, func(item json.RawMessage) error {
		var a domain.Account
		if err := json.Unmarshal(item, &a); err != nil {
			return err
		}
		accounts = append(accounts, a)
		return nil
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("wallet.accounts", len(accounts)))
	return accounts, nil
}

// FetchRecordsForAccount walks every page of records of one account with
// start <= recordDate < end.
func (c *WalletClient) FetchRecordsForAccount(ctx context.Context, accountID string, start, end time.Time) ([]domain.Record, error) {
	ctx, span := tracer.Start(ctx, "WalletClient.FetchRecordsForAccount")
	defer span.End()
	span.SetAttributes(attribute.String("wallet.account_id", accountID))

	query := url.Values{}
	query.Set("accountId", accountID)
	query.Add("recordDate", "gte."+FormatTimestamp(start))
	query.Add("recordDate", "lt."+FormatTimestamp(end))

	var records []domain.Record
	err := c.paginate(ctx, RecordsEndpoint, "records", query, func(item json.RawMessage) error {
		var r domain.Record
		if err := json.Unmarshal(item, &r); err != nil {
			return err
		}
		records = append(records, r)
		return nil
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("wallet.records", len(records)))
	return records, nil
}

// FormatTimestamp renders t as a UTC RFC 3339 timestamp truncated to seconds.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(timestampLayout)
}

// paginate requests pages from offset 0 until the server omits nextOffset,
// handing each element of payload[key] to each in order.
func (c *WalletClient) paginate(ctx context.Context, endpoint, key string, base url.Values, each func(json.RawMessage) error) error {
	offset := 0
	for {
		query := url.Values{}
		for k, v := range base {
			query[k] = append([]string(nil), v...)
		}
		query.Set("limit", strconv.Itoa(c.cfg.PageLimit))
		query.Set("offset", strconv.Itoa(offset))

		payload, err := c.requestJSON(ctx, endpoint, query)
		if err != nil {
			return err
		}

		if raw, ok := payload[key]; ok && !isNull(raw) {
			var items []json.RawMessage
			if err := json.Unmarshal(raw, &items); err != nil {
				return &domain.APIError{Kind: domain.KindMalformed, Err: fmt.Errorf("%s is not a list: %w", key, err)}
			}
			for _, item := range items {
				if err := each(item); err != nil {
					return &domain.APIError{Kind: domain.KindMalformed, Err: fmt.Errorf("decode %s item: %w", key, err)}
				}
			}
		}

		next, ok, err := nextOffset(payload)
		if err != nil {
			return &domain.APIError{Kind: domain.KindMalformed, Err: err}
		}
		if !ok {
			return nil
		}
		if next <= offset {
			return &domain.APIError{Kind: domain.KindMalformed, Err: fmt.Errorf("nextOffset %d does not advance past %d", next, offset)}
		}
		offset = next
	}
}

// nextOffset reads the pagination marker. ok is false when it is absent or null.
func nextOffset(payload map[string]json.RawMessage) (int, bool, error) {
	raw, present := payload["nextOffset"]
	if !present || isNull(raw) {
		return 0, false, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false, fmt.Errorf("invalid nextOffset %s", string(raw))
		}
		n = json.Number(strings.TrimSpace(s))
	}
	if v, err := strconv.Atoi(n.String()); err == nil {
		return v, true, nil
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil || f != float64(int(f)) {
		return 0, false, fmt.Errorf("invalid nextOffset %s", string(raw))
	}
	return int(f), true, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// requestJSON performs one authenticated GET and returns the decoded object.
func (c *WalletClient) requestJSON(ctx context.Context, endpoint string, query url.Values) (map[string]json.RawMessage, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	if c.cb == nil {
		return c.roundTrip(ctx, endpoint, query)
	}

	result, err := c.cb.Execute(func() (any, error) {
		return c.roundTrip(ctx, endpoint, query)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.metrics.IncrUpstreamRequest(endpoint, "unavailable")
		return nil, &domain.APIError{Kind: domain.KindUnavailable, Err: err}
	}
	if err != nil {
		return nil, err
	}
	return result.(map[string]json.RawMessage), nil
}

func (c *WalletClient) roundTrip(ctx context.Context, endpoint string, query url.Values) (map[string]json.RawMessage, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	u := c.cfg.BaseURL + endpoint + "?" + query.Encode()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &domain.APIError{Kind: domain.KindNetwork, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	c.requests.Add(1)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.RecordUpstreamDuration(endpoint, time.Since(start))
	if err != nil {
		apiErr := classifyTransportError(reqCtx, err)
		c.metrics.IncrUpstreamRequest(endpoint, string(apiErr.Kind))
		c.logger.Warn("wallet: request failed",
			zap.String("endpoint", endpoint),
			zap.String("kind", string(apiErr.Kind)),
			zap.Error(err),
		)
		return nil, apiErr
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.metrics.IncrUpstreamRequest(endpoint, "unauthorized")
		c.logger.Warn("wallet: token rejected", zap.String("endpoint", endpoint))
		return nil, &domain.AuthError{Message: "unauthorized: invalid or expired token"}

	case resp.StatusCode == http.StatusTooManyRequests:
		c.metrics.IncrUpstreamRequest(endpoint, "rate_limited")
		retryAfter := ParseRetryAfter(resp.Header.Get("Retry-After"))
		c.logger.Warn("wallet: rate limited",
			zap.String("endpoint", endpoint),
			zap.String("retry_after", resp.Header.Get("Retry-After")),
		)
		return nil, &domain.RateLimitError{RetryAfter: retryAfter}

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.metrics.IncrUpstreamRequest(endpoint, statusClass(resp.StatusCode))
		c.logger.Warn("wallet: non-2xx response",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, &domain.APIError{Kind: domain.KindStatus, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		apiErr := classifyTransportError(reqCtx, err)
		c.metrics.IncrUpstreamRequest(endpoint, string(apiErr.Kind))
		return nil, apiErr
	}

	trimmed := bytes.TrimSpace(body)
	var payload map[string]json.RawMessage
	if len(trimmed) == 0 || trimmed[0] != '{' {
		c.metrics.IncrUpstreamRequest(endpoint, string(domain.KindMalformed))
		return nil, &domain.APIError{Kind: domain.KindMalformed}
	}
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		c.metrics.IncrUpstreamRequest(endpoint, string(domain.KindMalformed))
		return nil, &domain.APIError{Kind: domain.KindMalformed, Err: err}
	}

	c.metrics.IncrUpstreamRequest(endpoint, "ok")
	c.logger.Debug("wallet: request OK",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
	)
	return payload, nil
}

// ParseRetryAfter reads a Retry-After header given in whole seconds.
// Absent or non-numeric values yield nil.
func ParseRetryAfter(v string) *time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return nil
		}
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	d := time.Duration(secs) * time.Second
	return &d
}

func classifyTransportError(ctx context.Context, err error) *domain.APIError {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &domain.APIError{Kind: domain.KindTimeout, Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &domain.APIError{Kind: domain.KindTimeout, Err: err}
	default:
		return &domain.APIError{Kind: domain.KindNetwork, Err: err}
	}
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

// CountsAsHealthy reports whether err says nothing about upstream
// availability. It is meant for the circuit breaker: auth failures, rate
// limiting and 4xx responses leave the breaker alone.
func CountsAsHealthy(err error) bool {
	var authErr *domain.AuthError
	var rateErr *domain.RateLimitError
	var apiErr *domain.APIError
	switch {
	case errors.Is(err, context.Canceled):
		return true
	case errors.As(err, &authErr), errors.As(err, &rateErr):
		return true
	case errors.As(err, &apiErr):
		return apiErr.Kind == domain.KindStatus && apiErr.StatusCode < 500
	}
	return false
}
