package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/wallet-bridge-go/internal/domain"
	"github.com/boddenberg/wallet-bridge-go/internal/handler"
	"github.com/boddenberg/wallet-bridge-go/internal/infra/observability"
	"github.com/boddenberg/wallet-bridge-go/internal/port"
	"github.com/boddenberg/wallet-bridge-go/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// --- Mocks ---

type stubFetcher struct {
	result *domain.FetchResult
	err    error
	block  chan struct{}
}

func (s *stubFetcher) FetchWindow(ctx context.Context, _ int) (*domain.FetchResult, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.result, s.err
}

type stubAPI struct {
	validateErr error
}

func (s *stubAPI) ValidateCredential(context.Context) error { return s.validateErr }
func (s *stubAPI) FetchAllAccounts(context.Context) ([]domain.Account, error) {
	return nil, nil
}
func (s *stubAPI) FetchRecordsForAccount(context.Context, string, time.Time, time.Time) ([]domain.Record, error) {
	return nil, nil
}
func (s *stubAPI) ResetRequestCount() {}
func (s *stubAPI) RequestsMade() int  { return 0 }

type fixture struct {
	router  http.Handler
	coord   *service.Coordinator
	fetcher *stubFetcher
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()
	metrics := observability.NewMetrics()
	fetcher := &stubFetcher{result: &domain.FetchResult{
		Transactions: []domain.Record{
			domain.NewRecord(time.Now().UTC().Format(time.RFC3339), "expense", &domain.BaseAmount{CurrencyCode: "PLN", Value: json.RawMessage("-42.5")}),
		},
		AccountCount:     1,
		ActiveAccountIDs: []string{"A"},
		RequestsMade:     2,
	}}
	coord := service.NewCoordinator(fetcher, service.CoordinatorConfig{}, metrics, zap.NewNop())

	factory := func(token string) port.WalletAPI {
		switch token {
		case "good":
			return &stubAPI{}
		case "down":
			return &stubAPI{validateErr: &domain.APIError{Kind: domain.KindNetwork}}
		}
		return &stubAPI{validateErr: &domain.AuthError{}}
	}

	router := handler.NewRouter(handler.Deps{
		Coordinator: coord,
		Sensors:     service.NewSensors(coord, "PLN", 1000),
		Credentials: service.NewCredentials(factory, coord, nil, zap.NewNop()),
		Metrics:     metrics,
		AdminSecret: []byte(secret),
	}, zap.NewNop())

	return &fixture{router: router, coord: coord, fetcher: fetcher}
}

func (f *fixture) do(method, path, body string, header http.Header) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

// --- Tests ---

func TestHealthz(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var health domain.HealthStatus
	decode(t, rec, &health)
	if health.Status != "unhealthy" {
		t.Errorf("expected unhealthy before first refresh, got %s", health.Status)
	}

	if err := f.coord.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	decode(t, f.do(http.MethodGet, "/healthz", "", nil), &health)
	if health.Status != "healthy" {
		t.Errorf("expected healthy, got %s", health.Status)
	}

	f.fetcher.err = &domain.APIError{Kind: domain.KindTimeout}
	_ = f.coord.Refresh(context.Background())
	decode(t, f.do(http.MethodGet, "/healthz", "", nil), &health)
	if health.Status != "degraded" {
		t.Errorf("expected degraded with stale snapshot, got %s", health.Status)
	}
}

func TestReadyz(t *testing.T) {
	f := newFixture(t, "")

	if rec := f.do(http.MethodGet, "/readyz", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before first refresh, got %d", rec.Code)
	}

	if err := f.coord.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if rec := f.do(http.MethodGet, "/readyz", "", nil); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, "")
	if err := f.coord.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	rec := f.do(http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "wallet_refresh_total") {
		t.Error("expected wallet_refresh_total in exposition")
	}
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t, "")

	if rec := f.do(http.MethodGet, "/v1/snapshot", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before first refresh, got %d", rec.Code)
	}

	if err := f.coord.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	rec := f.do(http.MethodGet, "/v1/snapshot", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var view map[string]any
	decode(t, rec, &view)
	if view["total_transactions"] != 1.0 {
		t.Errorf("expected 1 transaction, got %v", view["total_transactions"])
	}
	if view["transaction_sum_30_days"] != 42.5 {
		t.Errorf("expected 42.5, got %v", view["transaction_sum_30_days"])
	}
	if view["last_error"] != nil {
		t.Errorf("expected null last_error, got %v", view["last_error"])
	}
}

func TestSensors(t *testing.T) {
	f := newFixture(t, "")
	if err := f.coord.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	var list []domain.Sensor
	decode(t, f.do(http.MethodGet, "/v1/sensors", "", nil), &list)
	if len(list) != 2 {
		t.Fatalf("expected 2 sensors, got %d", len(list))
	}

	rec := f.do(http.MethodGet, "/v1/sensors/spent_pln_last_7_days", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var spent domain.Sensor
	decode(t, rec, &spent)
	if spent.State != 42.5 || spent.Unit != "PLN" {
		t.Errorf("unexpected spent sensor %+v", spent)
	}

	if rec := f.do(http.MethodGet, "/v1/sensors/unknown", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestRefresh_AcceptedAndConflict(t *testing.T) {
	f := newFixture(t, "")
	f.fetcher.block = make(chan struct{})

	if rec := f.do(http.MethodPost, "/v1/refresh", "", nil); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/v1/refresh", "", nil); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 while in flight, got %d", rec.Code)
	}
	close(f.fetcher.block)
}

func TestRefresh_RequiresReauth(t *testing.T) {
	f := newFixture(t, "")
	f.fetcher.err = &domain.AuthError{}
	_ = f.coord.Refresh(context.Background())

	if rec := f.do(http.MethodPost, "/v1/refresh", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestValidateCredential(t *testing.T) {
	f := newFixture(t, "")

	tests := []struct {
		body   string
		status int
		code   string
	}{
		{`{"token":"good"}`, http.StatusOK, ""},
		{`{"token":"bad"}`, http.StatusBadRequest, domain.CodeInvalidAuth},
		{`{"token":"   "}`, http.StatusBadRequest, domain.CodeInvalidAuth},
		{`{"token":"down"}`, http.StatusBadGateway, domain.CodeCannotConnect},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/v1/credential/validate", tt.body, nil)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			var resp domain.TokenResponse
			decode(t, rec, &resp)
			if resp.Error != tt.code {
				t.Errorf("expected code %q, got %q", tt.code, resp.Error)
			}
		})
	}

	if rec := f.do(http.MethodPost, "/v1/credential/validate", "not json", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestReauth(t *testing.T) {
	f := newFixture(t, "")
	f.fetcher.err = &domain.AuthError{}
	_ = f.coord.Refresh(context.Background())

	if rec := f.do(http.MethodPost, "/v1/reauth", `{"token":"bad"}`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for rejected token, got %d", rec.Code)
	}
	if !f.coord.NeedsReauth() {
		t.Error("expected reauth still pending")
	}

	if rec := f.do(http.MethodPost, "/v1/reauth", `{"token":"good"}`, nil); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if f.coord.NeedsReauth() {
		t.Error("expected reauth cleared")
	}
}

func TestAdminAuth(t *testing.T) {
	secret := "s3cret"
	f := newFixture(t, secret)

	if rec := f.do(http.MethodPost, "/v1/credential/validate", `{"token":"good"}`, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}

	bad := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "ops"})
	badToken, _ := bad.SignedString([]byte("other"))
	rec := f.do(http.MethodPost, "/v1/credential/validate", `{"token":"good"}`, http.Header{"Authorization": {"Bearer " + badToken}})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong signature, got %d", rec.Code)
	}

	good := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	goodToken, _ := good.SignedString([]byte(secret))
	rec = f.do(http.MethodPost, "/v1/credential/validate", `{"token":"good"}`, http.Header{"Authorization": {"Bearer " + goodToken}})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with valid token, got %d", rec.Code)
	}

	if rec := f.do(http.MethodGet, "/v1/sensors", "", nil); rec.Code != http.StatusOK {
		t.Errorf("expected read routes to stay open, got %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, "")
	if err := f.coord.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	var stats domain.RefreshStats
	decode(t, f.do(http.MethodGet, "/v1/status", "", nil), &stats)
	if stats.Succeeded != 1 || stats.NeedsReauth || stats.InFlight {
		t.Errorf("unexpected status %+v", stats)
	}
}
