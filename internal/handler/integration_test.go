package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/wallet-bridge-go/internal/domain"
	"github.com/boddenberg/wallet-bridge-go/internal/handler"
	"github.com/boddenberg/wallet-bridge-go/internal/infra/client"
	"github.com/boddenberg/wallet-bridge-go/internal/infra/observability"
	"github.com/boddenberg/wallet-bridge-go/internal/infra/resilience"
	"github.com/boddenberg/wallet-bridge-go/internal/port"
	"github.com/boddenberg/wallet-bridge-go/internal/service"

	"go.uber.org/zap"
)

// fakeWallet serves the accounts and records collections for token "live".
func fakeWallet(t *testing.T, rejectAll *atomic.Bool) *httptest.Server {
	t.Helper()
	recent := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	older := time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339)
	old := time.Now().UTC().AddDate(0, 0, -20).Format(time.RFC3339)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rejectAll.Load() || r.Header.Get("Authorization") != "Bearer live" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")

		q := r.URL.Query()
		switch r.URL.Path {
		case client.AccountsEndpoint:
			json.NewEncoder(w).Encode(map[string]any{
				"accounts": []map[string]any{
					{"id": "A", "archived": false},
					{"id": "B", "archived": true},
				},
				"nextOffset": nil,
			})
		case client.RecordsEndpoint:
			if q.Get("accountId") != "A" {
				t.Errorf("records requested for %q", q.Get("accountId"))
			}
			if q.Get("offset") == "0" {
				json.NewEncoder(w).Encode(map[string]any{
					"records": []map[string]any{
						{"id": "r1", "recordDate": older, "recordType": "expense", "baseAmount": map[string]any{"value": -42.5, "currencyCode": "PLN"}},
						{"id": "r2", "recordDate": old, "recordType": "expense", "baseAmount": map[string]any{"value": -10, "currencyCode": "PLN"}},
					},
					"nextOffset": 2,
				})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"records": []map[string]any{
					{"id": "r3", "recordDate": recent, "recordType": "expense", "baseAmount": map[string]any{"value": -5, "currencyCode": "USD"}},
				},
				"nextOffset": nil,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wire(t *testing.T, baseURL, token string) (http.Handler, *service.Coordinator) {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	cb := resilience.NewCircuitBreaker("integration", client.CountsAsHealthy)
	newAPI := func(token string) port.WalletAPI {
		return client.NewWalletClient(http.DefaultClient, token, cb, client.Config{BaseURL: baseURL}, metrics, logger)
	}

	coord := service.NewCoordinator(service.NewAggregator(newAPI(token), logger), service.CoordinatorConfig{}, metrics, logger)
	router := handler.NewRouter(handler.Deps{
		Coordinator: coord,
		Sensors:     service.NewSensors(coord, "PLN", 1000),
		Credentials: service.NewCredentials(newAPI, coord, nil, logger),
		Metrics:     metrics,
	}, logger)
	return router, coord
}

func TestIntegration_FullFlow(t *testing.T) {
	var rejectAll atomic.Bool
	upstream := fakeWallet(t, &rejectAll)
	router, coord := wire(t, upstream.URL, "live")

	if err := coord.FirstRefresh(context.Background()); err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/snapshot", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var view domain.SnapshotView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.AccountCount != 1 || len(view.ActiveAccountIDs) != 1 || view.ActiveAccountIDs[0] != "A" {
		t.Errorf("expected only account A, got %+v", view.ActiveAccountIDs)
	}
	if view.TotalTransactions != 2 {
		t.Errorf("expected 2 transactions in the display window, got %d", view.TotalTransactions)
	}
	if view.TransactionSum30Days != 52.5 {
		t.Errorf("expected 52.5, got %v", view.TransactionSum30Days)
	}
	if view.RequestsMade != 3 {
		t.Errorf("expected 3 requests (1 accounts + 2 record pages), got %d", view.RequestsMade)
	}
	if len(view.Transactions) != 2 {
		t.Fatalf("expected 2 published transactions, got %d", len(view.Transactions))
	}
	if id := string(view.Transactions[0].Fields["id"]); id != `"r3"` {
		t.Errorf("expected newest record r3 first, got %s", id)
	}

	// Upstream starts rejecting the token: refreshes stop until re-auth.
	rejectAll.Store(true)
	var reauth *domain.ReauthRequiredError
	if err := coord.Refresh(context.Background()); !errors.As(err, &reauth) {
		t.Fatalf("expected re-auth required, got %v", err)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var health domain.HealthStatus
	_ = json.Unmarshal(rec.Body.Bytes(), &health)
	if health.Status != "unhealthy" {
		t.Errorf("expected unhealthy while re-auth pending, got %s", health.Status)
	}
	if coord.Snapshot() == nil {
		t.Error("expected previous snapshot to stay served")
	}
}

func TestIntegration_FirstRefreshRejectedToken(t *testing.T) {
	var rejectAll atomic.Bool
	upstream := fakeWallet(t, &rejectAll)
	_, coord := wire(t, upstream.URL, "revoked")

	err := coord.FirstRefresh(context.Background())

	var reauth *domain.ReauthRequiredError
	if !errors.As(err, &reauth) {
		t.Fatalf("expected re-auth required, got %v", err)
	}
	if coord.Snapshot() != nil {
		t.Error("expected no snapshot after failed first refresh")
	}
}
