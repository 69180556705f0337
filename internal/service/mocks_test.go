package service_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boddenberg/wallet-bridge-go/internal/domain"
)

// --- Mocks ---

type recordsCall struct {
	accountID  string
	start, end time.Time
}

type mockWalletAPI struct {
	mu          sync.Mutex
	accounts    []domain.Account
	records     map[string][]domain.Record
	accountsErr error
	recordsErr  map[string]error
	validateErr error
	calls       []recordsCall
	requests    atomic.Int64
	resets      atomic.Int64
}

func (m *mockWalletAPI) ValidateCredential(_ context.Context) error {
	m.requests.Add(1)
	return m.validateErr
}

func (m *mockWalletAPI) FetchAllAccounts(_ context.Context) ([]domain.Account, error) {
	m.requests.Add(1)
	if m.accountsErr != nil {
		return nil, m.accountsErr
	}
	return m.accounts, nil
}

func (m *mockWalletAPI) FetchRecordsForAccount(_ context.Context, accountID string, start, end time.Time) ([]domain.Record, error) {
	m.requests.Add(1)
	m.mu.Lock()
	m.calls = append(m.calls, recordsCall{accountID: accountID, start: start, end: end})
	m.mu.Unlock()
	if err := m.recordsErr[accountID]; err != nil {
		return nil, err
	}
	out := make([]domain.Record, len(m.records[accountID]))
	copy(out, m.records[accountID])
	return out, nil
}

func (m *mockWalletAPI) ResetRequestCount() {
	m.resets.Add(1)
	m.requests.Store(0)
}

func (m *mockWalletAPI) RequestsMade() int {
	return int(m.requests.Load())
}

func (m *mockWalletAPI) recordsCalls() []recordsCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordsCall(nil), m.calls...)
}

// mockFetcher returns canned results and can block until released.
type mockFetcher struct {
	result  *domain.FetchResult
	err     error
	calls   atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (m *mockFetcher) FetchWindow(ctx context.Context, _ int) (*domain.FetchResult, error) {
	m.calls.Add(1)
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		seen := m.maxSeen.Load()
		if n <= seen || m.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.release != nil {
		select {
		case <-m.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func account(id string, archived bool) domain.Account {
	var a domain.Account
	raw, _ := json.Marshal(map[string]any{"id": id, "archived": archived})
	_ = json.Unmarshal(raw, &a)
	return a
}

func amount(currency string, value string) *domain.BaseAmount {
	return &domain.BaseAmount{CurrencyCode: currency, Value: json.RawMessage(value)}
}

func record(date, recordType, currency, value string) domain.Record {
	return domain.NewRecord(date, recordType, amount(currency, value))
}
