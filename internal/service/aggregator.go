package service

import (
	"context"
	"sort"
	"time"

	"github.com/boddenberg/wallet-bridge-go/internal/domain"
	"github.com/boddenberg/wallet-bridge-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("service/aggregator")

// Aggregator lists the active accounts and merges their records for a window.
type Aggregator struct {
	api    port.WalletAPI
	now    func() time.Time
	logger *zap.Logger
}

// NewAggregator creates an aggregator over api.
func NewAggregator(api port.WalletAPI, logger *zap.Logger) *Aggregator {
	return &Aggregator{api: api, now: time.Now, logger: logger}
}

// WithClock replaces the wall clock used to place the window.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// FetchWindow returns all records of active accounts dated within the last
// days days, newest first. Accounts are fetched one after another so the
// request count is deterministic. Client errors are returned unchanged.
func (a *Aggregator) FetchWindow(ctx context.Context, days int) (*domain.FetchResult, error) {
	ctx, span := tracer.Start(ctx, "Aggregator.FetchWindow")
	defer span.End()
	span.SetAttributes(attribute.Int("wallet.window_days", days))

	a.api.ResetRequestCount()

	accounts, err := a.api.FetchAllAccounts(ctx)
	if err != nil {
		return nil, err
	}
	ids := ActiveAccountIDs(accounts)

	end := a.now().UTC()
	start := end.AddDate(0, 0, -days)

	var transactions []domain.Record
	for _, id := range ids {
		records, err := a.api.FetchRecordsForAccount(ctx, id, start, end)
		if err != nil {
			return nil, err
		}
		a.logger.Debug("aggregator: account records fetched",
			zap.String("account_id", id),
			zap.Int("records", len(records)),
		)
		transactions = append(transactions, records...)
	}

	SortByRecordDateDesc(transactions)

	result := &domain.FetchResult{
		Transactions:     transactions,
		AccountCount:     len(ids),
		ActiveAccountIDs: ids,
		RequestsMade:     a.api.RequestsMade(),
	}

	span.SetAttributes(
		attribute.Int("wallet.accounts", result.AccountCount),
		attribute.Int("wallet.transactions", len(result.Transactions)),
		attribute.Int("wallet.requests", result.RequestsMade),
	)
	return result, nil
}

// ActiveAccountIDs returns the ids of non-archived accounts in discovery
// order. Accounts without an id and repeated ids are dropped.
func ActiveAccountIDs(accounts []domain.Account) []string {
	ids := make([]string, 0, len(accounts))
	seen := make(map[string]struct{}, len(accounts))
	for _, acc := range accounts {
		if !acc.Active() || acc.ID == "" {
			continue
		}
		if _, dup := seen[acc.ID]; dup {
			continue
		}
		seen[acc.ID] = struct{}{}
		ids = append(ids, acc.ID)
	}
	return ids
}

// SortByRecordDateDesc orders records newest first by comparing recordDate
// strings. Equal dates keep their relative order.
func SortByRecordDateDesc(records []domain.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].RecordDate > records[j].RecordDate
	})
}
