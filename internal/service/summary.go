package service

import (
	"bytes"
	"time"

	"github.com/boddenberg/wallet-bridge-go/internal/domain"

	"github.com/shopspring/decimal"
)

// RecordsSince keeps the records whose recordDate parses and is not before
// since. Records with a missing or unparseable date are dropped.
func RecordsSince(records []domain.Record, since time.Time) []domain.Record {
	out := make([]domain.Record, 0, len(records))
	for _, r := range records {
		t, ok := r.Time()
		if !ok || t.Before(since) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// AbsoluteSum adds |baseAmount.value| over records in currency, skipping
// non-numeric values, and rounds to 2 decimal places.
func AbsoluteSum(records []domain.Record, currency string) float64 {
	return sumWhere(records, currency, func(domain.Record) bool { return true })
}

// ExpenseSum is AbsoluteSum restricted to expense records.
func ExpenseSum(records []domain.Record, currency string) float64 {
	return sumWhere(records, currency, func(r domain.Record) bool {
		return r.RecordType == domain.RecordTypeExpense
	})
}

func sumWhere(records []domain.Record, currency string, keep func(domain.Record) bool) float64 {
	total := decimal.Zero
	for _, r := range records {
		if !keep(r) || r.BaseAmount == nil || r.BaseAmount.CurrencyCode != currency {
			continue
		}
		if _, ok := r.BaseAmount.Number(); !ok {
			continue
		}
		v, err := decimal.NewFromString(string(bytes.TrimSpace(r.BaseAmount.Value)))
		if err != nil {
			continue
		}
		total = total.Add(v.Abs())
	}
	f, _ := total.Round(2).Float64()
	return f
}
