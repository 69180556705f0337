// Package domain defines the entities shared by the wallet client, the
// aggregation pipeline and the published sensors.
package domain

import "time"

// ============================================================
// Fetch results
// ============================================================

// FetchResult is the outcome of one aggregated fetch over all active accounts.
// Transactions are sorted by recordDate, newest first.
type FetchResult struct {
	Transactions     []Record
	AccountCount     int
	ActiveAccountIDs []string
	RequestsMade     int
}

// ============================================================
// Snapshot
// ============================================================

// Snapshot is the committed state served to readers. A committed snapshot is
// never mutated; stale marking commits a copy with LastError set.
type Snapshot struct {
	Transactions      []Record
	TotalTransactions int
	TransactionSum30d float64
	ExpenseSum7d      float64
	AccountCount      int
	ActiveAccountIDs  []string
	RequestsMade      int
	UpdatedAt         *time.Time
	LastError         *string
}

// WithError returns a copy of s marked stale with msg.
func (s *Snapshot) WithError(msg string) *Snapshot {
	cp := *s
	cp.LastError = &msg
	return &cp
}

// Fresh reports whether the last refresh succeeded.
func (s *Snapshot) Fresh() bool {
	return s.LastError == nil
}

// ============================================================
// Published shape
// ============================================================

// SnapshotView is the JSON shape of a snapshot as published to consumers.
type SnapshotView struct {
	TotalTransactions    int      `json:"total_transactions"`
	TransactionSum30Days float64  `json:"transaction_sum_30_days"`
	AccountCount         int      `json:"account_count"`
	ActiveAccountIDs     []string `json:"active_account_ids"`
	RequestsMade         int      `json:"requests_made"`
	UpdatedAt            *string  `json:"updated_at"`
	LastError            *string  `json:"last_error"`
	Transactions         []Record `json:"transactions"`
}

// View renders the snapshot, capping the transaction list at maxTransactions.
func (s *Snapshot) View(maxTransactions int) SnapshotView {
	txs := s.Transactions
	if maxTransactions >= 0 && len(txs) > maxTransactions {
		txs = txs[:maxTransactions]
	}
	if txs == nil {
		txs = []Record{}
	}
	ids := s.ActiveAccountIDs
	if ids == nil {
		ids = []string{}
	}

	var updated *string
	if s.UpdatedAt != nil {
		v := s.UpdatedAt.UTC().Format(time.RFC3339Nano)
		updated = &v
	}

	return SnapshotView{
		TotalTransactions:    s.TotalTransactions,
		TransactionSum30Days: s.TransactionSum30d,
		AccountCount:         s.AccountCount,
		ActiveAccountIDs:     ids,
		RequestsMade:         s.RequestsMade,
		UpdatedAt:            updated,
		LastError:            s.LastError,
		Transactions:         txs,
	}
}

// Sensor is one published sensor: a state value plus attributes.
type Sensor struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Icon             string        `json:"icon"`
	State            float64       `json:"state"`
	Unit             string        `json:"unit_of_measurement,omitempty"`
	DeviceClass      string        `json:"device_class,omitempty"`
	DisplayPrecision *int          `json:"suggested_display_precision,omitempty"`
	Available        bool          `json:"available"`
	Attributes       *SnapshotView `json:"attributes,omitempty"`
}
