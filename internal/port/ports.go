// Package port defines the interfaces (ports) between the refresh pipeline
// and its collaborators. The service layer depends only on these, so the
// wallet client can be swapped for a fake in tests.
package port

import (
	"context"
	"time"

	"github.com/boddenberg/wallet-bridge-go/internal/domain"
)

// WalletAPI is the transport and pagination client for the Wallet API.
type WalletAPI interface {
	ValidateCredential(ctx context.Context) error
	FetchAllAccounts(ctx context.Context) ([]domain.Account, error)
	FetchRecordsForAccount(ctx context.Context, accountID string, start, end time.Time) ([]domain.Record, error)
	ResetRequestCount()
	RequestsMade() int
}

// WalletAPIFactory builds a client bound to one credential.
type WalletAPIFactory func(token string) WalletAPI

// WindowFetcher returns every active-account record of the last days days.
type WindowFetcher interface {
	FetchWindow(ctx context.Context, days int) (*domain.FetchResult, error)
}

// SnapshotReader gives read access to the committed snapshot.
type SnapshotReader interface {
	Snapshot() *domain.Snapshot
}

// SnapshotListener is notified after every snapshot commit.
type SnapshotListener func(*domain.Snapshot)
