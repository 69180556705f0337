package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boddenberg/wallet-bridge-go/internal/domain"
	"github.com/boddenberg/wallet-bridge-go/internal/infra/observability"
	"github.com/boddenberg/wallet-bridge-go/internal/infra/resilience"
	"github.com/boddenberg/wallet-bridge-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	DefaultRefreshInterval = 15 * time.Minute
	DefaultFetchDays       = 30
	DefaultDisplayDays     = 7
	DefaultSumCurrency     = "PLN"
)

// CoordinatorConfig holds refresh cycle parameters.
type CoordinatorConfig struct {
	Interval    time.Duration
	FetchDays   int
	DisplayDays int
	SumCurrency string
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultRefreshInterval
	}
	if c.FetchDays <= 0 {
		c.FetchDays = DefaultFetchDays
	}
	if c.DisplayDays <= 0 {
		c.DisplayDays = DefaultDisplayDays
	}
	if c.SumCurrency == "" {
		c.SumCurrency = DefaultSumCurrency
	}
	return c
}

// Coordinator runs the periodic refresh. At most one refresh is in flight;
// triggers that arrive meanwhile are dropped. Readers get the last committed
// snapshot, which is replaced atomically and never modified in place.
type Coordinator struct {
	cfg     CoordinatorConfig
	metrics *observability.Metrics
	logger  *zap.Logger

	fetcherMu sync.RWMutex
	fetcher   port.WindowFetcher

	gate        *resilience.Gate
	snapshot    atomic.Pointer[domain.Snapshot]
	needsReauth atomic.Bool

	listenersMu sync.Mutex
	listeners   map[int]port.SnapshotListener
	nextID      int

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewCoordinator creates a coordinator over fetcher.
func NewCoordinator(fetcher port.WindowFetcher, cfg CoordinatorConfig, metrics *observability.Metrics, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		cfg:       cfg.withDefaults(),
		metrics:   metrics,
		logger:    logger,
		fetcher:   fetcher,
		gate:      resilience.NewGate(),
		listeners: make(map[int]port.SnapshotListener),
		now:       time.Now,
		sleep:     resilience.Sleep,
	}
}

// Config returns the effective configuration.
func (c *Coordinator) Config() CoordinatorConfig {
	return c.cfg
}

// Snapshot returns the committed snapshot, or nil before the first commit.
func (c *Coordinator) Snapshot() *domain.Snapshot {
	return c.snapshot.Load()
}

// NeedsReauth reports whether the last refresh was rejected for the credential.
func (c *Coordinator) NeedsReauth() bool {
	return c.needsReauth.Load()
}

// InFlight reports whether a refresh is running.
func (c *Coordinator) InFlight() bool {
	return c.gate.Busy()
}

// AddListener registers l for commit notifications and returns its removal.
func (c *Coordinator) AddListener(l port.SnapshotListener) func() {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	return func() {
		c.listenersMu.Lock()
		defer c.listenersMu.Unlock()
		delete(c.listeners, id)
	}
}

// ReplaceFetcher installs a fetcher bound to a new credential and clears the
// re-auth flag.
func (c *Coordinator) ReplaceFetcher(f port.WindowFetcher) {
	c.fetcherMu.Lock()
	c.fetcher = f
	c.fetcherMu.Unlock()
	c.needsReauth.Store(false)
}

func (c *Coordinator) currentFetcher() port.WindowFetcher {
	c.fetcherMu.RLock()
	defer c.fetcherMu.RUnlock()
	return c.fetcher
}

// FirstRefresh performs the refresh that setup depends on. Any failure is
// returned, and no snapshot exists afterwards.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		return err
	}
	if c.Snapshot() == nil {
		return &domain.UpdateFailedError{Message: "first refresh committed no snapshot"}
	}
	return nil
}

// Run refreshes every interval until ctx is done. Ticks are skipped while a
// refresh is in flight or while the credential awaits replacement.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.logger.Info("refresh loop started", zap.Duration("interval", c.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("refresh loop stopped")
			return nil
		case <-ticker.C:
			if c.NeedsReauth() {
				c.logger.Debug("refresh skipped: waiting for re-authentication")
				continue
			}
			err := c.Refresh(ctx)
			if errors.Is(err, domain.ErrRefreshInFlight) {
				c.logger.Debug("refresh skipped: previous refresh still running")
			}
		}
	}
}

// Refresh runs one refresh cycle. It returns domain.ErrRefreshInFlight when
// another cycle holds the gate, *domain.ReauthRequiredError when the
// credential was rejected and *domain.UpdateFailedError for recoverable
// failures.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if !c.gate.TryEnter() {
		c.metrics.IncrRefresh(observability.OutcomeSkipped)
		return domain.ErrRefreshInFlight
	}
	defer c.gate.Leave()

	return c.refresh(ctx)
}

// Trigger starts a refresh in the background and reports whether it was
// accepted. It returns false when a refresh is already in flight.
func (c *Coordinator) Trigger(ctx context.Context) bool {
	if !c.gate.TryEnter() {
		c.metrics.IncrRefresh(observability.OutcomeSkipped)
		return false
	}
	go func() {
		defer c.gate.Leave()
		_ = c.refresh(ctx)
	}()
	return true
}

func (c *Coordinator) refresh(ctx context.Context) error {
	refreshID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "Coordinator.Refresh")
	defer span.End()
	span.SetAttributes(attribute.String("refresh.id", refreshID))

	logger := c.logger.With(zap.String("refresh_id", refreshID))
	start := time.Now()
	defer func() {
		c.metrics.RecordRefreshDuration(time.Since(start))
	}()

	fetcher := c.currentFetcher()
	result, err := fetcher.FetchWindow(ctx, c.cfg.FetchDays)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return c.handleFailure(ctx, logger, fetcher, err)
	}

	snap := c.buildSnapshot(result)
	c.commit(snap)
	c.needsReauth.Store(false)
	c.metrics.IncrRefresh(observability.OutcomeSuccess)

	logger.Info("refresh committed",
		zap.Int("accounts", snap.AccountCount),
		zap.Int("transactions_30d", len(result.Transactions)),
		zap.Int("transactions_7d", snap.TotalTransactions),
		zap.Float64("sum_30d", snap.TransactionSum30d),
		zap.Int("requests_made", snap.RequestsMade),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

func (c *Coordinator) buildSnapshot(result *domain.FetchResult) *domain.Snapshot {
	now := c.now().UTC()
	display := RecordsSince(result.Transactions, now.AddDate(0, 0, -c.cfg.DisplayDays))

	return &domain.Snapshot{
		Transactions:      display,
		TotalTransactions: len(display),
		TransactionSum30d: AbsoluteSum(result.Transactions, c.cfg.SumCurrency),
		ExpenseSum7d:      ExpenseSum(display, c.cfg.SumCurrency),
		AccountCount:      result.AccountCount,
		ActiveAccountIDs:  result.ActiveAccountIDs,
		RequestsMade:      result.RequestsMade,
		UpdatedAt:         &now,
	}
}

func (c *Coordinator) handleFailure(ctx context.Context, logger *zap.Logger, fetcher port.WindowFetcher, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		logger.Info("refresh abandoned", zap.Error(ctxErr))
		return ctxErr
	}

	var authErr *domain.AuthError
	var rateErr *domain.RateLimitError

	switch {
	case errors.As(err, &authErr):
		// A credential replaced mid-refresh is not the one that was rejected.
		if c.currentFetcher() == fetcher {
			c.needsReauth.Store(true)
		}
		c.metrics.IncrRefresh(observability.OutcomeAuthFailed)
		logger.Error("refresh failed: credential rejected, re-authentication required", zap.Error(err))
		return &domain.ReauthRequiredError{Err: err}

	case errors.As(err, &rateErr):
		c.metrics.IncrRefresh(observability.OutcomeRateLimited)
		if rateErr.RetryAfter != nil && *rateErr.RetryAfter > 0 {
			logger.Warn("rate limit exceeded, waiting before next retry",
				zap.Duration("retry_after", *rateErr.RetryAfter),
			)
			if sleepErr := c.sleep(ctx, *rateErr.RetryAfter); sleepErr != nil {
				logger.Info("refresh abandoned during rate-limit wait", zap.Error(sleepErr))
				return sleepErr
			}
		}
		return c.markStale(logger, "Rate limit exceeded", err)

	default:
		c.metrics.IncrRefresh(observability.OutcomeUpdateFailed)
		return c.markStale(logger, "API error: "+err.Error(), err)
	}
}

// markStale re-commits the previous snapshot with msg as last_error.
func (c *Coordinator) markStale(logger *zap.Logger, msg string, err error) error {
	logger.Warn("refresh failed, serving previous snapshot", zap.String("last_error", msg), zap.Error(err))
	if prev := c.snapshot.Load(); prev != nil {
		c.commit(prev.WithError(msg))
	}
	return &domain.UpdateFailedError{Message: msg, Err: err}
}

func (c *Coordinator) commit(s *domain.Snapshot) {
	c.snapshot.Store(s)
	c.metrics.ObserveSnapshot(s)

	c.listenersMu.Lock()
	listeners := make([]port.SnapshotListener, 0, len(c.listeners))
	for i := 0; i < c.nextID; i++ {
		if l, ok := c.listeners[i]; ok {
			listeners = append(listeners, l)
		}
	}
	c.listenersMu.Unlock()

	for _, l := range listeners {
		l(s)
	}
}
