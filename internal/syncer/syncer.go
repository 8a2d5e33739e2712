// Package syncer runs one user's position sync end to end: fetch accounts,
// normalize, detect, sign, reconcile and persist the delta atomically.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/eddiefleurent/position_sync/internal/broker"
	"github.com/eddiefleurent/position_sync/internal/models"
	"github.com/eddiefleurent/position_sync/internal/normalizer"
	"github.com/eddiefleurent/position_sync/internal/reconciler"
	"github.com/eddiefleurent/position_sync/internal/signature"
	"github.com/eddiefleurent/position_sync/internal/storage"
	"github.com/eddiefleurent/position_sync/internal/strategy"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const defaultMaxConcurrentAccounts = 4

// Options configures a Service.
type Options struct {
	// AccountHashes restricts syncing to these accounts. If none of them are
	// listed by the broker, every account is synced.
	AccountHashes         []string
	MaxConcurrentAccounts int
	Detector              strategy.Config
	Now                   func() time.Time
	NewID                 func() string
}

// Service orchestrates syncs. Syncs for the same user never overlap.
type Service struct {
	provider   broker.DataProvider
	store      storage.Interface
	normalizer *normalizer.Normalizer
	detector   *strategy.Detector
	reconciler *reconciler.Reconciler
	logger     logrus.FieldLogger
	opts       Options

	locksMu sync.Mutex
	locks   map[string]*semaphore.Weighted
}

// Report summarizes one sync pass.
type Report struct {
	UserID   string
	Accounts int
	Legs     int
	Groups   int

	Created int
	Updated int
	Closed  int

	// UnsupportedRecords and FailedRecords count broker records that never became legs.
	UnsupportedRecords int
	FailedRecords      int
	// Reopened counts closed positions that were reported again.
	Reopened int
	// SkippedPositions counts active positions left out of reconciliation
	// because their account failed or was filtered out.
	SkippedPositions int

	// AccountErrors joins the errors of accounts that could not be fetched.
	AccountErrors error
	Duration      time.Duration
}

// New creates a Service. A nil logger discards output.
func New(provider broker.DataProvider, store storage.Interface, logger logrus.FieldLogger, opts Options) (*Service, error) {
	if provider == nil {
		return nil, fmt.Errorf("syncer: nil provider")
	}
	if store == nil {
		return nil, fmt.Errorf("syncer: nil storage")
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	if opts.Detector == (strategy.Config{}) {
		opts.Detector = strategy.DefaultConfig()
	}
	if err := opts.Detector.Validate(); err != nil {
		return nil, fmt.Errorf("syncer: %w", err)
	}
	if opts.MaxConcurrentAccounts <= 0 {
		opts.MaxConcurrentAccounts = defaultMaxConcurrentAccounts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		provider:   provider,
		store:      store,
		normalizer: normalizer.New(logger),
		detector:   strategy.NewDetector(opts.Detector, logger),
		reconciler: reconciler.New(logger, reconciler.Options{Now: opts.Now, NewID: opts.NewID}),
		logger:     logger,
		opts:       opts,
		locks:      make(map[string]*semaphore.Weighted),
	}, nil
}

// lockUser blocks until the user's single-writer slot is free or ctx ends.
func (s *Service) lockUser(ctx context.Context, userID string) (func(), error) {
	s.locksMu.Lock()
	sem, ok := s.locks[userID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		s.locks[userID] = sem
	}
	s.locksMu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for sync lock of user %s: %w", userID, err)
	}
	return func() { sem.Release(1) }, nil
}

// accountResult is the per-account output of the fan-out stage.
type accountResult struct {
	account     broker.AccountNumber
	groups      []models.StrategyGroup
	snapshot    models.AccountSnapshot
	legs        int
	unsupported int
	failed      int
	err         error
}

// Sync runs one full sync for userID. Per-account fetch failures are reported
// in the Report and do not fail the sync; a leg conservation failure aborts
// it before anything is persisted.
func (s *Service) Sync(ctx context.Context, userID string) (*Report, error) {
	if userID == "" {
		return nil, fmt.Errorf("sync: empty user id")
	}
	release, err := s.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	start := s.opts.Now()
	log := s.logger.WithField("user", userID)
	report := &Report{UserID: userID}

	listed, err := s.provider.GetAccountNumbers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	selected, excluded, fellBack := selectAccounts(listed, s.opts.AccountHashes)
	if fellBack {
		log.WithField("configured", len(s.opts.AccountHashes)).
			Warn("none of the configured account hashes exist at the broker, syncing all accounts")
	}
	report.Accounts = len(selected)

	results := make([]accountResult, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxConcurrentAccounts)
	for i, acct := range selected {
		g.Go(func() error {
			res, err := s.syncAccount(gctx, acct)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var groups []models.StrategyGroup
	var snapshots []models.AccountSnapshot
	var accountErrs []error
	for _, r := range results {
		if r.err != nil {
			accountErrs = append(accountErrs, r.err)
			excluded[r.account.HashValue] = struct{}{}
			continue
		}
		groups = append(groups, r.groups...)
		snapshots = append(snapshots, r.snapshot)
		report.Legs += r.legs
		report.UnsupportedRecords += r.unsupported
		report.FailedRecords += r.failed
	}
	report.Groups = len(groups)
	report.AccountErrors = errors.Join(accountErrs...)

	stored, err := s.store.ListPositions(ctx, userID, models.FlavorActual)
	if err != nil {
		return nil, fmt.Errorf("loading positions: %w", err)
	}
	existing := make([]models.Position, 0, len(stored))
	for _, p := range stored {
		if _, skip := excluded[p.AccountID]; skip {
			if p.Status == models.StatusActive {
				report.SkippedPositions++
			}
			continue
		}
		existing = append(existing, p)
	}

	res, err := s.reconciler.Reconcile(userID, groups, existing)
	if err != nil {
		return nil, fmt.Errorf("reconciling: %w", err)
	}
	report.Reopened = res.Revived
	delta := res.Delta
	delta.Accounts = snapshots

	if !delta.IsEmpty() {
		if err := s.store.ApplySync(ctx, userID, delta); err != nil {
			return nil, fmt.Errorf("persisting sync: %w", err)
		}
	}

	report.Created = len(delta.Created)
	report.Updated = len(delta.Updated)
	report.Closed = len(delta.Closed)
	report.Duration = s.opts.Now().Sub(start)

	entry := log.WithFields(logrus.Fields{
		"accounts": report.Accounts,
		"legs":     report.Legs,
		"groups":   report.Groups,
		"created":  report.Created,
		"updated":  report.Updated,
		"closed":   report.Closed,
		"reopened": report.Reopened,
	})
	if report.AccountErrors != nil {
		entry.WithError(report.AccountErrors).Warn("sync completed with account errors")
	} else {
		entry.Info("sync completed")
	}
	return report, nil
}

// syncAccount fetches, normalizes, detects and signs one account. A fetch
// failure is returned in the result; only a conservation failure is fatal.
func (s *Service) syncAccount(ctx context.Context, acct broker.AccountNumber) (accountResult, error) {
	res := accountResult{account: acct}
	log := s.logger.WithField("account", broker.MaskAccountNumber(acct.AccountNumber))

	resp, err := s.provider.GetAccount(ctx, acct.HashValue)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		log.WithError(err).Warn("skipping account that could not be fetched")
		res.err = fmt.Errorf("account %s: %w", broker.MaskAccountNumber(acct.AccountNumber), err)
		return res, nil
	}

	info := resp.Info(acct.HashValue)
	if info.AccountNumber == "" {
		info.AccountNumber = acct.AccountNumber
	}
	norm := s.normalizer.NormalizeAll(resp.SecuritiesAccount.Positions, info)
	res.legs = len(norm.Legs)
	res.unsupported = norm.Unsupported
	res.failed = norm.Failed

	groups := s.detector.DetectAll(norm.Legs)
	if err := strategy.CheckConservation(len(norm.Legs), groups); err != nil {
		log.WithError(err).Error("strategy detection lost or duplicated legs")
		return res, fmt.Errorf("account %s: %w", broker.MaskAccountNumber(info.AccountNumber), err)
	}
	signature.Sign(groups)
	for _, g := range groups {
		log.WithField("strategy", g.StrategyType).Debug(signature.Explain(g.Signature, g.Underlying, g.Legs))
	}
	res.groups = groups

	res.snapshot = models.AccountSnapshot{
		Hash:               acct.HashValue,
		AccountNumber:      broker.MaskAccountNumber(info.AccountNumber),
		AccountType:        info.AccountType,
		CashBalance:        info.Balances.CashBalance,
		LiquidationValue:   info.Balances.LiquidationValue,
		BuyingPower:        info.Balances.BuyingPower,
		OptionsBuyingPower: info.Balances.AvailableFunds,
		LastSynced:         s.opts.Now().UTC(),
	}
	return res, nil
}

// selectAccounts applies the hash filter. It returns the accounts to sync and
// the hashes of listed accounts deliberately left out. If the filter matches
// nothing, every account is selected and fellBack is true.
func selectAccounts(listed []broker.AccountNumber, hashes []string) (selected []broker.AccountNumber, excluded map[string]struct{}, fellBack bool) {
	excluded = make(map[string]struct{})
	if len(hashes) == 0 {
		return listed, excluded, false
	}
	want := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		want[h] = struct{}{}
	}
	for _, a := range listed {
		if _, ok := want[a.HashValue]; ok {
			selected = append(selected, a)
		} else {
			excluded[a.HashValue] = struct{}{}
		}
	}
	if len(selected) == 0 {
		return listed, make(map[string]struct{}), len(listed) > 0
	}
	return selected, excluded, false
}

// Run syncs immediately and then on every tick until ctx is canceled.
// Failed passes are logged and retried on the next tick.
func (s *Service) Run(ctx context.Context, userID string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("run: interval must be positive, got %v", interval)
	}
	s.logger.WithFields(logrus.Fields{"user": userID, "interval": interval}).Info("sync loop starting")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.runOnce(ctx, userID)
	for {
		select {
		case <-ctx.Done():
			s.logger.WithField("user", userID).Info("sync loop stopped")
			return nil
		case <-ticker.C:
			s.runOnce(ctx, userID)
		}
	}
}

func (s *Service) runOnce(ctx context.Context, userID string) {
	if _, err := s.Sync(ctx, userID); err != nil && ctx.Err() == nil {
		s.logger.WithError(err).WithField("user", userID).Error("sync failed")
	}
}
