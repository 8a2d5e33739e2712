package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/eddiefleurent/position_sync/internal/broker"
	"github.com/eddiefleurent/position_sync/internal/config"
	"github.com/eddiefleurent/position_sync/internal/mock"
	"github.com/eddiefleurent/position_sync/internal/models"
	"github.com/eddiefleurent/position_sync/internal/retry"
	"github.com/eddiefleurent/position_sync/internal/storage"
	"github.com/eddiefleurent/position_sync/internal/syncer"
	"github.com/eddiefleurent/position_sync/internal/util"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type app struct {
	cfg    *config.Config
	store  storage.Interface
	logger logrus.FieldLogger
	userID string
	out    io.Writer
}

// buildProvider layers the configured data source as
// cache -> retry -> circuit breaker -> source.
func buildProvider(cfg *config.Config, logger logrus.FieldLogger) (broker.DataProvider, error) {
	var source broker.DataProvider
	switch cfg.Broker.Provider {
	case config.ProviderMock:
		source = mock.NewDataProvider()
	case config.ProviderFile:
		source = broker.NewFileProvider(cfg.Broker.SnapshotPath)
	default:
		return nil, fmt.Errorf("unknown broker provider %q", cfg.Broker.Provider)
	}

	breaker := broker.NewCircuitBreakerProviderWithSettings(source, cfg.CircuitBreakerSettings(), logger)
	retried := retry.NewClient(breaker, logger, cfg.RetryConfig())
	return broker.NewCachedProvider(retried, cfg.GetAccountCacheTTL()), nil
}

func (a *app) dispatch(ctx context.Context, opts options) error {
	switch {
	case opts.list:
		return a.listPositions(ctx)
	case opts.accounts:
		return a.listAccounts(ctx)
	case opts.audit:
		return a.audit(ctx)
	case opts.idea != "":
		return a.saveIdea(ctx, opts.idea, opts.strategy, opts.notes)
	}

	svc, closeFn, err := a.newService(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	switch {
	case opts.lockID != "":
		p, err := svc.AssignStrategy(ctx, a.userID, opts.lockID, models.StrategyType(opts.strategy))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(a.out, "Locked %s (%s) to %s\n", util.ShortID(p.ID), p.Underlying, p.StrategyType.Label())
		return err
	case opts.unlockID != "":
		p, err := svc.UnlockStrategy(ctx, a.userID, opts.unlockID)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(a.out, "Unlocked %s (%s)\n", util.ShortID(p.ID), p.Underlying)
		return err
	case opts.regenerate:
		n, err := svc.RegenerateSignatures(ctx, a.userID)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(a.out, "Regenerated %d signatures\n", n)
		return err
	case opts.once:
		report, err := svc.Sync(ctx, a.userID)
		if err != nil {
			return err
		}
		return a.printReport(report)
	default:
		return svc.Run(ctx, a.userID, a.cfg.GetSyncInterval())
	}
}

func (a *app) printReport(r *syncer.Report) error {
	_, err := fmt.Fprintf(a.out,
		"Synced %d accounts for %s: %d legs in %d groups, %d created, %d updated (%d reopened), %d closed (%d records skipped)\n",
		r.Accounts, r.UserID, r.Legs, r.Groups, r.Created, r.Updated, r.Reopened, r.Closed, r.UnsupportedRecords+r.FailedRecords)
	if err != nil {
		return err
	}
	if r.AccountErrors != nil {
		_, err = fmt.Fprintf(a.out, "Account errors: %v\n", r.AccountErrors)
	}
	return err
}

func (a *app) listPositions(ctx context.Context) error {
	positions, err := a.store.ListPositions(ctx, a.userID, "")
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tUNDERLYING\tACCOUNT\tSTRATEGY\tSTATUS\tQTY\tCOST\tVALUE\tP&L\tLEGS")
	for _, p := range positions {
		strategy := p.StrategyType.Label()
		if p.IsManualStrategy {
			strategy += " (locked)"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			util.ShortID(p.ID), p.Underlying, p.AccountNumber, strategy, p.Status,
			p.Quantity.String(), p.CostBasis.StringFixed(2), p.CurrentValue.StringFixed(2),
			p.UnrealizedPnL.StringFixed(2), len(p.Legs))
	}
	return w.Flush()
}

func (a *app) listAccounts(ctx context.Context) error {
	accounts, err := a.store.ListAccounts(ctx, a.userID)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ACCOUNT\tTYPE\tCASH\tLIQUIDATION\tBUYING POWER\tOPTIONS BP\tLAST SYNCED")
	for _, acct := range accounts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			acct.AccountNumber, acct.AccountType, acct.CashBalance.StringFixed(2),
			acct.LiquidationValue.StringFixed(2), acct.BuyingPower.StringFixed(2),
			acct.OptionsBuyingPower.StringFixed(2), acct.LastSynced.Format(time.RFC3339))
	}
	return w.Flush()
}

func (a *app) saveIdea(ctx context.Context, underlying, strategy, notes string) error {
	st := models.StrategyCustom
	if strategy != "" {
		st = models.StrategyType(strategy)
	}
	idea := models.NewIdea(uuid.New().String(), a.userID, underlying, st, nil, time.Now())
	idea.Notes = notes
	if err := a.store.SaveIdea(ctx, a.userID, idea); err != nil {
		return err
	}
	_, err := fmt.Fprintf(a.out, "Saved idea %s on %s (%s)\n", util.ShortID(idea.ID), idea.Underlying, st.Label())
	return err
}

func (a *app) audit(ctx context.Context) error {
	report, err := syncer.Audit(ctx, a.store, a.userID)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(a.out, "%d positions (%d active, %d closed, %d ideas, %d locked) across %d accounts\n",
		report.Positions, report.Active, report.Closed, report.Ideas, report.Locked, report.Accounts)
	if len(report.Issues) == 0 {
		_, err = fmt.Fprintln(a.out, "No issues found.")
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "POSITION\tUNDERLYING\tPROBLEM")
	for _, issue := range report.Issues {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", util.ShortID(issue.PositionID), issue.Underlying, issue.Problem)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return fmt.Errorf("%d issues found", len(report.Issues))
}
