package syncer

import (
	"context"
	"fmt"

	"github.com/eddiefleurent/position_sync/internal/models"
	"github.com/eddiefleurent/position_sync/internal/signature"
	"github.com/eddiefleurent/position_sync/internal/storage"
	"github.com/eddiefleurent/position_sync/internal/util"
)

// AuditIssue describes one inconsistency found in stored state.
type AuditIssue struct {
	PositionID string
	Underlying string
	Problem    string
}

// AuditReport summarizes the stored state of one user.
type AuditReport struct {
	Positions int
	Active    int
	Closed    int
	Ideas     int
	Locked    int
	Accounts  int
	Issues    []AuditIssue
}

// Audit checks a user's stored positions without touching the broker. It
// reports positions in an invalid state, stale signatures, legs that do not
// belong to their position, and active positions whose account has no
// snapshot.
func Audit(ctx context.Context, store storage.Interface, userID string) (*AuditReport, error) {
	positions, err := store.ListPositions(ctx, userID, "")
	if err != nil {
		return nil, fmt.Errorf("loading positions: %w", err)
	}
	accounts, err := store.ListAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading accounts: %w", err)
	}
	known := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		known[a.Hash] = true
	}

	report := &AuditReport{Positions: len(positions), Accounts: len(accounts)}
	for i := range positions {
		p := &positions[i]
		issue := func(format string, args ...any) {
			report.Issues = append(report.Issues, AuditIssue{
				PositionID: p.ID,
				Underlying: p.Underlying,
				Problem:    fmt.Sprintf(format, args...),
			})
		}

		if p.IsManualStrategy {
			report.Locked++
		}
		if err := p.ValidateState(); err != nil {
			issue("invalid state: %v", err)
		}
		if p.Flavor == models.FlavorIdea {
			report.Ideas++
			continue
		}

		switch p.Status {
		case models.StatusActive:
			report.Active++
			if len(p.Legs) == 0 {
				issue("active position has no legs")
			}
			if !known[p.AccountID] {
				issue("no snapshot for account %s", p.AccountNumber)
			}
		case models.StatusClosed:
			report.Closed++
		}

		for _, leg := range p.Legs {
			if leg.Underlying != p.Underlying || leg.AccountID != p.AccountID {
				issue("leg %s (%s, account %s) does not belong to the position", leg.Symbol, leg.Underlying, leg.AccountNumber)
			}
		}
		if len(p.Legs) > 0 {
			if sig := signature.ForPosition(p); sig != p.Signature {
				issue("stale signature %s, legs sign as %s", util.ShortID(p.Signature), util.ShortID(sig))
			}
		}
	}
	return report, nil
}
