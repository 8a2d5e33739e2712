package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/eddiefleurent/position_sync/internal/models"
)

// Interface defines the contract for position and account persistence.
//
// Implementations must be safe for concurrent use. ApplySync must be atomic:
// either the whole delta is persisted or none of it is. Positions with
// flavor=actual are never deleted by any method.
type Interface interface {
	// ListPositions returns the user's positions in insertion order. An empty
	// flavor returns every position.
	ListPositions(ctx context.Context, userID string, flavor models.Flavor) ([]models.Position, error)
	GetPosition(ctx context.Context, userID, id string) (*models.Position, error)

	// ApplySync persists a reconciliation delta and its account snapshots.
	ApplySync(ctx context.Context, userID string, delta models.SyncDelta) error

	// Manual strategy overrides
	AssignStrategy(ctx context.Context, userID, id string, strategy models.StrategyType) (*models.Position, error)
	UnlockStrategy(ctx context.Context, userID, id string) (*models.Position, error)

	SaveIdea(ctx context.Context, userID string, idea *models.Position) error
	ListAccounts(ctx context.Context, userID string) ([]models.AccountSnapshot, error)

	Close() error
}

// Backend names accepted by NewStorage.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// NewStorage creates a storage implementation for the named backend.
func NewStorage(backend, path string) (Interface, error) {
	switch backend {
	case BackendJSON, "":
		return NewJSONStorage(path)
	case BackendSQLite:
		return NewSQLiteStorage(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// validateDelta rejects deltas that would write foreign, non-actual or
// internally inconsistent positions.
func validateDelta(userID string, delta models.SyncDelta) error {
	if userID == "" {
		return fmt.Errorf("apply sync: empty user id")
	}
	for _, p := range delta.Positions() {
		if p.UserID != userID {
			return fmt.Errorf("apply sync: position %s belongs to user %q, not %q", p.ID, p.UserID, userID)
		}
		if p.Flavor != models.FlavorActual {
			return fmt.Errorf("apply sync: position %s has flavor %s", p.ID, p.Flavor)
		}
		if err := p.ValidateState(); err != nil {
			return fmt.Errorf("apply sync: %w", err)
		}
	}
	for _, p := range delta.Closed {
		if p.Status != models.StatusClosed {
			return fmt.Errorf("apply sync: closed position %s has status %s", p.ID, p.Status)
		}
	}
	for _, a := range delta.Accounts {
		if a.Hash == "" {
			return fmt.Errorf("apply sync: account snapshot with empty hash")
		}
	}
	return nil
}

// validateIdea checks an idea before it is stored.
func validateIdea(userID string, idea *models.Position) error {
	if idea == nil {
		return fmt.Errorf("save idea: nil position")
	}
	if idea.Flavor != models.FlavorIdea {
		return fmt.Errorf("save idea %s: %w", idea.ID, ErrNotIdea)
	}
	if idea.UserID != userID {
		return fmt.Errorf("save idea %s: belongs to user %q, not %q", idea.ID, idea.UserID, userID)
	}
	return idea.ValidateState()
}

// upsertPosition replaces the position with the same ID or appends it.
func upsertPosition(list []models.Position, p models.Position) []models.Position {
	for i := range list {
		if list[i].ID == p.ID {
			list[i] = p.Clone()
			return list
		}
	}
	return append(list, p.Clone())
}

func filterPositions(list []models.Position, flavor models.Flavor) []models.Position {
	out := make([]models.Position, 0, len(list))
	for i := range list {
		if flavor == "" || list[i].Flavor == flavor {
			out = append(out, list[i].Clone())
		}
	}
	return out
}

func sortedAccounts(accounts map[string]models.AccountSnapshot) []models.AccountSnapshot {
	out := make([]models.AccountSnapshot, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out
}

// Ensure implementations satisfy Interface
var (
	_ Interface = (*JSONStorage)(nil)
	_ Interface = (*SQLiteStorage)(nil)
	_ Interface = (*MockStorage)(nil)
)
