package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eddiefleurent/position_sync/internal/models"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaDDL string

const upsertPositionSQL = `
INSERT INTO positions (id, user_id, flavor, status, underlying, account_id, strategy_type,
                       is_manual_strategy, signature, payload, updated_at_utc)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    flavor             = excluded.flavor,
    status             = excluded.status,
    underlying         = excluded.underlying,
    account_id         = excluded.account_id,
    strategy_type      = excluded.strategy_type,
    is_manual_strategy = excluded.is_manual_strategy,
    signature          = excluded.signature,
    payload            = excluded.payload,
    updated_at_utc     = excluded.updated_at_utc
WHERE positions.user_id = excluded.user_id`

const upsertAccountSQL = `
INSERT INTO account_snapshots (user_id, hash, payload, last_synced_utc)
VALUES (?, ?, ?, ?)
ON CONFLICT (user_id, hash) DO UPDATE SET
    payload         = excluded.payload,
    last_synced_utc = excluded.last_synced_utc`

// SQLiteStorage persists positions in a SQLite database. Each position is
// stored as a JSON payload next to the columns used for filtering.
type SQLiteStorage struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// NewSQLiteStorage opens (or creates) the database at path and applies the schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	return &SQLiteStorage{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertPositionRow(ctx context.Context, q queryer, p models.Position) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode position %s: %w", p.ID, err)
	}
	res, err := q.ExecContext(ctx, upsertPositionSQL,
		p.ID, p.UserID, string(p.Flavor), string(p.Status), p.Underlying, p.AccountID,
		string(p.StrategyType), p.IsManualStrategy, p.Signature, raw, p.UpdatedAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert position %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("upsert position %s: %w", p.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("position %s belongs to another user", p.ID)
	}
	return nil
}

func getPositionRow(ctx context.Context, q queryer, userID, id string) (*models.Position, error) {
	var raw []byte
	err := q.QueryRowContext(ctx, `SELECT payload FROM positions WHERE user_id = ? AND id = ?`, userID, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("position %s: %w", id, ErrPositionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load position %s: %w", id, err)
	}
	var p models.Position
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode position %s: %w", id, err)
	}
	return &p, nil
}

// ListPositions returns the user's positions in insertion order.
func (s *SQLiteStorage) ListPositions(ctx context.Context, userID string, flavor models.Flavor) ([]models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT payload FROM positions WHERE user_id = ? ORDER BY seq`
	args := []any{userID}
	if flavor != "" {
		query = `SELECT payload FROM positions WHERE user_id = ? AND flavor = ? ORDER BY seq`
		args = append(args, string(flavor))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.Position{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		var p models.Position
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPosition returns one position.
func (s *SQLiteStorage) GetPosition(ctx context.Context, userID, id string) (*models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getPositionRow(ctx, s.db, userID, id)
}

// withTx runs fn in a transaction, rolling back on any error.
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ApplySync persists the delta in a single transaction.
func (s *SQLiteStorage) ApplySync(ctx context.Context, userID string, delta models.SyncDelta) error {
	if err := validateDelta(userID, delta); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, p := range delta.Positions() {
			if err := upsertPositionRow(ctx, tx, p); err != nil {
				return err
			}
		}
		for _, a := range delta.Accounts {
			raw, err := json.Marshal(a)
			if err != nil {
				return fmt.Errorf("encode account %s: %w", a.Hash, err)
			}
			if _, err := tx.ExecContext(ctx, upsertAccountSQL, userID, a.Hash, raw, a.LastSynced.UTC().UnixMilli()); err != nil {
				return fmt.Errorf("upsert account %s: %w", a.Hash, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStorage) mutate(ctx context.Context, userID, id string, fn func(p *models.Position) error) (*models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out *models.Position
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := getPositionRow(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		if err := upsertPositionRow(ctx, tx, *p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AssignStrategy pins a strategy type on a position.
func (s *SQLiteStorage) AssignStrategy(ctx context.Context, userID, id string, strategy models.StrategyType) (*models.Position, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, strategy)
	}
	return s.mutate(ctx, userID, id, func(p *models.Position) error {
		return p.AssignStrategy(strategy, s.now())
	})
}

// UnlockStrategy clears a manual strategy lock.
func (s *SQLiteStorage) UnlockStrategy(ctx context.Context, userID, id string) (*models.Position, error) {
	return s.mutate(ctx, userID, id, func(p *models.Position) error {
		p.UnlockStrategy(s.now())
		return nil
	})
}

// SaveIdea inserts or replaces a trade idea.
func (s *SQLiteStorage) SaveIdea(ctx context.Context, userID string, idea *models.Position) error {
	if err := validateIdea(userID, idea); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var flavor string
		err := tx.QueryRowContext(ctx, `SELECT flavor FROM positions WHERE id = ?`, idea.ID).Scan(&flavor)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("load idea %s: %w", idea.ID, err)
		case flavor != string(models.FlavorIdea):
			return fmt.Errorf("save idea %s: would overwrite a synced position", idea.ID)
		}
		return upsertPositionRow(ctx, tx, *idea)
	})
}

// ListAccounts returns the user's account snapshots ordered by hash.
func (s *SQLiteStorage) ListAccounts(ctx context.Context, userID string) ([]models.AccountSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM account_snapshots WHERE user_id = ? ORDER BY hash`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.AccountSnapshot{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		var a models.AccountSnapshot
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
