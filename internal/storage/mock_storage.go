package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eddiefleurent/position_sync/internal/models"
)

// MockStorage is an in-memory Interface for tests with error injection and
// call counting.
type MockStorage struct {
	mu             sync.Mutex
	applyError     error
	listError      error
	positions      map[string][]models.Position
	accounts       map[string]map[string]models.AccountSnapshot
	applyCallCount int
	listCallCount  int
	lastDelta      *models.SyncDelta
	now            func() time.Time
}

// NewMockStorage creates a new mock storage for testing
func NewMockStorage() *MockStorage {
	return &MockStorage{
		positions: make(map[string][]models.Position),
		accounts:  make(map[string]map[string]models.AccountSnapshot),
		now:       time.Now,
	}
}

// ListPositions returns copies of the user's positions.
func (m *MockStorage) ListPositions(ctx context.Context, userID string, flavor models.Flavor) ([]models.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCallCount++
	if m.listError != nil {
		return nil, m.listError
	}
	return filterPositions(m.positions[userID], flavor), nil
}

// GetPosition returns a copy of one position.
func (m *MockStorage) GetPosition(ctx context.Context, userID, id string) (*models.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.positions[userID] {
		if p.ID == id {
			c := p.Clone()
			return &c, nil
		}
	}
	return nil, fmt.Errorf("position %s: %w", id, ErrPositionNotFound)
}

// ApplySync records the delta and applies it unless an error is injected.
func (m *MockStorage) ApplySync(ctx context.Context, userID string, delta models.SyncDelta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyCallCount++
	if m.applyError != nil {
		return m.applyError
	}
	if err := validateDelta(userID, delta); err != nil {
		return err
	}
	list := m.positions[userID]
	for _, p := range delta.Positions() {
		list = upsertPosition(list, p)
	}
	m.positions[userID] = list
	if len(delta.Accounts) > 0 && m.accounts[userID] == nil {
		m.accounts[userID] = make(map[string]models.AccountSnapshot)
	}
	for _, a := range delta.Accounts {
		m.accounts[userID][a.Hash] = a
	}
	d := delta
	m.lastDelta = &d
	return nil
}

func (m *MockStorage) mutate(userID, id string, fn func(p *models.Position) error) (*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.positions[userID]
	for i := range list {
		if list[i].ID != id {
			continue
		}
		p := list[i].Clone()
		if err := fn(&p); err != nil {
			return nil, err
		}
		list[i] = p.Clone()
		return &p, nil
	}
	return nil, fmt.Errorf("position %s: %w", id, ErrPositionNotFound)
}

// AssignStrategy pins a strategy type on a position.
func (m *MockStorage) AssignStrategy(ctx context.Context, userID, id string, strategy models.StrategyType) (*models.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, strategy)
	}
	return m.mutate(userID, id, func(p *models.Position) error {
		return p.AssignStrategy(strategy, m.now())
	})
}

// UnlockStrategy clears a manual strategy lock.
func (m *MockStorage) UnlockStrategy(ctx context.Context, userID, id string) (*models.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.mutate(userID, id, func(p *models.Position) error {
		p.UnlockStrategy(m.now())
		return nil
	})
}

// SaveIdea inserts or replaces a trade idea.
func (m *MockStorage) SaveIdea(ctx context.Context, userID string, idea *models.Position) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateIdea(userID, idea); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.positions[userID] {
		if p.ID == idea.ID && p.Flavor != models.FlavorIdea {
			return fmt.Errorf("save idea %s: would overwrite a synced position", idea.ID)
		}
	}
	m.positions[userID] = upsertPosition(m.positions[userID], *idea)
	return nil
}

// ListAccounts returns the user's account snapshots ordered by hash.
func (m *MockStorage) ListAccounts(ctx context.Context, userID string) ([]models.AccountSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedAccounts(m.accounts[userID]), nil
}

// Close is a no-op.
func (m *MockStorage) Close() error { return nil }

// Mock control methods for testing

// SetApplyError makes every ApplySync fail with err.
func (m *MockStorage) SetApplyError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyError = err
}

// SetListError makes every ListPositions fail with err.
func (m *MockStorage) SetListError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listError = err
}

// Seed stores positions directly, bypassing validation.
func (m *MockStorage) Seed(userID string, positions ...models.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range positions {
		m.positions[userID] = upsertPosition(m.positions[userID], p)
	}
}

// GetApplyCallCount returns how many times ApplySync was called.
func (m *MockStorage) GetApplyCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyCallCount
}

// GetListCallCount returns how many times ListPositions was called.
func (m *MockStorage) GetListCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCallCount
}

// LastDelta returns the most recently applied delta, or nil.
func (m *MockStorage) LastDelta() *models.SyncDelta {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastDelta
}
