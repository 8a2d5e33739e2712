package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/eddiefleurent/position_sync/internal/models"
)

// JSONStorage keeps every user's positions in a single JSON file.
type JSONStorage struct {
	mu       sync.RWMutex
	filepath string
	data     *storageData
	now      func() time.Time
}

type storageData struct {
	Users       map[string]*userData `json:"users"`
	LastUpdated time.Time            `json:"last_updated"`
}

type userData struct {
	Positions []models.Position                 `json:"positions"`
	Accounts  map[string]models.AccountSnapshot `json:"accounts"`
}

func (u *userData) clone() *userData {
	c := &userData{
		Positions: make([]models.Position, 0, len(u.Positions)),
		Accounts:  make(map[string]models.AccountSnapshot, len(u.Accounts)),
	}
	for i := range u.Positions {
		c.Positions = append(c.Positions, u.Positions[i].Clone())
	}
	for k, v := range u.Accounts {
		c.Accounts[k] = v
	}
	return c
}

// NewJSONStorage opens the file at path, creating an empty store if it does
// not exist yet.
func NewJSONStorage(path string) (*JSONStorage, error) {
	s := &JSONStorage{
		filepath: path,
		data:     &storageData{Users: make(map[string]*userData)},
		now:      time.Now,
	}

	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat storage file: %w", err)
	}
	return s, nil
}

func (s *JSONStorage) load() error {
	raw, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}
	data := &storageData{}
	if err := json.Unmarshal(raw, data); err != nil {
		return err
	}
	if data.Users == nil {
		data.Users = make(map[string]*userData)
	}
	for _, u := range data.Users {
		if u.Accounts == nil {
			u.Accounts = make(map[string]models.AccountSnapshot)
		}
	}
	s.data = data
	return nil
}

// saveLocked writes the store through a temp file and an atomic rename.
// Callers must hold the write lock.
func (s *JSONStorage) saveLocked() error {
	s.data.LastUpdated = s.now().UTC()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.filepath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
	}

	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpFile, s.filepath); err != nil {
		_ = os.Remove(tmpFile)
		return err
	}
	return nil
}

// commitUser swaps in next for userID and saves, restoring the previous
// state if the write fails.
func (s *JSONStorage) commitUser(userID string, next *userData) error {
	prev, existed := s.data.Users[userID]
	s.data.Users[userID] = next
	if err := s.saveLocked(); err != nil {
		if existed {
			s.data.Users[userID] = prev
		} else {
			delete(s.data.Users, userID)
		}
		return fmt.Errorf("save storage: %w", err)
	}
	return nil
}

func (s *JSONStorage) userCopy(userID string) *userData {
	if u, ok := s.data.Users[userID]; ok {
		return u.clone()
	}
	return &userData{Accounts: make(map[string]models.AccountSnapshot)}
}

// ListPositions returns copies of the user's positions.
func (s *JSONStorage) ListPositions(ctx context.Context, userID string, flavor models.Flavor) ([]models.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.data.Users[userID]
	if !ok {
		return []models.Position{}, nil
	}
	return filterPositions(u.Positions, flavor), nil
}

// GetPosition returns a copy of one position.
func (s *JSONStorage) GetPosition(ctx context.Context, userID, id string) (*models.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if u, ok := s.data.Users[userID]; ok {
		for i := range u.Positions {
			if u.Positions[i].ID == id {
				p := u.Positions[i].Clone()
				return &p, nil
			}
		}
	}
	return nil, fmt.Errorf("position %s: %w", id, ErrPositionNotFound)
}

// ApplySync persists the delta in one file write.
func (s *JSONStorage) ApplySync(ctx context.Context, userID string, delta models.SyncDelta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateDelta(userID, delta); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.userCopy(userID)
	for _, p := range delta.Positions() {
		if err := s.checkOwnerLocked(userID, p.ID); err != nil {
			return err
		}
		next.Positions = upsertPosition(next.Positions, p)
	}
	for _, a := range delta.Accounts {
		next.Accounts[a.Hash] = a
	}
	return s.commitUser(userID, next)
}

// checkOwnerLocked fails if id is already stored under another user.
func (s *JSONStorage) checkOwnerLocked(userID, id string) error {
	for other, u := range s.data.Users {
		if other == userID {
			continue
		}
		for i := range u.Positions {
			if u.Positions[i].ID == id {
				return fmt.Errorf("position %s belongs to another user", id)
			}
		}
	}
	return nil
}

func (s *JSONStorage) mutate(ctx context.Context, userID, id string, fn func(p *models.Position) error) (*models.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.userCopy(userID)
	for i := range next.Positions {
		if next.Positions[i].ID != id {
			continue
		}
		if err := fn(&next.Positions[i]); err != nil {
			return nil, err
		}
		if err := s.commitUser(userID, next); err != nil {
			return nil, err
		}
		p := next.Positions[i].Clone()
		return &p, nil
	}
	return nil, fmt.Errorf("position %s: %w", id, ErrPositionNotFound)
}

// AssignStrategy pins a strategy type on a position.
func (s *JSONStorage) AssignStrategy(ctx context.Context, userID, id string, strategy models.StrategyType) (*models.Position, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, strategy)
	}
	return s.mutate(ctx, userID, id, func(p *models.Position) error {
		return p.AssignStrategy(strategy, s.now())
	})
}

// UnlockStrategy clears a manual strategy lock.
func (s *JSONStorage) UnlockStrategy(ctx context.Context, userID, id string) (*models.Position, error) {
	return s.mutate(ctx, userID, id, func(p *models.Position) error {
		p.UnlockStrategy(s.now())
		return nil
	})
}

// SaveIdea inserts or replaces a trade idea.
func (s *JSONStorage) SaveIdea(ctx context.Context, userID string, idea *models.Position) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateIdea(userID, idea); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOwnerLocked(userID, idea.ID); err != nil {
		return err
	}
	next := s.userCopy(userID)
	for i := range next.Positions {
		if next.Positions[i].ID == idea.ID && next.Positions[i].Flavor != models.FlavorIdea {
			return fmt.Errorf("save idea %s: would overwrite a synced position", idea.ID)
		}
	}
	next.Positions = upsertPosition(next.Positions, *idea)
	return s.commitUser(userID, next)
}

// ListAccounts returns the user's account snapshots ordered by hash.
func (s *JSONStorage) ListAccounts(ctx context.Context, userID string) ([]models.AccountSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.data.Users[userID]
	if !ok {
		return []models.AccountSnapshot{}, nil
	}
	return sortedAccounts(u.Accounts), nil
}

// Close is a no-op; every mutation is already on disk.
func (s *JSONStorage) Close() error { return nil }
