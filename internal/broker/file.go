package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Snapshot is the on-disk format read by FileProvider: the account list and
// each account's details keyed by hash.
type Snapshot struct {
	Accounts []AccountNumber           `json:"accounts"`
	Details  map[string]AccountResponse `json:"details"`
}

// FileProvider serves accounts from a JSON snapshot captured from a broker.
type FileProvider struct {
	path string

	mu       sync.RWMutex
	snapshot *Snapshot
}

var _ DataProvider = (*FileProvider)(nil)

// NewFileProvider creates a provider for the snapshot at path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Connect loads the snapshot from disk. Calling it again reloads the file.
func (f *FileProvider) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("failed to read snapshot %s: %w", f.path, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse snapshot %s: %w", f.path, err)
	}
	f.mu.Lock()
	f.snapshot = &snap
	f.mu.Unlock()
	return nil
}

// Close releases the loaded snapshot.
func (f *FileProvider) Close() error {
	f.mu.Lock()
	f.snapshot = nil
	f.mu.Unlock()
	return nil
}

// GetAccountNumbers returns the accounts listed in the snapshot.
func (f *FileProvider) GetAccountNumbers(ctx context.Context) ([]AccountNumber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.snapshot == nil {
		return nil, ErrNotConnected
	}
	out := make([]AccountNumber, len(f.snapshot.Accounts))
	copy(out, f.snapshot.Accounts)
	return out, nil
}

// GetAccount returns the details recorded for hash.
func (f *FileProvider) GetAccount(ctx context.Context, hash string) (*AccountResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.snapshot == nil {
		return nil, ErrNotConnected
	}
	resp, ok := f.snapshot.Details[hash]
	if !ok {
		return nil, &APIError{Status: 404, Body: fmt.Sprintf("account %s not found", hash)}
	}
	resp.SecuritiesAccount.Positions = append([]PositionRecord(nil), resp.SecuritiesAccount.Positions...)
	return &resp, nil
}
