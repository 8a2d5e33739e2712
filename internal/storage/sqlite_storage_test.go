package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/eddiefleurent/position_sync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStorage_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "positions.db")

	first, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	require.NoError(t, first.ApplySync(ctx, "user1", models.SyncDelta{
		Created: []models.Position{newActual("pos-a", "user1", "AAPL"), newActual("pos-b", "user1", "MSFT")},
	}))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	positions, err := second.ListPositions(ctx, "user1", models.FlavorActual)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, "pos-a", positions[0].ID)
	assert.Equal(t, "pos-b", positions[1].ID)
	assert.Equal(t, "sig-AAPL", positions[0].Signature)
}

func TestSQLiteStorage_ApplySyncIsAtomic(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "positions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplySync(ctx, "user2", models.SyncDelta{Created: []models.Position{newActual("taken", "user2", "SPY")}}))

	// The second position collides with another user's row, so the whole
	// transaction must roll back.
	err = s.ApplySync(ctx, "user1", models.SyncDelta{Created: []models.Position{
		newActual("pos-a", "user1", "AAPL"),
		newActual("taken", "user1", "SPY"),
	}})
	require.Error(t, err)

	positions, err := s.ListPositions(ctx, "user1", "")
	require.NoError(t, err)
	assert.Empty(t, positions)

	theirs, err := s.GetPosition(ctx, "user2", "taken")
	require.NoError(t, err)
	assert.Equal(t, "user2", theirs.UserID)
}
