package syncer

import (
	"context"
	"fmt"

	"github.com/eddiefleurent/position_sync/internal/models"
	"github.com/eddiefleurent/position_sync/internal/signature"
	"github.com/eddiefleurent/position_sync/internal/util"
	"github.com/sirupsen/logrus"
)

// RegenerateSignatures recomputes the signature of every stored actual
// position from its stored legs and persists the ones that changed. It
// returns the number of positions updated.
func (s *Service) RegenerateSignatures(ctx context.Context, userID string) (int, error) {
	release, err := s.lockUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	defer release()

	positions, err := s.store.ListPositions(ctx, userID, models.FlavorActual)
	if err != nil {
		return 0, fmt.Errorf("loading positions: %w", err)
	}

	now := s.opts.Now().UTC()
	var delta models.SyncDelta
	for i := range positions {
		p := &positions[i]
		sig := signature.ForPosition(p)
		if sig == p.Signature {
			continue
		}
		s.logger.WithFields(logrus.Fields{
			"user":     userID,
			"position": util.ShortID(p.ID),
			"old":      util.ShortID(p.Signature),
			"new":      util.ShortID(sig),
		}).Info("regenerated position signature")
		p.Signature = sig
		p.UpdatedAt = now
		delta.Updated = append(delta.Updated, p.Clone())
	}

	if delta.IsEmpty() {
		return 0, nil
	}
	if err := s.store.ApplySync(ctx, userID, delta); err != nil {
		return 0, fmt.Errorf("persisting signatures: %w", err)
	}
	return len(delta.Updated), nil
}

// AssignStrategy locks a position to a user-chosen strategy type.
func (s *Service) AssignStrategy(ctx context.Context, userID, positionID string, strategy models.StrategyType) (*models.Position, error) {
	release, err := s.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := s.store.AssignStrategy(ctx, userID, positionID, strategy)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"user":     userID,
		"position": util.ShortID(p.ID),
		"strategy": p.StrategyType,
	}).Info("strategy locked")
	return p, nil
}

// UnlockStrategy releases a manual lock so the next sync may reclassify.
func (s *Service) UnlockStrategy(ctx context.Context, userID, positionID string) (*models.Position, error) {
	release, err := s.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := s.store.UnlockStrategy(ctx, userID, positionID)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"user":     userID,
		"position": util.ShortID(p.ID),
	}).Info("strategy unlocked")
	return p, nil
}

// ListPositions returns the user's stored positions of the given flavor.
func (s *Service) ListPositions(ctx context.Context, userID string, flavor models.Flavor) ([]models.Position, error) {
	return s.store.ListPositions(ctx, userID, flavor)
}

// ListAccounts returns the user's latest account snapshots.
func (s *Service) ListAccounts(ctx context.Context, userID string) ([]models.AccountSnapshot, error) {
	return s.store.ListAccounts(ctx, userID)
}
