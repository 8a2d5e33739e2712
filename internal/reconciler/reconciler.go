// Package reconciler merges freshly detected strategy groups into a user's
// persisted positions, producing the create/update/close delta for one sync.
package reconciler

import (
	"fmt"
	"io"
	"time"

	"github.com/eddiefleurent/position_sync/internal/models"
	"github.com/eddiefleurent/position_sync/internal/signature"
	"github.com/eddiefleurent/position_sync/internal/util"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Options injects the clock and ID generator.
type Options struct {
	Now   func() time.Time
	NewID func() string
}

// Reconciler handles position synchronization between detected groups and storage
type Reconciler struct {
	logger logrus.FieldLogger
	now    func() time.Time
	newID  func() string
}

// New creates a Reconciler. Zero options fall back to the wall clock and
// random UUIDs; a nil logger discards output.
func New(logger logrus.FieldLogger, opts Options) *Reconciler {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	return &Reconciler{logger: logger, now: opts.Now, newID: opts.NewID}
}

// Result is the outcome of one reconciliation pass.
type Result struct {
	Delta models.SyncDelta
	// Skipped counts existing positions ignored because they are not actual positions.
	Skipped int
	// Revived counts closed positions matched again and made active.
	Revived int
}

// candidate is an existing position eligible for matching.
type candidate struct {
	pos      models.Position
	consumed bool
}

func (c *candidate) active() bool { return c.pos.Status == models.StatusActive }

// Reconcile matches groups against existing actual positions, active or
// closed. Ideas are ignored. Inputs are not modified.
//
// For each group, in order:
//  1. a locked position on the same underlying and account with a matching
//     signature is refreshed, keeping its strategy type and lock;
//  2. otherwise an unlocked position with the same (underlying, account,
//     strategy type) key is refreshed. Active positions are preferred over
//     closed ones, then a matching signature;
//  3. otherwise a new position is created.
//
// A matched closed position becomes active again. Every active candidate
// left unconsumed is closed as of today; closed ones keep their exit date.
func (r *Reconciler) Reconcile(userID string, groups []models.StrategyGroup, existing []models.Position) (*Result, error) {
	now := r.now()
	res := &Result{}

	var cands []*candidate
	byKey := make(map[models.PositionKey][]*candidate)
	var locked []*candidate
	for i := range existing {
		p := &existing[i]
		if p.Flavor != models.FlavorActual {
			res.Skipped++
			continue
		}
		c := &candidate{pos: p.Clone()}
		cands = append(cands, c)
		if p.IsManualStrategy {
			locked = append(locked, c)
		} else {
			byKey[p.Key()] = append(byKey[p.Key()], c)
		}
	}

	for i := range groups {
		g := groups[i]
		if err := g.Validate(); err != nil {
			return nil, fmt.Errorf("invalid strategy group: %w", err)
		}
		log := r.logger.WithFields(logrus.Fields{
			"user":       userID,
			"underlying": g.Underlying,
			"account":    g.AccountID,
			"strategy":   g.StrategyType,
		})

		c := matchLocked(locked, g)
		if c == nil {
			c = matchKey(byKey[g.Key()], g)
		}
		if c == nil {
			p := models.NewPositionFromGroup(r.newID(), userID, g, now)
			res.Delta.Created = append(res.Delta.Created, *p)
			log.WithField("position", util.ShortID(p.ID)).Info("created position")
			continue
		}

		c.consumed = true
		revived := !c.active()
		if err := c.pos.RefreshFromGroup(g, now); err != nil {
			return nil, fmt.Errorf("failed to refresh position %s: %w", c.pos.ID, err)
		}
		res.Delta.Updated = append(res.Delta.Updated, c.pos.Clone())
		if revived {
			res.Revived++
			log.WithField("position", util.ShortID(c.pos.ID)).Info("reopened closed position")
			continue
		}
		log.WithFields(logrus.Fields{
			"position": util.ShortID(c.pos.ID),
			"locked":   c.pos.IsManualStrategy,
		}).Debug("updated position")
	}

	for _, c := range cands {
		if c.consumed || !c.active() {
			continue
		}
		if err := c.pos.Close(now); err != nil {
			return nil, fmt.Errorf("failed to close position %s: %w", c.pos.ID, err)
		}
		res.Delta.Closed = append(res.Delta.Closed, c.pos.Clone())
		r.logger.WithFields(logrus.Fields{
			"user":       userID,
			"position":   util.ShortID(c.pos.ID),
			"underlying": c.pos.Underlying,
			"strategy":   c.pos.StrategyType,
		}).Info("closed position no longer reported by broker")
	}

	r.logger.WithFields(logrus.Fields{
		"user":    userID,
		"groups":  len(groups),
		"created": len(res.Delta.Created),
		"updated": len(res.Delta.Updated),
		"revived": res.Revived,
		"closed":  len(res.Delta.Closed),
	}).Info("reconciliation complete")
	return res, nil
}

// matchLocked finds an unconsumed locked position with the group's signature
// on the same underlying and account, preferring an active one.
func matchLocked(locked []*candidate, g models.StrategyGroup) *candidate {
	var closed *candidate
	for _, c := range locked {
		if c.consumed || c.pos.Underlying != g.Underlying || c.pos.AccountID != g.AccountID {
			continue
		}
		if !signature.Match(c.pos.Signature, g.Signature) {
			continue
		}
		if c.active() {
			return c
		}
		if closed == nil {
			closed = c
		}
	}
	return closed
}

// matchKey picks among unconsumed same-key positions in this order: active
// with a matching signature, any active, closed with a matching signature,
// any closed.
func matchKey(cands []*candidate, g models.StrategyGroup) *candidate {
	var best *candidate
	bestRank := 0
	for _, c := range cands {
		if c.consumed {
			continue
		}
		rank := 1
		if signature.Match(c.pos.Signature, g.Signature) {
			rank++
		}
		if c.active() {
			rank += 2
		}
		if rank > bestRank {
			best, bestRank = c, rank
		}
	}
	return best
}
