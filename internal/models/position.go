package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Flavor distinguishes broker-synced positions from user-authored ideas.
type Flavor string

const (
	// FlavorActual is a position synced from a brokerage account
	FlavorActual Flavor = "actual"
	// FlavorIdea is a user-authored trade idea
	FlavorIdea Flavor = "idea"
)

// Valid returns true if the Flavor is one of the defined constants
func (f Flavor) Valid() bool {
	switch f {
	case FlavorActual, FlavorIdea:
		return true
	default:
		return false
	}
}

// PositionKey is the primary reconciliation key.
type PositionKey struct {
	Underlying   string
	AccountID    string
	StrategyType StrategyType
}

func (k PositionKey) String() string {
	return k.Underlying + "/" + k.AccountID + "/" + string(k.StrategyType)
}

// Position is the durable identity of a strategy group across syncs.
type Position struct {
	ID               string       `json:"id"`
	UserID           string       `json:"user_id"`
	Flavor           Flavor       `json:"flavor"`
	Underlying       string       `json:"underlying"`
	AccountID        string       `json:"account_id"`
	AccountNumber    string       `json:"account_number,omitempty"`
	StrategyType     StrategyType `json:"strategy_type"`
	IsManualStrategy bool         `json:"is_manual_strategy"`
	Signature        string       `json:"schwab_position_signature"`
	Status           Status       `json:"status"`

	Quantity               decimal.Decimal     `json:"quantity"`
	CostBasis              decimal.Decimal     `json:"cost_basis"`
	CurrentValue           decimal.Decimal     `json:"current_value"`
	UnrealizedPnL          decimal.Decimal     `json:"unrealized_pnl"`
	MaintenanceRequirement decimal.Decimal     `json:"maintenance_requirement"`
	CurrentDayPnL          decimal.Decimal     `json:"current_day_pnl"`
	CurrentDayPnLPct       decimal.NullDecimal `json:"current_day_pnl_pct"`

	EntryDate  time.Time `json:"entry_date,omitempty"`
	ExitDate   time.Time `json:"exit_date,omitempty"`
	LastSynced time.Time `json:"last_synced,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	Legs []Leg `json:"legs"`
}

// NewPositionFromGroup creates an active, unlocked actual position from a group.
func NewPositionFromGroup(id, userID string, g StrategyGroup, now time.Time) *Position {
	p := &Position{
		ID:           id,
		UserID:       userID,
		Flavor:       FlavorActual,
		Underlying:   g.Underlying,
		AccountID:    g.AccountID,
		StrategyType: g.StrategyType,
		Status:       StatusActive,
		EntryDate:    TruncateToDate(now),
		CreatedAt:    now.UTC(),
	}
	if len(g.Legs) > 0 {
		p.AccountNumber = g.Legs[0].AccountNumber
	}
	p.applyLegs(g, now)
	return p
}

// NewIdea creates a planned trade idea. Ideas never take part in reconciliation.
func NewIdea(id, userID, underlying string, strategy StrategyType, legs []Leg, now time.Time) *Position {
	p := &Position{
		ID:           id,
		UserID:       userID,
		Flavor:       FlavorIdea,
		Underlying:   underlying,
		StrategyType: strategy,
		Status:       StatusPlanned,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
		Legs:         CloneLegs(legs),
	}
	p.setTotals(ComputeTotals(legs))
	return p
}

// Key returns the reconciliation key of the position.
func (p *Position) Key() PositionKey {
	return PositionKey{Underlying: p.Underlying, AccountID: p.AccountID, StrategyType: p.StrategyType}
}

// RefreshFromGroup replaces legs, aggregates and signature from a freshly
// detected group and marks the position active. The strategy type is only
// replaced when the position is not manually locked.
func (p *Position) RefreshFromGroup(g StrategyGroup, now time.Time) error {
	condition := ConditionSynced
	if p.Status != StatusActive {
		condition = ConditionReappeared
	}
	if err := p.TransitionStatus(StatusActive, condition, now); err != nil {
		return err
	}
	if !p.IsManualStrategy {
		p.StrategyType = g.StrategyType
	}
	if len(g.Legs) > 0 && g.Legs[0].AccountNumber != "" {
		p.AccountNumber = g.Legs[0].AccountNumber
	}
	p.applyLegs(g, now)
	return nil
}

func (p *Position) applyLegs(g StrategyGroup, now time.Time) {
	p.Legs = CloneLegs(g.Legs)
	p.Signature = g.Signature
	p.setTotals(ComputeTotals(g.Legs))
	p.LastSynced = now.UTC()
	p.UpdatedAt = now.UTC()
}

func (p *Position) setTotals(t Totals) {
	p.Quantity = t.Quantity
	p.CostBasis = t.CostBasis
	p.CurrentValue = t.CurrentValue
	p.UnrealizedPnL = t.UnrealizedPnL
	p.MaintenanceRequirement = t.MaintenanceRequirement
	p.CurrentDayPnL = t.CurrentDayPnL
	p.CurrentDayPnLPct = t.CurrentDayPnLPct
}

// AssignStrategy pins a user-chosen strategy type against reclassification.
func (p *Position) AssignStrategy(s StrategyType, now time.Time) error {
	if !s.Valid() {
		return fmt.Errorf("position %s: invalid strategy type %q", p.ID, s)
	}
	p.StrategyType = s
	p.IsManualStrategy = true
	p.UpdatedAt = now.UTC()
	return nil
}

// UnlockStrategy clears the manual lock so the next sync may reclassify.
func (p *Position) UnlockStrategy(now time.Time) {
	p.IsManualStrategy = false
	p.UpdatedAt = now.UTC()
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() Position {
	c := *p
	c.Legs = CloneLegs(p.Legs)
	return c
}

// ValidateState ensures the position is consistent with its status and flavor.
func (p *Position) ValidateState() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("position has empty id")
	}
	if !p.Flavor.Valid() {
		return fmt.Errorf("position %s: invalid flavor %q", p.ID, p.Flavor)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("position %s: invalid status %q", p.ID, p.Status)
	}
	if !p.StrategyType.Valid() {
		return fmt.Errorf("position %s: invalid strategy type %q", p.ID, p.StrategyType)
	}

	switch p.Status {
	case StatusActive:
		if !p.ExitDate.IsZero() {
			return fmt.Errorf("position %s in state %s: ExitDate must be zero for active positions (current: %v)",
				p.ID, p.Status, p.ExitDate)
		}
	case StatusClosed:
		if p.ExitDate.IsZero() {
			return fmt.Errorf("position %s in state %s: ExitDate must be set for closed positions", p.ID, p.Status)
		}
		if !p.EntryDate.IsZero() && p.ExitDate.Before(p.EntryDate) {
			return fmt.Errorf("position %s in state %s: EntryDate (%v) must not be after ExitDate (%v)",
				p.ID, p.Status, p.EntryDate, p.ExitDate)
		}
	case StatusPlanned:
		if p.Flavor != FlavorIdea {
			return fmt.Errorf("position %s in state %s: only ideas can be planned", p.ID, p.Status)
		}
	}
	return nil
}

// TruncateToDate drops the clock part of t in UTC.
func TruncateToDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
