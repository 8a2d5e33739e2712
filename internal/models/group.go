package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// StrategyGroup is a transient classification unit produced by the detector.
// All legs share Underlying and AccountID.
type StrategyGroup struct {
	Underlying   string       `json:"underlying"`
	AccountID    string       `json:"account_id"`
	StrategyType StrategyType `json:"strategy_type"`
	Legs         []Leg        `json:"legs"`
	// Signature is attached after detection; empty until signed.
	Signature string `json:"signature,omitempty"`
}

// Totals holds the aggregate values derived from a set of legs.
type Totals struct {
	Quantity               decimal.Decimal
	CostBasis              decimal.Decimal
	CurrentValue           decimal.Decimal
	UnrealizedPnL          decimal.Decimal
	MaintenanceRequirement decimal.Decimal
	CurrentDayPnL          decimal.Decimal
	// CurrentDayPnLPct is null when CostBasis is zero.
	CurrentDayPnLPct decimal.NullDecimal
}

// ComputeTotals aggregates legs: signed sums for money, absolute sum for
// quantity, nulls treated as zero.
func ComputeTotals(legs []Leg) Totals {
	var t Totals
	for _, leg := range legs {
		t.Quantity = t.Quantity.Add(leg.Quantity.Abs())
		t.CostBasis = t.CostBasis.Add(leg.CostBasis)
		t.CurrentValue = t.CurrentValue.Add(leg.CurrentValue)
		if leg.MaintenanceRequirement.Valid {
			t.MaintenanceRequirement = t.MaintenanceRequirement.Add(leg.MaintenanceRequirement.Decimal)
		}
		if leg.CurrentDayPnL.Valid {
			t.CurrentDayPnL = t.CurrentDayPnL.Add(leg.CurrentDayPnL.Decimal)
		}
	}
	t.UnrealizedPnL = t.CurrentValue.Sub(t.CostBasis)
	if !t.CostBasis.IsZero() {
		t.CurrentDayPnLPct = decimal.NewNullDecimal(t.CurrentDayPnL.Div(t.CostBasis).Mul(hundred))
	}
	return t
}

// Totals returns the group aggregates.
func (g *StrategyGroup) Totals() Totals {
	return ComputeTotals(g.Legs)
}

// Key returns the reconciliation key of the group.
func (g *StrategyGroup) Key() PositionKey {
	return PositionKey{Underlying: g.Underlying, AccountID: g.AccountID, StrategyType: g.StrategyType}
}

// Validate checks that every leg belongs to the group's underlying and account.
func (g *StrategyGroup) Validate() error {
	if len(g.Legs) == 0 {
		return fmt.Errorf("group %s/%s/%s has no legs", g.Underlying, g.AccountID, g.StrategyType)
	}
	if !g.StrategyType.IsAutoDetected() {
		return fmt.Errorf("group %s/%s has non-detectable strategy type %q", g.Underlying, g.AccountID, g.StrategyType)
	}
	for _, leg := range g.Legs {
		if leg.Underlying != g.Underlying {
			return fmt.Errorf("group %s contains leg %s with underlying %s",
				g.Underlying, leg.Symbol, leg.Underlying)
		}
		if leg.AccountID != g.AccountID {
			return fmt.Errorf("group %s/%s contains leg %s from account %s",
				g.Underlying, g.AccountID, leg.Symbol, leg.AccountID)
		}
	}
	return nil
}

// CountLegs returns the number of legs across groups.
func CountLegs(groups []StrategyGroup) int {
	n := 0
	for i := range groups {
		n += len(groups[i].Legs)
	}
	return n
}
