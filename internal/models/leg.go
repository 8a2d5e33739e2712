// Package models provides the data structures shared by the sync pipeline:
// normalized legs, strategy groups, persisted positions and their lifecycle.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical date format used for expirations and lifecycle dates.
const DateLayout = "2006-01-02"

var (
	optionMultiplier = decimal.NewFromInt(100)
	stockMultiplier  = decimal.NewFromInt(1)
)

// AssetType identifies which variant a Leg holds.
type AssetType string

const (
	// AssetStock is an equity, ETF or preferred share lot
	AssetStock AssetType = "stock"
	// AssetOption is a listed option contract
	AssetOption AssetType = "option"
)

// Valid returns true if the AssetType is one of the defined constants
func (a AssetType) Valid() bool {
	switch a {
	case AssetStock, AssetOption:
		return true
	default:
		return false
	}
}

// OptionType is the right conveyed by an option contract.
type OptionType string

const (
	// OptionCall represents a call option contract
	OptionCall OptionType = "call"
	// OptionPut represents a put option contract
	OptionPut OptionType = "put"
)

// Valid returns true if the OptionType is one of the defined constants
func (o OptionType) Valid() bool {
	switch o {
	case OptionCall, OptionPut:
		return true
	default:
		return false
	}
}

// OptionDetails holds the fields that only exist for option legs.
type OptionDetails struct {
	Type       OptionType      `json:"option_type"`
	Strike     decimal.Decimal `json:"strike"`
	Expiration time.Time       `json:"expiration"`
}

// ExpirationKey returns the expiration formatted as YYYY-MM-DD.
func (o *OptionDetails) ExpirationKey() string {
	return o.Expiration.Format(DateLayout)
}

// Leg is one tradable instrument inside a position. Option is set if and only
// if AssetType is AssetOption.
type Leg struct {
	AssetType     AssetType      `json:"asset_type"`
	Symbol        string         `json:"symbol"`
	Underlying    string         `json:"underlying"`
	AccountID     string         `json:"account_id"`
	AccountNumber string         `json:"account_number,omitempty"`
	AccountType   string         `json:"account_type,omitempty"`
	Option        *OptionDetails `json:"option,omitempty"`

	// Quantity is signed: positive long, negative short.
	Quantity     decimal.Decimal `json:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	// CostBasis is signed: positive debit paid, negative credit received.
	CostBasis     decimal.Decimal `json:"cost_basis"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`

	MaintenanceRequirement decimal.NullDecimal `json:"maintenance_requirement"`
	CurrentDayPnL          decimal.NullDecimal `json:"current_day_pnl"`
	CurrentDayPnLPct       decimal.NullDecimal `json:"current_day_pnl_pct"`
}

// IsOption reports whether the leg is an option contract.
func (l Leg) IsOption() bool { return l.AssetType == AssetOption }

// IsStock reports whether the leg is an equity lot.
func (l Leg) IsStock() bool { return l.AssetType == AssetStock }

// IsLong reports whether the leg has positive quantity.
func (l Leg) IsLong() bool { return l.Quantity.IsPositive() }

// IsShort reports whether the leg has negative quantity.
func (l Leg) IsShort() bool { return l.Quantity.IsNegative() }

// IsCall reports whether the leg is a call option.
func (l Leg) IsCall() bool { return l.IsOption() && l.Option != nil && l.Option.Type == OptionCall }

// IsPut reports whether the leg is a put option.
func (l Leg) IsPut() bool { return l.IsOption() && l.Option != nil && l.Option.Type == OptionPut }

// Multiplier returns the contract multiplier for the leg's asset type.
func (l Leg) Multiplier() decimal.Decimal {
	return ContractMultiplier(l.AssetType)
}

// Strike returns the option strike or zero for stock legs.
func (l Leg) Strike() decimal.Decimal {
	if l.Option == nil {
		return decimal.Zero
	}
	return l.Option.Strike
}

// ExpirationKey returns the option expiration as YYYY-MM-DD, or "" for stock legs.
func (l Leg) ExpirationKey() string {
	if l.Option == nil {
		return ""
	}
	return l.Option.ExpirationKey()
}

// Validate checks that the variant fields agree with AssetType.
func (l Leg) Validate() error {
	switch l.AssetType {
	case AssetStock:
		if l.Option != nil {
			return fmt.Errorf("stock leg %s carries option details", l.Symbol)
		}
	case AssetOption:
		if l.Option == nil {
			return fmt.Errorf("option leg %s is missing option details", l.Symbol)
		}
		if !l.Option.Type.Valid() {
			return fmt.Errorf("option leg %s has invalid option type %q", l.Symbol, l.Option.Type)
		}
		if !l.Option.Strike.IsPositive() {
			return fmt.Errorf("option leg %s has non-positive strike %s", l.Symbol, l.Option.Strike)
		}
		if l.Option.Expiration.IsZero() {
			return fmt.Errorf("option leg %s has no expiration", l.Symbol)
		}
	default:
		return fmt.Errorf("leg %s has invalid asset type %q", l.Symbol, l.AssetType)
	}
	if l.Underlying == "" {
		return fmt.Errorf("leg %s has no underlying", l.Symbol)
	}
	return nil
}

// Clone returns a deep copy of the leg.
func (l Leg) Clone() Leg {
	if l.Option != nil {
		opt := *l.Option
		l.Option = &opt
	}
	return l
}

// ContractMultiplier returns 100 for options and 1 for stock.
func ContractMultiplier(a AssetType) decimal.Decimal {
	if a == AssetOption {
		return optionMultiplier
	}
	return stockMultiplier
}

// SignedCostBasis applies the debit/credit sign convention: a short quantity
// yields a negative cost basis, a long (or flat) quantity a positive one.
func SignedCostBasis(quantity, averagePrice, multiplier decimal.Decimal) decimal.Decimal {
	basis := quantity.Abs().Mul(averagePrice).Mul(multiplier)
	if quantity.IsNegative() {
		return basis.Neg()
	}
	return basis
}

// CloneLegs deep copies a slice of legs.
func CloneLegs(legs []Leg) []Leg {
	if legs == nil {
		return nil
	}
	out := make([]Leg, len(legs))
	for i := range legs {
		out[i] = legs[i].Clone()
	}
	return out
}
