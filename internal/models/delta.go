package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountSnapshot is the account metadata recorded on each sync.
type AccountSnapshot struct {
	Hash               string          `json:"hash"`
	AccountNumber      string          `json:"account_number"`
	AccountType        string          `json:"account_type"`
	CashBalance        decimal.Decimal `json:"cash_balance"`
	LiquidationValue   decimal.Decimal `json:"liquidation_value"`
	BuyingPower        decimal.Decimal `json:"buying_power"`
	OptionsBuyingPower decimal.Decimal `json:"buying_power_options"`
	LastSynced         time.Time       `json:"last_synced"`
}

// SyncDelta is the set of state changes produced by one reconciliation pass.
// Persistence layers must apply it atomically.
type SyncDelta struct {
	Created  []Position        `json:"created"`
	Updated  []Position        `json:"updated"`
	Closed   []Position        `json:"closed"`
	Accounts []AccountSnapshot `json:"accounts,omitempty"`
}

// IsEmpty reports whether the delta changes nothing.
func (d *SyncDelta) IsEmpty() bool {
	return len(d.Created) == 0 && len(d.Updated) == 0 && len(d.Closed) == 0 && len(d.Accounts) == 0
}

// Positions returns every position touched by the delta.
func (d *SyncDelta) Positions() []Position {
	out := make([]Position, 0, len(d.Created)+len(d.Updated)+len(d.Closed))
	out = append(out, d.Created...)
	out = append(out, d.Updated...)
	out = append(out, d.Closed...)
	return out
}
