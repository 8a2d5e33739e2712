package models

import "strings"

// StrategyType is the classification label of a group of legs.
type StrategyType string

// Auto-detected strategy types, the only labels the detector assigns.
const (
	StrategyCoveredCall    StrategyType = "covered_call"
	StrategyVerticalSpread StrategyType = "vertical_spread"
	StrategyBoxSpread      StrategyType = "box_spread"
	StrategyLongStock      StrategyType = "long_stock"
	StrategyShortStock     StrategyType = "short_stock"
	StrategyBigOption      StrategyType = "big_option"
	StrategySingleOption   StrategyType = "single_option"
)

// User-assignable strategy types.
const (
	StrategyUnallocated    StrategyType = "unallocated"
	StrategyWheel          StrategyType = "wheel_strategy"
	StrategyIronCondor     StrategyType = "iron_condor"
	StrategyIronButterfly  StrategyType = "iron_butterfly"
	StrategyCalendarSpread StrategyType = "calendar_spread"
	StrategyDiagonalSpread StrategyType = "diagonal_spread"
	StrategyStraddle       StrategyType = "straddle"
	StrategyStrangle       StrategyType = "strangle"
	StrategyCollar         StrategyType = "collar"
	StrategyProtectivePut  StrategyType = "protective_put"
	StrategyCashSecuredPut StrategyType = "cash_secured_put"
	StrategyCustom         StrategyType = "custom"
)

// AutoDetectedStrategies lists the labels assigned by the detector.
var AutoDetectedStrategies = []StrategyType{
	StrategyCoveredCall,
	StrategyVerticalSpread,
	StrategyBoxSpread,
	StrategyLongStock,
	StrategyShortStock,
	StrategyBigOption,
	StrategySingleOption,
}

// CustomStrategies lists the labels only a user override may assign.
var CustomStrategies = []StrategyType{
	StrategyUnallocated,
	StrategyWheel,
	StrategyIronCondor,
	StrategyIronButterfly,
	StrategyCalendarSpread,
	StrategyDiagonalSpread,
	StrategyStraddle,
	StrategyStrangle,
	StrategyCollar,
	StrategyProtectivePut,
	StrategyCashSecuredPut,
	StrategyCustom,
}

var strategyLabels = map[StrategyType]string{
	StrategyCoveredCall:    "Covered Call",
	StrategyVerticalSpread: "Vertical Spread",
	StrategyBoxSpread:      "Box Spread",
	StrategyLongStock:      "Long Stock",
	StrategyShortStock:     "Short Stock",
	StrategyBigOption:      "Big Option",
	StrategySingleOption:   "Single Option",
	StrategyUnallocated:    "Unallocated",
	StrategyWheel:          "Wheel Strategy",
	StrategyIronCondor:     "Iron Condor",
	StrategyIronButterfly:  "Iron Butterfly",
	StrategyCalendarSpread: "Calendar Spread",
	StrategyDiagonalSpread: "Diagonal Spread",
	StrategyStraddle:       "Straddle",
	StrategyStrangle:       "Strangle",
	StrategyCollar:         "Collar",
	StrategyProtectivePut:  "Protective Put",
	StrategyCashSecuredPut: "Cash Secured Put",
	StrategyCustom:         "Custom Strategy",
}

// Valid returns true if the strategy type belongs to either set.
func (s StrategyType) Valid() bool {
	_, ok := strategyLabels[s]
	return ok
}

// IsAutoDetected returns true if the detector can assign this type.
func (s StrategyType) IsAutoDetected() bool {
	for _, t := range AutoDetectedStrategies {
		if t == s {
			return true
		}
	}
	return false
}

// Label returns the display label, title-casing unknown values.
func (s StrategyType) Label() string {
	if l, ok := strategyLabels[s]; ok {
		return l
	}
	words := strings.Fields(strings.ReplaceAll(string(s), "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
