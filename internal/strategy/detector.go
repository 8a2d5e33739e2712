// Package strategy partitions an account's legs into strategy groups.
//
// Detection is greedy and priority-ordered per expiration bucket: covered
// calls first, then box spreads, then vertical spreads. Whatever is left
// becomes single-leg groups. Legs are sorted before matching so the result
// does not depend on the order the broker reported them in.
package strategy

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/eddiefleurent/position_sync/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrLegCountMismatch is returned when detection output does not account for
// every input leg exactly once.
var ErrLegCountMismatch = errors.New("leg count mismatch after strategy detection")

var sharesPerContract = decimal.NewFromInt(100)

// Config holds the detector thresholds.
type Config struct {
	BigOptionQuantity  decimal.Decimal // |qty| at or above this is a big option
	BigOptionCostBasis decimal.Decimal // |cost basis| at or above this is a big option
	StrikeTolerance    decimal.Decimal // box spread strike matching tolerance, inclusive
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		BigOptionQuantity:  decimal.NewFromInt(10),
		BigOptionCostBasis: decimal.NewFromInt(5000),
		StrikeTolerance:    decimal.RequireFromString("0.1"),
	}
}

// Validate checks that all thresholds are positive.
func (c Config) Validate() error {
	if !c.BigOptionQuantity.IsPositive() {
		return fmt.Errorf("big option quantity must be positive, got %s", c.BigOptionQuantity)
	}
	if !c.BigOptionCostBasis.IsPositive() {
		return fmt.Errorf("big option cost basis must be positive, got %s", c.BigOptionCostBasis)
	}
	if c.StrikeTolerance.IsNegative() {
		return fmt.Errorf("strike tolerance must not be negative, got %s", c.StrikeTolerance)
	}
	return nil
}

// Detector classifies legs into strategy groups.
type Detector struct {
	config Config
	logger logrus.FieldLogger
}

// NewDetector creates a Detector. A nil logger discards output.
func NewDetector(config Config, logger logrus.FieldLogger) *Detector {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Detector{config: config, logger: logger}
}

// DetectAll splits legs by (account, underlying) and detects each pair,
// returning groups ordered by account then underlying.
func (d *Detector) DetectAll(legs []models.Leg) []models.StrategyGroup {
	type pair struct{ account, underlying string }
	byPair := make(map[pair][]models.Leg)
	var keys []pair
	for _, leg := range legs {
		k := pair{leg.AccountID, leg.Underlying}
		if _, ok := byPair[k]; !ok {
			keys = append(keys, k)
		}
		byPair[k] = append(byPair[k], leg)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].account != keys[j].account {
			return keys[i].account < keys[j].account
		}
		return keys[i].underlying < keys[j].underlying
	})

	var groups []models.StrategyGroup
	for _, k := range keys {
		groups = append(groups, d.Detect(k.underlying, k.account, byPair[k])...)
	}
	return groups
}

// Detect partitions the legs of one (underlying, account) pair. Every input
// leg appears in exactly one output group; detection itself never fails.
func (d *Detector) Detect(underlying, accountID string, legs []models.Leg) []models.StrategyGroup {
	var stocks []models.Leg
	buckets := make(map[string][]models.Leg)
	var expirations []string
	for _, leg := range sortedLegs(legs) {
		if leg.IsOption() {
			exp := leg.ExpirationKey()
			if _, ok := buckets[exp]; !ok {
				expirations = append(expirations, exp)
			}
			buckets[exp] = append(buckets[exp], leg)
			continue
		}
		stocks = append(stocks, leg)
	}
	sort.Strings(expirations)

	newGroup := func(t models.StrategyType, members ...models.Leg) models.StrategyGroup {
		return models.StrategyGroup{
			Underlying:   underlying,
			AccountID:    accountID,
			StrategyType: t,
			Legs:         models.CloneLegs(members),
		}
	}

	var groups []models.StrategyGroup
	var leftoverOptions []models.Leg
	for _, exp := range expirations {
		bucket := buckets[exp]

		var covered []models.StrategyGroup
		covered, stocks, bucket = matchCoveredCalls(stocks, bucket)
		for i := range covered {
			covered[i].Underlying, covered[i].AccountID = underlying, accountID
		}
		groups = append(groups, covered...)

		if box, ok := d.matchBox(bucket); ok {
			groups = append(groups, newGroup(models.StrategyBoxSpread, box...))
			continue
		}

		var spreads [][]models.Leg
		spreads, bucket = matchVerticals(bucket)
		for _, s := range spreads {
			groups = append(groups, newGroup(models.StrategyVerticalSpread, s...))
		}
		leftoverOptions = append(leftoverOptions, bucket...)
	}

	for _, s := range stocks {
		t := models.StrategyLongStock
		if !s.Quantity.IsPositive() {
			t = models.StrategyShortStock
		}
		groups = append(groups, newGroup(t, s))
	}
	for _, o := range leftoverOptions {
		groups = append(groups, newGroup(d.classifySingle(o), o))
	}

	d.logger.WithFields(logrus.Fields{
		"underlying": underlying,
		"account":    accountID,
		"legs":       len(legs),
		"groups":     len(groups),
	}).Debug("detected strategies")
	return groups
}

// matchCoveredCalls pairs each long stock leg with the first short call it
// can cover. A stock leg is consumed by at most one call.
func matchCoveredCalls(stocks, options []models.Leg) ([]models.StrategyGroup, []models.Leg, []models.Leg) {
	var groups []models.StrategyGroup
	var remainingStocks []models.Leg
	used := make([]bool, len(options))
	for _, stock := range stocks {
		matched := false
		for i, opt := range options {
			if used[i] || !opt.IsCall() || !opt.IsShort() {
				continue
			}
			if stock.Quantity.GreaterThanOrEqual(opt.Quantity.Abs().Mul(sharesPerContract)) {
				used[i] = true
				matched = true
				groups = append(groups, models.StrategyGroup{
					StrategyType: models.StrategyCoveredCall,
					Legs:         models.CloneLegs([]models.Leg{stock, opt}),
				})
				break
			}
		}
		if !matched {
			remainingStocks = append(remainingStocks, stock)
		}
	}
	remainingOptions := make([]models.Leg, 0, len(options))
	for i, opt := range options {
		if !used[i] {
			remainingOptions = append(remainingOptions, opt)
		}
	}
	return groups, remainingStocks, remainingOptions
}

// matchBox recognizes exactly four legs forming a box: long call and short
// put at one strike, short call and long put at the other.
func (d *Detector) matchBox(options []models.Leg) ([]models.Leg, bool) {
	if len(options) != 4 {
		return nil, false
	}
	var longCall, shortCall, longPut, shortPut *models.Leg
	calls, puts := 0, 0
	for i := range options {
		leg := &options[i]
		switch {
		case leg.IsCall():
			calls++
			if leg.IsLong() && longCall == nil {
				longCall = leg
			} else if leg.IsShort() && shortCall == nil {
				shortCall = leg
			}
		case leg.IsPut():
			puts++
			if leg.IsLong() && longPut == nil {
				longPut = leg
			} else if leg.IsShort() && shortPut == nil {
				shortPut = leg
			}
		}
	}
	if calls != 2 || puts != 2 || longCall == nil || shortCall == nil || longPut == nil || shortPut == nil {
		return nil, false
	}
	if !d.strikesMatch(longCall.Strike(), shortPut.Strike()) || !d.strikesMatch(shortCall.Strike(), longPut.Strike()) {
		return nil, false
	}
	return []models.Leg{*longCall, *shortCall, *longPut, *shortPut}, true
}

func (d *Detector) strikesMatch(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(d.config.StrikeTolerance)
}

// matchVerticals checks for exactly two puts (short higher strike, long
// lower) and exactly two calls (long lower strike, short higher). Returned
// spreads are ordered the way they were matched.
func matchVerticals(options []models.Leg) ([][]models.Leg, []models.Leg) {
	var spreads [][]models.Leg
	remaining := options

	var puts []models.Leg
	for _, o := range remaining {
		if o.IsPut() {
			puts = append(puts, o)
		}
	}
	if len(puts) == 2 {
		hi, lo := puts[0], puts[1]
		if lo.Strike().GreaterThan(hi.Strike()) {
			hi, lo = lo, hi
		}
		if hi.Strike().GreaterThan(lo.Strike()) && hi.IsShort() && lo.IsLong() {
			spreads = append(spreads, []models.Leg{hi, lo})
			remaining = without(remaining, hi.Symbol, lo.Symbol)
		}
	}

	var calls []models.Leg
	for _, o := range remaining {
		if o.IsCall() {
			calls = append(calls, o)
		}
	}
	if len(calls) == 2 {
		lo, hi := calls[0], calls[1]
		if lo.Strike().GreaterThan(hi.Strike()) {
			lo, hi = hi, lo
		}
		if hi.Strike().GreaterThan(lo.Strike()) && lo.IsLong() && hi.IsShort() {
			spreads = append(spreads, []models.Leg{lo, hi})
			remaining = without(remaining, lo.Symbol, hi.Symbol)
		}
	}
	return spreads, remaining
}

func without(legs []models.Leg, symbols ...string) []models.Leg {
	drop := make(map[string]int, len(symbols))
	for _, s := range symbols {
		drop[s]++
	}
	out := make([]models.Leg, 0, len(legs))
	for _, leg := range legs {
		if drop[leg.Symbol] > 0 {
			drop[leg.Symbol]--
			continue
		}
		out = append(out, leg)
	}
	return out
}

func (d *Detector) classifySingle(o models.Leg) models.StrategyType {
	if o.Quantity.Abs().GreaterThanOrEqual(d.config.BigOptionQuantity) ||
		o.CostBasis.Abs().GreaterThanOrEqual(d.config.BigOptionCostBasis) {
		return models.StrategyBigOption
	}
	return models.StrategySingleOption
}

// sortedLegs returns a copy ordered by asset type, symbol, then quantity.
func sortedLegs(legs []models.Leg) []models.Leg {
	out := make([]models.Leg, len(legs))
	copy(out, legs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AssetType != out[j].AssetType {
			return out[i].AssetType < out[j].AssetType
		}
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Quantity.LessThan(out[j].Quantity)
	})
	return out
}

// CheckConservation verifies that groups hold exactly inputLegs legs.
func CheckConservation(inputLegs int, groups []models.StrategyGroup) error {
	if got := models.CountLegs(groups); got != inputLegs {
		return fmt.Errorf("%w: %d legs in, %d legs across %d groups", ErrLegCountMismatch, inputLegs, got, len(groups))
	}
	return nil
}
