package strategy

import (
	"errors"
	"testing"
	"time"

	"github.com/eddiefleurent/position_sync/internal/models"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var (
	mar21 = time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC)
	apr17 = time.Date(2025, 4, 17, 0, 0, 0, 0, time.UTC)
)

func stock(underlying, qty string) models.Leg {
	q := d(qty)
	return models.Leg{
		AssetType:  models.AssetStock,
		Symbol:     underlying,
		Underlying: underlying,
		AccountID:  "acct1",
		Quantity:   q,
		CostBasis:  q.Mul(d("100")),
	}
}

func opt(underlying string, typ models.OptionType, strike, qty string, exp time.Time) models.Leg {
	flag := "C"
	if typ == models.OptionPut {
		flag = "P"
	}
	q := d(qty)
	return models.Leg{
		AssetType:  models.AssetOption,
		Symbol:     underlying + exp.Format("060102") + flag + strike,
		Underlying: underlying,
		AccountID:  "acct1",
		Option:     &models.OptionDetails{Type: typ, Strike: d(strike), Expiration: exp},
		Quantity:   q,
		CostBasis:  models.SignedCostBasis(q, d("1"), d("100")),
	}
}

func types(groups []models.StrategyGroup) []models.StrategyType {
	out := make([]models.StrategyType, len(groups))
	for i, g := range groups {
		out[i] = g.StrategyType
	}
	return out
}

func symbols(g models.StrategyGroup) []string {
	out := make([]string, len(g.Legs))
	for i, l := range g.Legs {
		out[i] = l.Symbol
	}
	return out
}

func newTestDetector() *Detector { return NewDetector(DefaultConfig(), nil) }

func TestDetect_CoveredCall(t *testing.T) {
	legs := []models.Leg{
		stock("AAPL", "100"),
		opt("AAPL", models.OptionCall, "200", "-1", mar21),
	}
	groups := newTestDetector().Detect("AAPL", "acct1", legs)

	require.Len(t, groups, 1)
	g := groups[0]
	assert.Equal(t, models.StrategyCoveredCall, g.StrategyType)
	assert.Equal(t, "AAPL", g.Underlying)
	assert.Equal(t, "acct1", g.AccountID)
	assert.Len(t, g.Legs, 2)
	require.NoError(t, g.Validate())
}

func TestDetect_CoveredCallRequiresEnoughShares(t *testing.T) {
	legs := []models.Leg{
		stock("AAPL", "150"),
		opt("AAPL", models.OptionCall, "200", "-2", mar21),
	}
	groups := newTestDetector().Detect("AAPL", "acct1", legs)

	assert.ElementsMatch(t, []models.StrategyType{models.StrategyLongStock, models.StrategySingleOption}, types(groups))
}

func TestDetect_StockCoversOnlyOneCall(t *testing.T) {
	legs := []models.Leg{
		stock("AAPL", "300"),
		opt("AAPL", models.OptionCall, "200", "-1", mar21),
		opt("AAPL", models.OptionCall, "210", "-1", apr17),
	}
	groups := newTestDetector().Detect("AAPL", "acct1", legs)

	require.Len(t, groups, 2)
	assert.Equal(t, models.StrategyCoveredCall, groups[0].StrategyType)
	assert.Equal(t, "2025-03-21", groups[0].Legs[1].ExpirationKey(), "earliest expiration is matched first")
	assert.Equal(t, models.StrategySingleOption, groups[1].StrategyType)
	require.NoError(t, CheckConservation(len(legs), groups))
}

func TestDetect_BoxSpread(t *testing.T) {
	legs := []models.Leg{
		opt("SPX", models.OptionPut, "100", "-1", mar21),
		opt("SPX", models.OptionCall, "110", "-1", mar21),
		opt("SPX", models.OptionCall, "100", "1", mar21),
		opt("SPX", models.OptionPut, "110", "1", mar21),
	}
	groups := newTestDetector().Detect("SPX", "acct1", legs)

	require.Len(t, groups, 1)
	assert.Equal(t, models.StrategyBoxSpread, groups[0].StrategyType)
	require.Len(t, groups[0].Legs, 4)
	// long call, short call, long put, short put
	assert.True(t, groups[0].Legs[0].IsCall() && groups[0].Legs[0].IsLong())
	assert.True(t, groups[0].Legs[1].IsCall() && groups[0].Legs[1].IsShort())
	assert.True(t, groups[0].Legs[2].IsPut() && groups[0].Legs[2].IsLong())
	assert.True(t, groups[0].Legs[3].IsPut() && groups[0].Legs[3].IsShort())
}

func TestDetect_BoxSpreadStrikeTolerance(t *testing.T) {
	build := func(shortPutStrike string) []models.Leg {
		return []models.Leg{
			opt("SPX", models.OptionCall, "100", "1", mar21),
			opt("SPX", models.OptionCall, "110", "-1", mar21),
			opt("SPX", models.OptionPut, "110", "1", mar21),
			opt("SPX", models.OptionPut, shortPutStrike, "-1", mar21),
		}
	}

	within := newTestDetector().Detect("SPX", "acct1", build("100.1"))
	require.Len(t, within, 1)
	assert.Equal(t, models.StrategyBoxSpread, within[0].StrategyType)

	outside := newTestDetector().Detect("SPX", "acct1", build("100.5"))
	assert.NotContains(t, types(outside), models.StrategyBoxSpread)
	require.NoError(t, CheckConservation(4, outside))
}

func TestDetect_VerticalSpreads(t *testing.T) {
	tests := []struct {
		name  string
		legs  []models.Leg
		want  []models.StrategyType
		first []string
	}{
		{
			name: "bull put spread",
			legs: []models.Leg{
				opt("SPY", models.OptionPut, "495", "5", mar21),
				opt("SPY", models.OptionPut, "500", "-5", mar21),
			},
			want:  []models.StrategyType{models.StrategyVerticalSpread},
			first: []string{"SPY250321P500", "SPY250321P495"},
		},
		{
			name: "bull call spread",
			legs: []models.Leg{
				opt("QQQ", models.OptionCall, "490", "-3", mar21),
				opt("QQQ", models.OptionCall, "480", "3", mar21),
			},
			want:  []models.StrategyType{models.StrategyVerticalSpread},
			first: []string{"QQQ250321C480", "QQQ250321C490"},
		},
		{
			name: "bear put spread is not matched",
			legs: []models.Leg{
				opt("SPY", models.OptionPut, "500", "1", mar21),
				opt("SPY", models.OptionPut, "495", "-1", mar21),
			},
			want: []models.StrategyType{models.StrategySingleOption, models.StrategySingleOption},
		},
		{
			name: "equal strikes are not a vertical",
			legs: []models.Leg{
				opt("SPY", models.OptionPut, "500", "-1", mar21),
				opt("SPY", models.OptionPut, "500", "1", mar21),
				opt("SPY", models.OptionCall, "600", "1", mar21),
				opt("SPY", models.OptionCall, "600", "-1", mar21),
			},
			want: []models.StrategyType{
				models.StrategySingleOption, models.StrategySingleOption,
				models.StrategySingleOption, models.StrategySingleOption,
			},
		},
		{
			name: "different expirations are not a vertical",
			legs: []models.Leg{
				opt("SPY", models.OptionPut, "500", "-1", mar21),
				opt("SPY", models.OptionPut, "495", "1", apr17),
			},
			want: []models.StrategyType{models.StrategySingleOption, models.StrategySingleOption},
		},
		{
			name: "put and call verticals in one bucket",
			legs: []models.Leg{
				opt("SPY", models.OptionPut, "500", "-1", mar21),
				opt("SPY", models.OptionPut, "495", "1", mar21),
				opt("SPY", models.OptionCall, "600", "1", mar21),
				opt("SPY", models.OptionCall, "610", "-1", mar21),
				opt("SPY", models.OptionCall, "620", "-1", apr17),
			},
			want: []models.StrategyType{models.StrategyVerticalSpread, models.StrategyVerticalSpread, models.StrategySingleOption},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups := newTestDetector().Detect(tt.legs[0].Underlying, "acct1", tt.legs)
			if diff := cmp.Diff(tt.want, types(groups)); diff != "" {
				t.Errorf("strategy types mismatch (-want +got):\n%s", diff)
			}
			if tt.first != nil {
				assert.Equal(t, tt.first, symbols(groups[0]))
			}
			require.NoError(t, CheckConservation(len(tt.legs), groups))
		})
	}
}

func TestDetect_Leftovers(t *testing.T) {
	big := opt("TSLA", models.OptionPut, "250", "10", mar21)
	expensive := opt("TSLA", models.OptionCall, "300", "1", apr17)
	expensive.CostBasis = d("5000")
	small := opt("TSLA", models.OptionCall, "310", "2", apr17)
	small.CostBasis = d("4999.99")

	legs := []models.Leg{stock("TSLA", "50"), stock("TSLA", "-20"), big, expensive, small}
	groups := newTestDetector().Detect("TSLA", "acct1", legs)

	want := []models.StrategyType{
		models.StrategyShortStock,
		models.StrategyLongStock,
		models.StrategyBigOption,
		models.StrategyBigOption,
		models.StrategySingleOption,
	}
	if diff := cmp.Diff(want, types(groups)); diff != "" {
		t.Errorf("strategy types mismatch (-want +got):\n%s", diff)
	}
	for _, g := range groups {
		assert.Len(t, g.Legs, 1)
	}
}

func TestDetect_OrderIndependent(t *testing.T) {
	legs := []models.Leg{
		stock("SPY", "100"),
		opt("SPY", models.OptionCall, "610", "-1", mar21),
		opt("SPY", models.OptionPut, "500", "-1", mar21),
		opt("SPY", models.OptionPut, "495", "1", mar21),
		opt("SPY", models.OptionCall, "600", "1", mar21),
		opt("SPY", models.OptionCall, "620", "-1", mar21),
	}
	reversed := make([]models.Leg, len(legs))
	for i := range legs {
		reversed[len(legs)-1-i] = legs[i]
	}

	a := newTestDetector().Detect("SPY", "acct1", legs)
	b := newTestDetector().Detect("SPY", "acct1", reversed)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("detection depends on input order (-a +b):\n%s", diff)
	}
	require.NoError(t, CheckConservation(len(legs), a))
}

func TestDetect_DoesNotAliasInput(t *testing.T) {
	legs := []models.Leg{opt("SPY", models.OptionPut, "500", "-1", mar21)}
	groups := newTestDetector().Detect("SPY", "acct1", legs)
	groups[0].Legs[0].Option.Strike = d("1")
	assert.True(t, legs[0].Option.Strike.Equal(d("500")))
}

func TestDetectAll_GroupsByAccountAndUnderlying(t *testing.T) {
	other := stock("AAPL", "100")
	other.AccountID = "acct0"
	legs := []models.Leg{
		opt("SPY", models.OptionPut, "500", "-1", mar21),
		stock("AAPL", "100"),
		opt("AAPL", models.OptionCall, "200", "-1", mar21),
		other,
	}
	groups := newTestDetector().DetectAll(legs)

	require.Len(t, groups, 3)
	assert.Equal(t, "acct0", groups[0].AccountID)
	assert.Equal(t, models.StrategyLongStock, groups[0].StrategyType)
	assert.Equal(t, "AAPL", groups[1].Underlying)
	assert.Equal(t, models.StrategyCoveredCall, groups[1].StrategyType)
	assert.Equal(t, "SPY", groups[2].Underlying)
	for _, g := range groups {
		require.NoError(t, g.Validate())
	}
	require.NoError(t, CheckConservation(len(legs), groups))
}

func TestDetect_Empty(t *testing.T) {
	assert.Empty(t, newTestDetector().Detect("SPY", "acct1", nil))
	require.NoError(t, CheckConservation(0, nil))
}

func TestCheckConservation_Mismatch(t *testing.T) {
	groups := []models.StrategyGroup{{Legs: []models.Leg{stock("SPY", "1")}}}
	err := CheckConservation(2, groups)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLegCountMismatch))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.BigOptionQuantity = decimal.Zero
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.StrikeTolerance = d("-0.1")
	assert.Error(t, bad.Validate())
}
