package mock

import (
	"context"
	"testing"
	"time"

	"github.com/eddiefleurent/position_sync/internal/broker"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time { return time.Date(2025, 2, 10, 14, 0, 0, 0, time.UTC) }

func TestDataProvider_RequiresConnect(t *testing.T) {
	provider := NewDataProviderWithClock(fixedClock)

	_, err := provider.GetAccountNumbers(context.Background())
	assert.ErrorIs(t, err, broker.ErrNotConnected)

	_, err = provider.GetAccount(context.Background(), "E5B3F89A2C1D4E6F7A8B9C0D")
	assert.ErrorIs(t, err, broker.ErrNotConnected)
}

func TestDataProvider_StructureIsStableAcrossCalls(t *testing.T) {
	provider := NewDataProviderWithClock(fixedClock)
	ctx := context.Background()
	require.NoError(t, provider.Connect(ctx))
	defer func() { _ = provider.Close() }()

	accounts, err := provider.GetAccountNumbers(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	for _, acct := range accounts {
		first, err := provider.GetAccount(ctx, acct.HashValue)
		require.NoError(t, err)
		second, err := provider.GetAccount(ctx, acct.HashValue)
		require.NoError(t, err)

		require.Len(t, second.SecuritiesAccount.Positions, len(first.SecuritiesAccount.Positions))
		for i := range first.SecuritiesAccount.Positions {
			a, b := first.SecuritiesAccount.Positions[i], second.SecuritiesAccount.Positions[i]
			assert.Equal(t, a.Instrument.Symbol, b.Instrument.Symbol)
			assert.True(t, a.LongQuantity.Equal(b.LongQuantity))
			assert.True(t, a.ShortQuantity.Equal(b.ShortQuantity))
		}
	}
}

func TestDataProvider_AlwaysHasCoveredCalls(t *testing.T) {
	provider := NewDataProviderWithClock(fixedClock)
	ctx := context.Background()
	require.NoError(t, provider.Connect(ctx))

	resp, err := provider.GetAccount(ctx, "E5B3F89A2C1D4E6F7A8B9C0D")
	require.NoError(t, err)

	var aaplStock, aaplShortCall bool
	for _, p := range resp.SecuritiesAccount.Positions {
		switch {
		case p.Instrument.AssetType == broker.AssetTypeEquity && p.Instrument.Symbol == "AAPL":
			aaplStock = p.LongQuantity.Equal(decimal.NewFromInt(100))
		case p.Instrument.AssetType == broker.AssetTypeOption && p.Instrument.UnderlyingSymbol == "AAPL":
			aaplShortCall = p.Instrument.PutCall == broker.PutCallCall && p.ShortQuantity.Equal(decimal.NewFromInt(1))
		}
	}
	assert.True(t, aaplStock, "expected 100 AAPL shares")
	assert.True(t, aaplShortCall, "expected one short AAPL call")
}

func TestDataProvider_UnknownAccount(t *testing.T) {
	provider := NewDataProviderWithClock(fixedClock)
	require.NoError(t, provider.Connect(context.Background()))

	_, err := provider.GetAccount(context.Background(), "nope")
	assert.True(t, broker.IsPermanentAPIError(err))
}

func TestOptionSymbol(t *testing.T) {
	exp := time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "AAPL  250321C00200000", OptionSymbol("AAPL", exp, broker.PutCallCall, decimal.NewFromInt(200)))
	assert.Equal(t, "SPY   250321P00502500", OptionSymbol("SPY", exp, broker.PutCallPut, decimal.RequireFromString("502.5")))
}
