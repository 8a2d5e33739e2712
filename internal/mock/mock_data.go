// Package mock provides a synthetic broker data provider for local runs.
package mock

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/eddiefleurent/position_sync/internal/broker"
	"github.com/eddiefleurent/position_sync/internal/util"
	"github.com/shopspring/decimal"
)

var (
	centTick   = decimal.RequireFromString("0.01")
	strikeTick = decimal.NewFromInt(1)
	hundred    = decimal.NewFromInt(100)
)

// holding is one fixed instrument in a mock account. Its structure never
// changes after Connect; only the price moves between calls.
type holding struct {
	instrument   broker.Instrument
	quantity     decimal.Decimal // signed
	averagePrice decimal.Decimal
	price        decimal.Decimal // per unit, before jitter
	multiplier   decimal.Decimal
}

type mockAccount struct {
	number   broker.AccountNumber
	kind     string
	cash     decimal.Decimal
	holdings []holding
}

// DataProvider is a broker.DataProvider that serves generated accounts holding
// covered calls, put and call verticals, long puts, dividend stocks and a box
// spread. Structure is fixed at Connect so repeated syncs see the same
// positions with drifting prices.
type DataProvider struct {
	now func() time.Time

	mu        sync.Mutex
	connected bool
	accounts  []*mockAccount
}

var _ broker.DataProvider = (*DataProvider)(nil)

// secureFloat64 generates a cryptographically secure random float64 between 0 and 1
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// secureInt63n generates a cryptographically secure random int64 between 0 and n-1
func secureInt63n(n int64) int64 {
	r, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return n / 2
	}
	return r.Int64()
}

// uniform returns a random decimal in [lo, hi).
func uniform(lo, hi float64) decimal.Decimal {
	return decimal.NewFromFloat(lo + secureFloat64()*(hi-lo))
}

func choice(values ...int64) decimal.Decimal {
	return decimal.NewFromInt(values[secureInt63n(int64(len(values)))])
}

// NewDataProvider creates a mock provider using the wall clock for expirations.
func NewDataProvider() *DataProvider {
	return NewDataProviderWithClock(time.Now)
}

// NewDataProviderWithClock creates a mock provider with an injected clock.
func NewDataProviderWithClock(now func() time.Time) *DataProvider {
	return &DataProvider{now: now}
}

// Connect generates the account structure.
func (m *DataProvider) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		return nil
	}
	today := m.now().UTC().Truncate(24 * time.Hour)
	m.accounts = []*mockAccount{
		m.generateAccount(broker.AccountNumber{AccountNumber: "12345678", HashValue: "E5B3F89A2C1D4E6F7A8B9C0D"}, today),
		m.generateAccount(broker.AccountNumber{AccountNumber: "87654321", HashValue: "F9C2A8D5E4B6F1A3C7E9D2B4"}, today),
	}
	m.connected = true
	return nil
}

// Close drops the generated accounts.
func (m *DataProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.accounts = nil
	return nil
}

// GetAccountNumbers returns the generated account list.
func (m *DataProvider) GetAccountNumbers(ctx context.Context) ([]broker.AccountNumber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, broker.ErrNotConnected
	}
	out := make([]broker.AccountNumber, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a.number)
	}
	return out, nil
}

// GetAccount returns the account's holdings with freshly jittered prices.
func (m *DataProvider) GetAccount(ctx context.Context, hash string) (*broker.AccountResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, broker.ErrNotConnected
	}
	for _, a := range m.accounts {
		if a.number.HashValue == hash {
			return a.snapshot(), nil
		}
	}
	return nil, &broker.APIError{Status: 404, Body: fmt.Sprintf("account %s not found", hash)}
}

func (a *mockAccount) snapshot() *broker.AccountResponse {
	positions := make([]broker.PositionRecord, 0, len(a.holdings))
	total := decimal.Zero
	for _, h := range a.holdings {
		// Simulate small price movements, within 2% either way.
		drift := decimal.NewFromFloat(1 + (secureFloat64()-0.5)*0.04)
		price := util.RoundToTick(h.price.Mul(drift), centTick)
		marketValue := h.quantity.Mul(price).Mul(h.multiplier)
		total = total.Add(marketValue)

		rec := broker.PositionRecord{
			Instrument:   h.instrument,
			AveragePrice: h.averagePrice,
			MarketValue:  marketValue,
		}
		if h.quantity.IsNegative() {
			rec.ShortQuantity = h.quantity.Neg()
		} else {
			rec.LongQuantity = h.quantity
		}
		dayPnL := util.RoundToTick(marketValue.Sub(h.quantity.Mul(h.price).Mul(h.multiplier)), centTick)
		rec.CurrentDayProfitLoss = decimal.NewNullDecimal(dayPnL)
		positions = append(positions, rec)
	}
	liquidation := total.Add(a.cash)
	return &broker.AccountResponse{SecuritiesAccount: broker.SecuritiesAccount{
		AccountNumber: a.number.AccountNumber,
		Type:          a.kind,
		CurrentBalances: broker.Balances{
			CashBalance:      a.cash,
			LiquidationValue: liquidation,
			Equity:           liquidation,
			BuyingPower:      a.cash.Mul(decimal.NewFromInt(2)),
			AvailableFunds:   a.cash,
		},
		Positions: positions,
	}}
}

func (m *DataProvider) generateAccount(number broker.AccountNumber, today time.Time) *mockAccount {
	kinds := []string{"MARGIN", "CASH", "IRA"}
	a := &mockAccount{
		number: number,
		kind:   kinds[secureInt63n(int64(len(kinds)))],
		cash:   util.RoundToTick(uniform(5000, 20000), centTick),
	}

	// Always include covered calls.
	a.holdings = append(a.holdings, coveredCall("AAPL", today)...)
	a.holdings = append(a.holdings, coveredCall("MSFT", today)...)
	a.holdings = append(a.holdings, putSpread("SPY", today)...)
	if secureFloat64() > 0.6 {
		a.holdings = append(a.holdings, putSpread("IWM", today)...)
	}
	if secureFloat64() > 0.5 {
		a.holdings = append(a.holdings, callSpread("QQQ", today)...)
	}
	if secureFloat64() > 0.5 {
		a.holdings = append(a.holdings, longPut("TSLA", today))
	}
	if secureFloat64() > 0.4 {
		a.holdings = append(a.holdings, dividendStock("T"))
	}
	if secureFloat64() > 0.6 {
		a.holdings = append(a.holdings, dividendStock("VZ"))
	}
	if secureFloat64() > 0.7 {
		a.holdings = append(a.holdings, boxSpread("SPX", today)...)
	}
	return a
}

// OptionSymbol formats an OCC option symbol with the root padded to six characters.
func OptionSymbol(root string, expiration time.Time, putCall string, strike decimal.Decimal) string {
	flag := "C"
	if putCall == broker.PutCallPut {
		flag = "P"
	}
	return fmt.Sprintf("%-6s%s%s%08d", root, expiration.Format("060102"), flag, strike.Mul(decimal.NewFromInt(1000)).IntPart())
}

func option(underlying, putCall string, strike decimal.Decimal, expiration time.Time,
	qty, avg, price decimal.Decimal) holding {
	return holding{
		instrument: broker.Instrument{
			AssetType:            broker.AssetTypeOption,
			Symbol:               OptionSymbol(underlying, expiration, putCall, strike),
			UnderlyingSymbol:     underlying,
			PutCall:              putCall,
			OptionExpirationDate: expiration.Format("2006-01-02"),
		},
		quantity:     qty,
		averagePrice: avg,
		price:        price,
		multiplier:   hundred,
	}
}

func equity(symbol string, qty, avg, price decimal.Decimal) holding {
	return holding{
		instrument:   broker.Instrument{AssetType: broker.AssetTypeEquity, Symbol: symbol},
		quantity:     qty,
		averagePrice: avg,
		price:        price,
		multiplier:   decimal.NewFromInt(1),
	}
}

func expiry(today time.Time, minDays, maxDays int64) time.Time {
	return today.AddDate(0, 0, int(minDays+secureInt63n(maxDays-minDays+1)))
}

// coveredCall is 100 shares plus one short call 5% out of the money.
func coveredCall(underlying string, today time.Time) []holding {
	stockPrice := util.RoundToTick(uniform(150, 200), centTick)
	strike := util.RoundToTick(stockPrice.Mul(decimal.RequireFromString("1.05")), strikeTick)
	exp := expiry(today, 20, 45)
	return []holding{
		equity(underlying, hundred, util.RoundToTick(stockPrice.Mul(decimal.RequireFromString("0.98")), centTick), stockPrice),
		option(underlying, broker.PutCallCall, strike, exp, decimal.NewFromInt(-1),
			decimal.RequireFromString("2.50"), decimal.RequireFromString("2.40")),
	}
}

// putSpread is a bull put spread: short put 5% out of the money, long put $5 lower.
func putSpread(underlying string, today time.Time) []holding {
	px := uniform(550, 600)
	short := util.RoundToTick(px.Mul(decimal.RequireFromString("0.95")), strikeTick)
	long := short.Sub(decimal.NewFromInt(5))
	exp := expiry(today, 15, 30)
	qty := choice(5, 10, 15, 20)
	return []holding{
		option(underlying, broker.PutCallPut, short, exp, qty.Neg(),
			decimal.RequireFromString("3.50"), decimal.RequireFromString("3.10")),
		option(underlying, broker.PutCallPut, long, exp, qty,
			decimal.RequireFromString("2.20"), decimal.RequireFromString("1.95")),
	}
}

// callSpread is a bear call spread: short call 5% out of the money, long call $5 higher.
func callSpread(underlying string, today time.Time) []holding {
	px := uniform(450, 500)
	short := util.RoundToTick(px.Mul(decimal.RequireFromString("1.05")), strikeTick)
	long := short.Add(decimal.NewFromInt(5))
	exp := expiry(today, 15, 30)
	qty := choice(5, 10, 15)
	return []holding{
		option(underlying, broker.PutCallCall, short, exp, qty.Neg(),
			decimal.RequireFromString("2.80"), decimal.RequireFromString("2.55")),
		option(underlying, broker.PutCallCall, long, exp, qty,
			decimal.RequireFromString("1.50"), decimal.RequireFromString("1.30")),
	}
}

func longPut(underlying string, today time.Time) holding {
	px := uniform(200, 300)
	strike := util.RoundToTick(px.Mul(decimal.RequireFromString("0.95")), strikeTick)
	return option(underlying, broker.PutCallPut, strike, expiry(today, 30, 60), choice(1, 2, 3, 5),
		decimal.RequireFromString("8.50"), decimal.RequireFromString("8.75"))
}

func dividendStock(symbol string) holding {
	price := util.RoundToTick(uniform(15, 25), centTick)
	qty := decimal.NewFromInt(200 + secureInt63n(301))
	return equity(symbol, qty, util.RoundToTick(price.Mul(decimal.RequireFromString("0.97")), centTick), price)
}

// boxSpread is a long 10-point box: long call and short put at the lower
// strike, short call and long put at the upper strike.
func boxSpread(underlying string, today time.Time) []holding {
	lower := util.RoundToTick(uniform(5000, 5500), decimal.NewFromInt(10))
	upper := lower.Add(decimal.NewFromInt(10))
	exp := expiry(today, 60, 120)
	one := decimal.NewFromInt(1)
	return []holding{
		option(underlying, broker.PutCallCall, lower, exp, one, decimal.RequireFromString("60.00"), decimal.RequireFromString("60.20")),
		option(underlying, broker.PutCallCall, upper, exp, one.Neg(), decimal.RequireFromString("52.10"), decimal.RequireFromString("52.20")),
		option(underlying, broker.PutCallPut, upper, exp, one, decimal.RequireFromString("41.30"), decimal.RequireFromString("41.10")),
		option(underlying, broker.PutCallPut, lower, exp, one.Neg(), decimal.RequireFromString("39.40"), decimal.RequireFromString("39.20")),
	}
}
