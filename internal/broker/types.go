package broker

import (
	"github.com/shopspring/decimal"
)

// Raw asset types reported by the broker feed.
const (
	AssetTypeEquity         = "EQUITY"
	AssetTypeETF            = "ETF"
	AssetTypePreferredStock = "PREFERRED_STOCK"
	AssetTypeOption         = "OPTION"
)

// Raw option rights reported in Instrument.PutCall.
const (
	PutCallPut  = "PUT"
	PutCallCall = "CALL"
)

// AccountNumber pairs a plain account number with the opaque hash used to
// address the account in every other call.
type AccountNumber struct {
	AccountNumber string `json:"accountNumber"`
	HashValue     string `json:"hashValue"`
}

// AccountResponse is the payload returned for a single account lookup.
type AccountResponse struct {
	SecuritiesAccount SecuritiesAccount `json:"securitiesAccount"`
}

// SecuritiesAccount holds account metadata, balances and raw positions.
type SecuritiesAccount struct {
	AccountNumber   string           `json:"accountNumber"`
	Type            string           `json:"type"`
	CurrentBalances Balances         `json:"currentBalances"`
	Positions       []PositionRecord `json:"positions"`
}

// Balances are the current account balances. AvailableFunds is the cash
// available for option trades.
type Balances struct {
	CashBalance      decimal.Decimal `json:"cashBalance"`
	LiquidationValue decimal.Decimal `json:"liquidationValue"`
	BuyingPower      decimal.Decimal `json:"buyingPower"`
	AvailableFunds   decimal.Decimal `json:"availableFunds"`
	Equity           decimal.Decimal `json:"equity"`
}

// PositionRecord is one raw instrument holding as reported by the broker.
type PositionRecord struct {
	Instrument    Instrument      `json:"instrument"`
	LongQuantity  decimal.Decimal `json:"longQuantity"`
	ShortQuantity decimal.Decimal `json:"shortQuantity"`
	AveragePrice  decimal.Decimal `json:"averagePrice"`
	MarketValue   decimal.Decimal `json:"marketValue"`

	MaintenanceRequirement         decimal.NullDecimal `json:"maintenanceRequirement"`
	CurrentDayProfitLoss           decimal.NullDecimal `json:"currentDayProfitLoss"`
	CurrentDayProfitLossPercentage decimal.NullDecimal `json:"currentDayProfitLossPercentage"`
}

// Instrument describes what a PositionRecord holds. Option fields may be
// missing, in which case they are recovered from the OCC symbol.
type Instrument struct {
	AssetType            string              `json:"assetType"`
	Symbol               string              `json:"symbol"`
	UnderlyingSymbol     string              `json:"underlyingSymbol,omitempty"`
	PutCall              string              `json:"putCall,omitempty"`
	OptionExpirationDate string              `json:"optionExpirationDate,omitempty"`
	StrikePrice          decimal.NullDecimal `json:"strikePrice"`
}

// AccountInfo is the account metadata handed to the normalizer with each record.
type AccountInfo struct {
	Hash          string
	AccountNumber string
	AccountType   string
	Balances      Balances
}

// Info extracts the account metadata from a response for the given hash.
func (r *AccountResponse) Info(hash string) AccountInfo {
	return AccountInfo{
		Hash:          hash,
		AccountNumber: r.SecuritiesAccount.AccountNumber,
		AccountType:   r.SecuritiesAccount.Type,
		Balances:      r.SecuritiesAccount.CurrentBalances,
	}
}

// MaskAccountNumber hides all but the last four characters of an account number.
func MaskAccountNumber(number string) string {
	if len(number) <= 4 {
		return number
	}
	return "****" + number[len(number)-4:]
}
