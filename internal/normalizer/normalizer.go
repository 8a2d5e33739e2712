// Package normalizer converts raw broker position records into signed legs.
package normalizer

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/eddiefleurent/position_sync/internal/broker"
	"github.com/eddiefleurent/position_sync/internal/models"
	"github.com/eddiefleurent/position_sync/internal/util"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnsupportedAssetType marks records that are neither equity-like nor options.
	ErrUnsupportedAssetType = errors.New("unsupported asset type")
	// ErrInvalidSymbol marks option records whose details cannot be recovered.
	ErrInvalidSymbol = errors.New("invalid option symbol")
)

var priceTick = decimal.RequireFromString("0.0001")

// Normalizer turns broker records into models.Leg values.
type Normalizer struct {
	logger logrus.FieldLogger
}

// New creates a Normalizer. A nil logger discards output.
func New(logger logrus.FieldLogger) *Normalizer {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Normalizer{logger: logger}
}

// Result is the outcome of normalizing a batch of records.
type Result struct {
	Legs []models.Leg
	// Unsupported counts records skipped for their asset type.
	Unsupported int
	// Failed counts records dropped because they could not be parsed.
	Failed int
}

// NormalizeAll converts every record, dropping unsupported or unparseable ones.
// A bad record never stops the batch.
func (n *Normalizer) NormalizeAll(records []broker.PositionRecord, acct broker.AccountInfo) Result {
	res := Result{Legs: make([]models.Leg, 0, len(records))}
	for _, rec := range records {
		leg, err := n.Normalize(rec, acct)
		switch {
		case err == nil:
			res.Legs = append(res.Legs, leg)
		case errors.Is(err, ErrUnsupportedAssetType):
			res.Unsupported++
			n.logger.WithFields(logrus.Fields{
				"account":    broker.MaskAccountNumber(acct.AccountNumber),
				"symbol":     rec.Instrument.Symbol,
				"asset_type": rec.Instrument.AssetType,
			}).Debug("skipping unsupported position")
		default:
			res.Failed++
			n.logger.WithError(err).WithFields(logrus.Fields{
				"account": broker.MaskAccountNumber(acct.AccountNumber),
				"symbol":  rec.Instrument.Symbol,
			}).Warn("dropping position that failed to normalize")
		}
	}
	return res
}

// Normalize converts a single record.
func (n *Normalizer) Normalize(rec broker.PositionRecord, acct broker.AccountInfo) (models.Leg, error) {
	var leg models.Leg
	switch rec.Instrument.AssetType {
	case broker.AssetTypeOption:
		opt, underlying, err := optionDetails(rec.Instrument)
		if err != nil {
			return models.Leg{}, err
		}
		leg.AssetType = models.AssetOption
		leg.Option = opt
		leg.Underlying = underlying
	case broker.AssetTypeEquity, broker.AssetTypeETF, broker.AssetTypePreferredStock:
		leg.AssetType = models.AssetStock
		leg.Underlying = strings.TrimSpace(rec.Instrument.Symbol)
	default:
		return models.Leg{}, fmt.Errorf("%w: %q", ErrUnsupportedAssetType, rec.Instrument.AssetType)
	}

	leg.Symbol = strings.TrimSpace(rec.Instrument.Symbol)
	leg.AccountID = acct.Hash
	leg.AccountNumber = broker.MaskAccountNumber(acct.AccountNumber)
	leg.AccountType = acct.AccountType

	mult := leg.Multiplier()
	leg.Quantity = rec.LongQuantity.Sub(rec.ShortQuantity)
	leg.AveragePrice = rec.AveragePrice
	leg.CostBasis = models.SignedCostBasis(leg.Quantity, rec.AveragePrice, mult)
	leg.CurrentValue = rec.MarketValue
	leg.UnrealizedPnL = rec.MarketValue.Sub(leg.CostBasis)
	if !leg.Quantity.IsZero() {
		leg.CurrentPrice = util.RoundToTick(rec.MarketValue.Div(leg.Quantity).Div(mult).Abs(), priceTick)
	}
	leg.MaintenanceRequirement = rec.MaintenanceRequirement
	leg.CurrentDayPnL = rec.CurrentDayProfitLoss
	leg.CurrentDayPnLPct = rec.CurrentDayProfitLossPercentage

	if err := leg.Validate(); err != nil {
		return models.Leg{}, fmt.Errorf("%w: %v", ErrInvalidSymbol, err)
	}
	return leg, nil
}

// optionDetails prefers the feed's explicit fields and falls back to the OCC
// symbol for anything missing.
func optionDetails(inst broker.Instrument) (*models.OptionDetails, string, error) {
	opt := &models.OptionDetails{}
	underlying := strings.TrimSpace(inst.UnderlyingSymbol)

	switch strings.ToUpper(strings.TrimSpace(inst.PutCall)) {
	case broker.PutCallCall:
		opt.Type = models.OptionCall
	case broker.PutCallPut:
		opt.Type = models.OptionPut
	}
	if inst.StrikePrice.Valid && inst.StrikePrice.Decimal.IsPositive() {
		opt.Strike = inst.StrikePrice.Decimal
	}
	if exp, ok := parseExpiration(inst.OptionExpirationDate); ok {
		opt.Expiration = exp
	}

	if underlying != "" && opt.Type != "" && !opt.Strike.IsZero() && !opt.Expiration.IsZero() {
		return opt, underlying, nil
	}

	occ, err := ParseOCC(inst.Symbol)
	if err != nil {
		return nil, "", err
	}
	if underlying == "" {
		underlying = occ.Root
	}
	if opt.Type == "" {
		opt.Type = occ.Type
	}
	if opt.Strike.IsZero() {
		opt.Strike = occ.Strike
	}
	if opt.Expiration.IsZero() {
		opt.Expiration = occ.Expiration
	}
	return opt, underlying, nil
}

// parseExpiration accepts a bare date or an RFC 3339 timestamp and keeps the
// calendar date only.
func parseExpiration(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) < len(models.DateLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(models.DateLayout, s[:len(models.DateLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
