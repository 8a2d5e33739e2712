// Package signature fingerprints the structure of a strategy group so the
// same position can be recognized across syncs while prices and lot sizes drift.
package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/eddiefleurent/position_sync/internal/models"
	"github.com/shopspring/decimal"
)

var (
	bucketSmall  = decimal.NewFromInt(10)
	bucketMedium = decimal.NewFromInt(100)
	bucketLarge  = decimal.NewFromInt(1000)
)

// QuantityBucket maps a stock quantity to a coarse size class. Lower bounds
// are inclusive: 10 is small, 100 is medium, 1000 is large.
func QuantityBucket(qty decimal.Decimal) string {
	q := qty.Abs()
	switch {
	case q.LessThan(bucketSmall):
		return "tiny"
	case q.LessThan(bucketMedium):
		return "small"
	case q.LessThan(bucketLarge):
		return "medium"
	default:
		return "large"
	}
}

// Generate returns the 64-character hex fingerprint of legs held in account
// on underlying. An empty leg list yields "".
func Generate(underlying, accountID string, legs []models.Leg) string {
	if len(legs) == 0 {
		return ""
	}
	sum := sha256.Sum256([]byte(canonical(underlying, accountID, legs)))
	return hex.EncodeToString(sum[:])
}

// Sign attaches a signature to every group in place.
func Sign(groups []models.StrategyGroup) {
	for i := range groups {
		g := &groups[i]
		g.Signature = Generate(g.Underlying, g.AccountID, g.Legs)
	}
}

// ForPosition recomputes the signature of a stored position from its legs.
func ForPosition(p *models.Position) string {
	return Generate(p.Underlying, p.AccountID, p.Legs)
}

// Match reports whether two signatures identify the same structure. Empty
// signatures never match, not even each other.
func Match(a, b string) bool {
	return a != "" && b != "" && a == b
}

type sortKey struct {
	assetType, symbol, strike, expiration string
}

func keyOf(l models.Leg) sortKey {
	k := sortKey{assetType: string(l.AssetType), symbol: l.Symbol}
	if l.Option != nil {
		k.strike = l.Option.Strike.String()
		k.expiration = l.Option.ExpirationKey()
	}
	return k
}

func canonical(underlying, accountID string, legs []models.Leg) string {
	sorted := make([]models.Leg, len(legs))
	copy(sorted, legs)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := keyOf(sorted[i]), keyOf(sorted[j])
		if a.assetType != b.assetType {
			return a.assetType < b.assetType
		}
		if a.symbol != b.symbol {
			return a.symbol < b.symbol
		}
		if a.strike != b.strike {
			return a.strike < b.strike
		}
		return a.expiration < b.expiration
	})

	parts := make([]string, 0, len(sorted)+2)
	parts = append(parts, "symbol:"+underlying, "account:"+accountID)
	for _, l := range sorted {
		parts = append(parts, "leg:"+string(l.AssetType)+":"+l.Symbol+":"+details(l))
	}
	return strings.Join(parts, "|")
}

func details(l models.Leg) string {
	if l.IsOption() && l.Option != nil {
		return fmt.Sprintf("%s:%s:%s", l.Option.Type, l.Option.Strike.String(), l.Option.ExpirationKey())
	}
	return "qty_range:" + QuantityBucket(l.Quantity)
}

// Explain renders a short human-readable description of a signed leg set for logs.
func Explain(sig, underlying string, legs []models.Leg) string {
	descs := make([]string, 0, len(legs))
	for _, l := range legs {
		if l.IsOption() && l.Option != nil {
			descs = append(descs, fmt.Sprintf("%s %s $%s exp %s",
				l.Quantity.StringFixed(0), l.Option.Type, l.Option.Strike.String(), l.Option.ExpirationKey()))
			continue
		}
		descs = append(descs, fmt.Sprintf("%s shares @ $%s", l.Quantity.StringFixed(0), l.AveragePrice.StringFixed(2)))
	}
	short := sig
	if len(short) > 12 {
		short = short[:12]
	}
	return fmt.Sprintf("%s [%s] -> %s...", underlying, strings.Join(descs, ", "), short)
}
