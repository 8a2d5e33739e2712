package normalizer

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/eddiefleurent/position_sync/internal/models"
	"github.com/shopspring/decimal"
)

// OCC format: ROOT (padded to 6 with spaces) + YYMMDD + C/P + strike*1000 as 8 digits.
var occPattern = regexp.MustCompile(`^([A-Z][A-Z0-9.]*?)(\d{6})([CP])(\d{8})$`)

var strikeScale = decimal.NewFromInt(1000)

// OCCSymbol is a decoded OCC option symbol.
type OCCSymbol struct {
	Root       string
	Expiration time.Time
	Type       models.OptionType
	Strike     decimal.Decimal
}

// ParseOCC decodes an OCC option symbol such as "AAPL  250321C00200000".
// Whitespace anywhere in the symbol is ignored.
func ParseOCC(symbol string) (OCCSymbol, error) {
	clean := strings.Join(strings.Fields(strings.ToUpper(symbol)), "")
	m := occPattern.FindStringSubmatch(clean)
	if m == nil {
		return OCCSymbol{}, fmt.Errorf("%w: %q is not an OCC option symbol", ErrInvalidSymbol, symbol)
	}
	exp, err := time.Parse("060102", m[2])
	if err != nil {
		return OCCSymbol{}, fmt.Errorf("%w: %q has invalid expiration %s", ErrInvalidSymbol, symbol, m[2])
	}
	raw, err := decimal.NewFromString(m[4])
	if err != nil {
		return OCCSymbol{}, fmt.Errorf("%w: %q has invalid strike %s", ErrInvalidSymbol, symbol, m[4])
	}
	typ := models.OptionCall
	if m[3] == "P" {
		typ = models.OptionPut
	}
	return OCCSymbol{
		Root:       m[1],
		Expiration: exp,
		Type:       typ,
		Strike:     raw.Div(strikeScale),
	}, nil
}
