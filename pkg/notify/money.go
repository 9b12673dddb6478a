package notify

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var printer = message.NewPrinter(language.English)

// FormatAmount renders an amount in minor units using the ISO 4217 scale of
// cur, e.g. 75920 USD is "759.20 USD" and 1500 JPY is "1,500 JPY".
func FormatAmount(minor int64, cur string) (string, error) {
	unit, err := currency.ParseISO(strings.ToUpper(cur))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, cur)
	}
	scale, _ := currency.Standard.Rounding(unit)
	major := decimal.New(minor, -int32(scale)).InexactFloat64()
	return printer.Sprintf("%v %s", number.Decimal(major, number.Scale(scale)), unit.String()), nil
}

func formatAmount(minor int64, cur string) string {
	s, err := FormatAmount(minor, cur)
	if err != nil {
		return fmt.Sprintf("%d %s", minor, cur)
	}
	return s
}
