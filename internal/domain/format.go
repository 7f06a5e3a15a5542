package domain

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// FormatAmount renders an amount for display, e.g. "USD 1,500.00".
// Unknown currency codes fall back to USD. The digits come from the decimal
// itself, so large totals are never rounded through a float.
func FormatAmount(amount decimal.Decimal, currencyCode string) string {
	unit, err := currency.ParseISO(currencyCode)
	if err != nil {
		unit = currency.USD
	}

	fixed := amount.StringFixed(2)
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	whole, frac, _ := strings.Cut(fixed, ".")

	return unit.String() + " " + sign + groupThousands(whole) + "." + frac
}

// FormattedTotal is the display form of the cart total.
func (c *Cart) FormattedTotal(currencyCode string) string {
	return FormatAmount(c.TotalAmount, currencyCode)
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
