package market

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	BadgeColorUp   = "#217908"
	BadgeColorDown = "#d32f2f"
)

var (
	thousand = decimal.NewFromInt(1_000)
	million  = decimal.NewFromInt(1_000_000)
)

// FormatPrice renders a price with two decimals and comma thousands separators.
func FormatPrice(price decimal.Decimal) string {
	return groupDigits(price.StringFixed(2), ",")
}

// FormatHolding renders a holding value the way the popup shows it: "≈ 1 234.56 $".
func FormatHolding(value decimal.Decimal, ccy Currency) string {
	return fmt.Sprintf("≈ %s %s", groupDigits(value.StringFixed(2), " "), ccy.Sign())
}

// BadgeText compacts a price for a four character toolbar badge.
func BadgeText(price decimal.Decimal) string {
	switch {
	case price.GreaterThanOrEqual(million):
		return price.Div(million).StringFixed(1) + "M"
	case price.GreaterThanOrEqual(thousand):
		return price.Div(thousand).StringFixed(1)
	default:
		return price.StringFixed(0)
	}
}

// BadgeColor is green unless the price dropped since the previous badge.
func BadgeColor(previous, current decimal.Decimal) string {
	if current.LessThan(previous) {
		return BadgeColorDown
	}
	return BadgeColorUp
}

// Title renders the multi-line toolbar tooltip for tick.
func Title(tick PriceTick, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	var b strings.Builder
	b.WriteString("Bitcoin Price\n")
	for _, ccy := range tick.Currencies() {
		fmt.Fprintf(&b, "%s: %s%s\n", ccy, FormatPrice(tick.Price(ccy)), ccy.Sign())
	}
	fmt.Fprintf(&b, "High 24h: %s$\n", FormatPrice(tick.High24h()))
	fmt.Fprintf(&b, "Low 24h: %s$\n", FormatPrice(tick.Low24h()))
	fmt.Fprintf(&b, "\nLast updated: %s", tick.ObservedAt().In(loc).Format("15:04:05"))
	return b.String()
}

func groupDigits(fixed, sep string) string {
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	intPart, frac := fixed, ""
	if i := strings.IndexByte(fixed, '.'); i >= 0 {
		intPart, frac = fixed[:i], fixed[i:]
	}
	if len(intPart) <= 3 {
		return sign + intPart + frac
	}

	var b strings.Builder
	lead := len(intPart) % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(intPart[i : i+3])
	}
	return sign + b.String() + frac
}
