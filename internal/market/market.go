package market

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Currency is a fiat currency BTC is quoted in.
type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
)

// ParseCurrency normalises a user supplied currency code.
func ParseCurrency(v string) (Currency, error) {
	switch Currency(strings.ToUpper(strings.TrimSpace(v))) {
	case USD:
		return USD, nil
	case EUR:
		return EUR, nil
	default:
		return "", fmt.Errorf("unsupported currency %q", v)
	}
}

// Sign returns the display sign of the currency.
func (c Currency) Sign() string {
	switch c {
	case EUR:
		return "€"
	default:
		return "$"
	}
}

// Quote is the 24h ticker snapshot of one symbol.
type Quote struct {
	Last      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	ChangePct decimal.Decimal
}

// PriceTick is one observed price snapshot across all tracked currencies.
// The zero value is an empty tick. PriceTick is immutable once built.
type PriceTick struct {
	quotes     map[Currency]Quote
	observedAt time.Time
}

// NewPriceTick copies quotes into a new tick.
func NewPriceTick(observedAt time.Time, quotes map[Currency]Quote) PriceTick {
	copied := make(map[Currency]Quote, len(quotes))
	for ccy, q := range quotes {
		copied[ccy] = q
	}
	return PriceTick{quotes: copied, observedAt: observedAt}
}

// ObservedAt is the time the tick was produced.
func (t PriceTick) ObservedAt() time.Time {
	return t.observedAt
}

// Quote returns the quote for ccy if the tick carries one.
func (t PriceTick) Quote(ccy Currency) (Quote, bool) {
	q, ok := t.quotes[ccy]
	return q, ok
}

// Price returns the last trade price in ccy, or zero when unset.
func (t PriceTick) Price(ccy Currency) decimal.Decimal {
	return t.quotes[ccy].Last
}

// Currencies lists the currencies present in the tick in a stable order.
func (t PriceTick) Currencies() []Currency {
	out := make([]Currency, 0, len(t.quotes))
	for ccy := range t.quotes {
		out = append(out, ccy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsZero reports whether the tick carries no quotes at all.
func (t PriceTick) IsZero() bool {
	return len(t.quotes) == 0
}

// High24h is the USD 24h high.
func (t PriceTick) High24h() decimal.Decimal { return t.quotes[USD].High }

// Low24h is the USD 24h low.
func (t PriceTick) Low24h() decimal.Decimal { return t.quotes[USD].Low }

// ChangePct24h is the USD 24h change in percent.
func (t PriceTick) ChangePct24h() decimal.Decimal { return t.quotes[USD].ChangePct }
