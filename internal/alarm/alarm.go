package alarm

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"btcwatch/internal/market"
)

// ErrInvalid marks an alarm that violates its invariants.
var ErrInvalid = errors.New("invalid alarm")

// Direction decides which side of the target fires the alarm.
type Direction string

const (
	Above Direction = "above"
	Below Direction = "below"
)

// ParseDirection accepts "above"/"below" in any case.
func ParseDirection(v string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(v))) {
	case Above:
		return Above, nil
	case Below:
		return Below, nil
	default:
		return "", fmt.Errorf("%w: unknown direction %q", ErrInvalid, v)
	}
}

// Alarm is a user price threshold.
type Alarm struct {
	ID          string          `json:"id"`
	TargetPrice decimal.Decimal `json:"price"`
	Direction   Direction       `json:"type"`
	Currency    market.Currency `json:"currency,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// New builds a validated alarm with a fresh id.
func New(target decimal.Decimal, dir Direction, ccy market.Currency, now time.Time) (Alarm, error) {
	a := Alarm{
		ID:          uuid.NewString(),
		TargetPrice: target,
		Direction:   dir,
		Currency:    ccy,
		CreatedAt:   now.UTC(),
	}
	if err := a.Validate(); err != nil {
		return Alarm{}, err
	}
	return a, nil
}

// Validate checks the alarm invariants.
func (a Alarm) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalid)
	}
	if !a.TargetPrice.IsPositive() {
		return fmt.Errorf("%w: target price must be greater than zero", ErrInvalid)
	}
	if a.Direction != Above && a.Direction != Below {
		return fmt.Errorf("%w: unknown direction %q", ErrInvalid, a.Direction)
	}
	if _, err := market.ParseCurrency(string(a.EffectiveCurrency())); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// EffectiveCurrency resolves records stored before alarms carried a currency.
func (a Alarm) EffectiveCurrency() market.Currency {
	if a.Currency == "" {
		return market.USD
	}
	return a.Currency
}

// Triggered reports whether price satisfies the alarm. Both boundaries are inclusive.
func (a Alarm) Triggered(price decimal.Decimal) bool {
	switch a.Direction {
	case Above:
		return price.GreaterThanOrEqual(a.TargetPrice)
	case Below:
		return price.LessThanOrEqual(a.TargetPrice)
	default:
		return false
	}
}

// Describe renders the alarm condition, e.g. "above $49,000.00".
func (a Alarm) Describe() string {
	return fmt.Sprintf("%s %s%s", a.Direction, a.EffectiveCurrency().Sign(), market.FormatPrice(a.TargetPrice))
}
