package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"btcwatch/internal/market"
)

const (
	holdingKey         = "holding_amount"
	displayCurrencyKey = "display_currency"
	installedAtKey     = "installed_at"
)

// Preferences stores the small per-user settings, one key each.
type Preferences struct {
	kv KV
}

// NewPreferences wraps kv.
func NewPreferences(kv KV) *Preferences {
	return &Preferences{kv: kv}
}

// HoldingAmount returns the BTC amount the user holds, zero when unset.
func (p *Preferences) HoldingAmount(ctx context.Context) (decimal.Decimal, error) {
	raw, err := p.kv.Get(ctx, holdingKey)
	if errors.Is(err, ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	amount, err := decimal.NewFromString(string(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode holding amount: %w", err)
	}
	return amount, nil
}

// SetHoldingAmount stores a non-negative BTC amount.
func (p *Preferences) SetHoldingAmount(ctx context.Context, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("holding amount cannot be negative")
	}
	return p.kv.Put(ctx, holdingKey, []byte(amount.String()))
}

// DisplayCurrency returns the preferred currency, USD when unset.
func (p *Preferences) DisplayCurrency(ctx context.Context) (market.Currency, error) {
	raw, err := p.kv.Get(ctx, displayCurrencyKey)
	if errors.Is(err, ErrNotFound) {
		return market.USD, nil
	}
	if err != nil {
		return "", err
	}
	return market.ParseCurrency(string(raw))
}

func (p *Preferences) SetDisplayCurrency(ctx context.Context, ccy market.Currency) error {
	if _, err := market.ParseCurrency(string(ccy)); err != nil {
		return err
	}
	return p.kv.Put(ctx, displayCurrencyKey, []byte(ccy))
}

// InstalledAt reports when the first run happened.
func (p *Preferences) InstalledAt(ctx context.Context) (time.Time, bool, error) {
	raw, err := p.kv.Get(ctx, installedAtKey)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	at, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("decode installed_at: %w", err)
	}
	return at, true, nil
}

// MarkInstalled records the first run. It reports true only for the call
// that actually wrote the marker.
func (p *Preferences) MarkInstalled(ctx context.Context, at time.Time) (bool, error) {
	err := p.kv.Update(ctx, installedAtKey, func(_ []byte, found bool) ([]byte, error) {
		if found {
			return nil, ErrNoChange
		}
		return []byte(at.UTC().Format(time.RFC3339Nano)), nil
	})
	if errors.Is(err, ErrNoChange) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
