package alarm

import (
	"btcwatch/internal/market"
)

// Result partitions an alarm set after one evaluation pass.
type Result struct {
	Fired     []Alarm
	Remaining []Alarm
}

// Evaluate checks every alarm against the tick price in the alarm's currency.
//
// Fired keeps the input order. Entries sharing an id are evaluated independently.
// An alarm whose currency has no usable price in the tick stays in Remaining;
// the other alarms are still evaluated. alarms is never modified.
func Evaluate(tick market.PriceTick, alarms []Alarm) Result {
	if len(alarms) == 0 {
		return Result{Remaining: alarms}
	}

	res := Result{Remaining: make([]Alarm, 0, len(alarms))}
	for _, a := range alarms {
		price := tick.Price(a.EffectiveCurrency())
		if price.IsPositive() && a.Triggered(price) {
			res.Fired = append(res.Fired, a)
			continue
		}
		res.Remaining = append(res.Remaining, a)
	}
	return res
}
