package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"btcwatch/internal/alarm"
	"btcwatch/internal/feed"
	"btcwatch/internal/market"
	"btcwatch/internal/notify"
	"btcwatch/internal/service"
	"btcwatch/internal/storage"
)

type errorResponse struct {
	Error string `json:"error"`
}

type quoteView struct {
	Last      string `json:"last"`
	Formatted string `json:"formatted"`
	High      string `json:"high"`
	Low       string `json:"low"`
	ChangePct string `json:"changePct"`
}

type holdingView struct {
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Value     string `json:"value,omitempty"`
	Formatted string `json:"formatted,omitempty"`
}

type priceView struct {
	Available    bool                 `json:"available"`
	ObservedAt   *time.Time           `json:"observedAt,omitempty"`
	Prices       map[string]quoteView `json:"prices,omitempty"`
	High24h      string               `json:"high24h,omitempty"`
	Low24h       string               `json:"low24h,omitempty"`
	ChangePct24h string               `json:"changePct24h,omitempty"`
	Badge        string               `json:"badge,omitempty"`
	BadgeColor   string               `json:"badgeColor,omitempty"`
	Title        string               `json:"title,omitempty"`
	Feed         *feed.Status         `json:"feed,omitempty"`
	Holding      *holdingView         `json:"holding,omitempty"`
}

type createAlarmRequest struct {
	Price    decimal.Decimal `json:"price"`
	Type     string          `json:"type"`
	Currency string          `json:"currency"`
}

type holdingRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type handlers struct {
	deps   Dependencies
	logger zerolog.Logger
	now    func() time.Time
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) price(w http.ResponseWriter, r *http.Request) {
	view := priceView{}
	if h.deps.Feed != nil {
		st := h.deps.Feed.Status()
		view.Feed = &st
	}

	snap, ok := h.latest()
	if !ok {
		writeJSON(w, http.StatusOK, view)
		return
	}
	tick := snap.Tick

	observed := tick.ObservedAt()
	view.Available = true
	view.ObservedAt = &observed
	view.Prices = make(map[string]quoteView)
	for _, ccy := range tick.Currencies() {
		q, _ := tick.Quote(ccy)
		view.Prices[string(ccy)] = quoteView{
			Last:      q.Last.String(),
			Formatted: market.FormatPrice(q.Last) + ccy.Sign(),
			High:      q.High.String(),
			Low:       q.Low.String(),
			ChangePct: q.ChangePct.StringFixed(2),
		}
	}
	view.High24h = market.FormatPrice(tick.High24h())
	view.Low24h = market.FormatPrice(tick.Low24h())
	view.ChangePct24h = tick.ChangePct24h().StringFixed(2)
	view.Badge = market.BadgeText(tick.Price(market.USD))
	view.BadgeColor = snap.BadgeColor(market.USD)
	view.Title = market.Title(tick, h.deps.Location)

	if h.deps.Preferences != nil {
		holding, err := h.holding(r, tick)
		if err != nil {
			h.logger.Warn().Err(err).Msg("holding unavailable")
		} else {
			view.Holding = holding
		}
	}

	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) refresh(w http.ResponseWriter, _ *http.Request) {
	if h.deps.Feed == nil {
		writeError(w, http.StatusServiceUnavailable, "price feed not running")
		return
	}
	h.deps.Feed.Refresh()
	writeJSON(w, http.StatusAccepted, h.deps.Feed.Status())
}

// restart leaves the polling fallback and reconnects with a fresh attempt budget.
func (h *handlers) restart(w http.ResponseWriter, _ *http.Request) {
	if h.deps.Feed == nil {
		writeError(w, http.StatusServiceUnavailable, "price feed not running")
		return
	}
	h.deps.Feed.Restart()
	h.logger.Info().Msg("price feed restart requested")
	writeJSON(w, http.StatusAccepted, h.deps.Feed.Status())
}

func (h *handlers) listAlarms(w http.ResponseWriter, r *http.Request) {
	alarms, err := h.deps.Alarms.List(r.Context())
	if err != nil {
		h.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alarms)
}

func (h *handlers) createAlarm(w http.ResponseWriter, r *http.Request) {
	var req createAlarmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	dir, err := alarm.ParseDirection(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ccy := market.USD
	if req.Currency != "" {
		if ccy, err = market.ParseCurrency(req.Currency); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	a, err := alarm.New(req.Price, dir, ccy, h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.deps.Alarms.Add(r.Context(), a); err != nil {
		h.storageError(w, err)
		return
	}
	h.logger.Info().Str("alarm_id", a.ID).Str("condition", a.Describe()).Msg("alarm created")
	writeJSON(w, http.StatusCreated, a)
}

func (h *handlers) deleteAlarm(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.deps.Alarms.Delete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "alarm not found")
			return
		}
		h.storageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) getHolding(w http.ResponseWriter, r *http.Request) {
	var tick market.PriceTick
	if snap, ok := h.latest(); ok {
		tick = snap.Tick
	}
	view, err := h.holding(r, tick)
	if err != nil {
		h.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) putHolding(w http.ResponseWriter, r *http.Request) {
	var req holdingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Amount.IsNegative() {
		writeError(w, http.StatusBadRequest, "amount cannot be negative")
		return
	}
	var ccy market.Currency
	if req.Currency != "" {
		parsed, err := market.ParseCurrency(req.Currency)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		ccy = parsed
	}

	ctx := r.Context()
	if err := h.deps.Preferences.SetHoldingAmount(ctx, req.Amount); err != nil {
		h.storageError(w, err)
		return
	}
	if ccy != "" {
		if err := h.deps.Preferences.SetDisplayCurrency(ctx, ccy); err != nil {
			h.storageError(w, err)
			return
		}
	}
	h.getHolding(w, r)
}

func (h *handlers) notifications(w http.ResponseWriter, _ *http.Request) {
	records := []notify.Record{}
	if h.deps.Notifications != nil {
		records = h.deps.Notifications.Outstanding()
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *handlers) latest() (snap service.Snapshot, ok bool) {
	if h.deps.Prices == nil {
		return snap, false
	}
	return h.deps.Prices.Latest()
}

func (h *handlers) holding(r *http.Request, tick market.PriceTick) (*holdingView, error) {
	ctx := r.Context()
	amount, err := h.deps.Preferences.HoldingAmount(ctx)
	if err != nil {
		return nil, err
	}
	ccy, err := h.deps.Preferences.DisplayCurrency(ctx)
	if err != nil {
		return nil, err
	}

	view := &holdingView{Amount: amount.String(), Currency: string(ccy)}
	if price := tick.Price(ccy); price.IsPositive() {
		value := amount.Mul(price)
		view.Value = value.StringFixed(2)
		view.Formatted = market.FormatHolding(value, ccy)
	}
	return view, nil
}

func (h *handlers) storageError(w http.ResponseWriter, err error) {
	if errors.Is(err, alarm.ErrInvalid) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Error().Err(err).Msg("storage request failed")
	writeError(w, http.StatusServiceUnavailable, "storage unavailable")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
