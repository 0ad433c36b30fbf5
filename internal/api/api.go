// Package api serves the status surface: current price, alarms, holding,
// live notifications, and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"btcwatch/internal/feed"
	"btcwatch/internal/notify"
	"btcwatch/internal/service"
	"btcwatch/internal/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PriceView exposes the latest processed tick.
type PriceView interface {
	Latest() (service.Snapshot, bool)
}

// FeedControl is the part of the price source the API can see and poke.
type FeedControl interface {
	Status() feed.Status
	Refresh()
	Restart()
}

// NotificationView lists live notifications.
type NotificationView interface {
	Outstanding() []notify.Record
}

// Dependencies wires the handlers.
type Dependencies struct {
	Prices        PriceView
	Feed          FeedControl
	Alarms        *storage.AlarmStore
	Preferences   *storage.Preferences
	Notifications NotificationView
	Location      *time.Location
	Logger        zerolog.Logger
}

// NewRouter registers every route.
//
//	GET    /healthz
//	GET    /v1/price
//	POST   /v1/refresh
//	POST   /v1/feed/restart
//	GET    /v1/alarms
//	POST   /v1/alarms
//	DELETE /v1/alarms/{id}
//	GET    /v1/holding
//	PUT    /v1/holding
//	GET    /v1/notifications
//	GET    /metrics
func NewRouter(deps Dependencies) *mux.Router {
	if deps.Location == nil {
		deps.Location = time.Local
	}
	logger := deps.Logger.With().Str("component", "api").Logger()
	h := &handlers{deps: deps, logger: logger, now: time.Now}

	router := mux.NewRouter()
	router.Use(recovery(logger))
	router.Use(logging(logger))

	router.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/price", h.price).Methods(http.MethodGet)
	v1.HandleFunc("/refresh", h.refresh).Methods(http.MethodPost)
	v1.HandleFunc("/feed/restart", h.restart).Methods(http.MethodPost)
	v1.HandleFunc("/alarms", h.listAlarms).Methods(http.MethodGet)
	v1.HandleFunc("/alarms", h.createAlarm).Methods(http.MethodPost)
	v1.HandleFunc("/alarms/{id}", h.deleteAlarm).Methods(http.MethodDelete)
	v1.HandleFunc("/holding", h.getHolding).Methods(http.MethodGet)
	v1.HandleFunc("/holding", h.putHolding).Methods(http.MethodPut)
	v1.HandleFunc("/notifications", h.notifications).Methods(http.MethodGet)

	return router
}

// Server runs the router on a listener until its context ends.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer prepares an HTTP server on addr.
func NewServer(addr string, handler http.Handler, logger zerolog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With().Str("component", "api_server").Logger(),
	}
}

// Listen binds the address so callers know it is reachable before Serve runs.
func (s *Server) Listen() (net.Listener, error) {
	return net.Listen("tcp", s.srv.Addr)
}

// Serve blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("status api listening")
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	s.logger.Info().Msg("status api stopped")
	return nil
}
