package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"fieldserve/internal/config"
	"fieldserve/internal/database"
	"fieldserve/internal/export"
	"fieldserve/internal/metrics"
	"fieldserve/internal/models"
	"fieldserve/internal/payment"
	"fieldserve/internal/service"
)

// HTTPServer exposes the marketplace API.
type HTTPServer struct {
	cfg      config.APIConfig
	jobs     *service.JobService
	bids     *service.BidService
	bookings *service.BookingService
	ledger   *service.LedgerService
	gateway  *payment.Client
	exporter *export.Exporter
	server   *http.Server
	auth     *HTTPAuth
	logger   *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, jobs *service.JobService, bids *service.BidService, bookings *service.BookingService, ledger *service.LedgerService, gateway *payment.Client, exporter *export.Exporter, logger *zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{
		cfg:      cfg,
		jobs:     jobs,
		bids:     bids,
		bookings: bookings,
		ledger:   ledger,
		gateway:  gateway,
		exporter: exporter,
		logger:   logger,
	}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("/api/v1/jobs", srv.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", srv.handleJobByID)
	mux.HandleFunc("/api/v1/bids", srv.handleBids)
	mux.HandleFunc("/api/v1/bids/accept", srv.handleAcceptBid)
	mux.HandleFunc("/api/v1/bids/decline", srv.handleDeclineBid)
	mux.HandleFunc("/api/v1/bids/cancel", srv.handleCancelBid)
	mux.HandleFunc("/api/v1/bookings/", srv.handleBookingByID)
	mux.HandleFunc("/api/v1/bookings/status", srv.handleBookingStatus)
	mux.HandleFunc("/api/v1/bookings/extra-work", srv.handleExtraWork)
	mux.HandleFunc("/api/v1/extra-work/cancel", srv.handleCancelExtraWork)
	mux.HandleFunc("/api/v1/wallet/balance", srv.handleWalletBalance)
	mux.HandleFunc("/api/v1/wallet/topup", srv.handleWalletTopup)
	mux.HandleFunc("/api/v1/payments/webhook", srv.handleWebhook)
	mux.HandleFunc("/api/v1/exports/transactions", srv.handleExportTransactions)
	mux.HandleFunc("/api/v1/exports/statement", srv.handleExportStatement)
	mux.HandleFunc("/healthz", srv.handleHealth)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

// Handler returns the routed handler stack, used directly by tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		metrics.IncHTTP(r.URL.Path)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeServiceError translates domain errors into HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var transition *models.InvalidTransitionError
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &transition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, database.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "insufficient wallet balance")
	case errors.Is(err, database.ErrDuplicateBid):
		writeError(w, http.StatusConflict, "partner already has a pending bid on this job")
	case errors.Is(err, database.ErrJobNotOpen):
		writeError(w, http.StatusConflict, "job is not open for bidding")
	case errors.Is(err, database.ErrConflict),
		errors.Is(err, database.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "conflicting concurrent update, retry")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
