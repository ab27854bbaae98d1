// Package server exposes the engine's minimal HTTP API: current
// opportunities, manual execution, trade lookup, risk pre-approval and a
// health probe.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantfold/crossarb/internal/domain"
	"github.com/quantfold/crossarb/internal/executor"
)

// OpportunitySource produces a fresh opportunity list on demand.
type OpportunitySource interface {
	Rescan(ctx context.Context) ([]domain.ArbitrageOpportunity, error)
}

// Gate is the risk surface exposed over HTTP.
type Gate interface {
	Snapshot(ctx context.Context) (domain.PortfolioSnapshot, error)
	Approve(ctx context.Context, trade domain.ProposedTrade, snap domain.PortfolioSnapshot) (domain.Decision, error)
}

// TradeExecutor runs one arbitrage execution.
type TradeExecutor interface {
	Execute(ctx context.Context, opp domain.ArbitrageOpportunity, amount float64) (executor.Result, error)
}

// TradeHistory reads back persisted arbitrage trade records, including the
// buy_filled and partial_fill states an operator needs to inspect.
type TradeHistory interface {
	GetArbitrageTrade(ctx context.Context, id string) (domain.ArbitrageTrade, error)
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with all routes registered.
func New(addr string, opps OpportunitySource, gate Gate, exec TradeExecutor, trades TradeHistory, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	h := &handlers{
		opps:   opps,
		gate:   gate,
		exec:   exec,
		trades: trades,
		logger: logger,
	}

	srv := &http.Server{
		Addr:         addr,
		Handler:      logging(logger)(newMux(h)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, logger: logger}
}

func newMux(h *handlers) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("GET /opportunities", h.listOpportunities)
	mux.HandleFunc("GET /arbitrage/trades/{id}", h.getArbitrageTrade)
	mux.HandleFunc("POST /arbitrage/execute", h.executeArbitrage)
	mux.HandleFunc("POST /risk/approve", h.approveRisk)
	return mux
}

// Start begins listening. It blocks until the server errors or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// logging wraps the handler with structured request logging.
func logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			logger.InfoContext(r.Context(), "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rw.status),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}
