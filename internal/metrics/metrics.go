package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes used as the "outcome" label of APIRequests.
const (
	OutcomeOK           = "ok"
	OutcomeRetryable    = "retryable"
	OutcomeNonRetryable = "non_retryable"
	OutcomeTransport    = "transport"
)

var (
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airtap_api_requests_total",
		Help: "Airtable API requests by outcome",
	}, []string{"outcome"})

	RecordsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airtap_records_emitted_total",
		Help: "Normalized records handed to the sink, per stream",
	}, []string{"stream"})

	StreamFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airtap_stream_failures_total",
		Help: "Streams that aborted with an error",
	}, []string{"stream"})
)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
}
