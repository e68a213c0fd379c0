package obs

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics are the counters exported by the credential service. Callers
// mount the handler themselves; nothing registers globally.
type Metrics struct {
	Logins           *prometheus.CounterVec
	Registrations    *prometheus.CounterVec
	Rotations        *prometheus.CounterVec
	Logouts          prometheus.Counter
	ResetRequests    *prometheus.CounterVec
	ResetCompletions *prometheus.CounterVec
	RateLimited      *prometheus.CounterVec
}

// NewMetrics registers the service counters with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Logins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_logins_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		Registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_registrations_total",
			Help: "Registration attempts by result.",
		}, []string{"result"}),
		Rotations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_refresh_rotations_total",
			Help: "Refresh-token rotation attempts by result.",
		}, []string{"result"}),
		Logouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "authcore_logouts_total",
			Help: "Completed logouts.",
		}),
		ResetRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_password_reset_requests_total",
			Help: "Password-reset initiations by result.",
		}, []string{"result"}),
		ResetCompletions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_password_reset_completions_total",
			Help: "Password-reset completions by result.",
		}, []string{"result"}),
		RateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_rate_limited_total",
			Help: "Requests denied by the rate limiter, by scope.",
		}, []string{"scope"}),
	}
}

// BootstrapOpsServer starts the operational listener serving /metrics and
// /healthz in a background goroutine and returns the server for shutdown.
func BootstrapOpsServer(addr string, gatherer prometheus.Gatherer, health func(context.Context) error, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		if err := health(ctx); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("ops listener started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops listener error", zap.Error(err))
		}
	}()

	return srv
}
