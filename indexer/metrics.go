package indexer

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "indexer"

type Metrics struct {
	PairsIndexed      prometheus.Counter
	PairsSkipped      prometheus.Counter
	ReservesRefreshed prometheus.Counter
	TaskAttempts      *prometheus.CounterVec
	TokenCacheHits    prometheus.Counter
	TokenFetches      *prometheus.CounterVec
	SkipLedgerErrors  *prometheus.CounterVec
}

// NewMetrics creates the indexer metrics and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		PairsIndexed: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pairs_indexed_total",
			Help:      "Number of pairs persisted.",
		}),
		PairsSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pairs_skipped_total",
			Help:      "Number of pairs given up on after all retry attempts.",
		}),
		ReservesRefreshed: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reserves_refreshed_total",
			Help:      "Number of reserve snapshots appended for already indexed pairs.",
		}),
		TaskAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "task_attempts_total",
			Help:      "Number of task attempts by task kind.",
		}, []string{"kind"}),
		TokenCacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "token_cache_hits_total",
			Help:      "Number of pairs whose tokens were both resolved from the cache.",
		}),
		TokenFetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "token_metadata_fetches_total",
			Help:      "Number of token metadata reads by result.",
		}, []string{"result"}),
		SkipLedgerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "skip_ledger_errors_total",
			Help:      "Number of skipped pair markers that could not be written, by operation.",
		}, []string{"op"}),
	}
}

// ServeMetrics exposes the default registry on address until ctx is done.
func ServeMetrics(ctx context.Context, address string) error {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	server := &http.Server{
		Addr:              address,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zlog.Warn("Metrics server shutdown: %v", err)
		}
	}()

	zlog.Info("Serving metrics on %s", address)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
