package fetch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "indexer"

var (
	checkpointHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "sync",
		Name:      "checkpoint_height",
		Help:      "Checkpoint height per chain",
	}, []string{"chain"})

	safeHeadHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "sync",
		Name:      "safe_head_height",
		Help:      "Chain tip minus reorg protection, per chain",
	}, []string{"chain"})

	syncLive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "sync",
		Name:      "live",
		Help:      "1 when the indexer is live, 0 while catching up",
	})

	blocksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "sync",
		Name:      "blocks_processed_total",
		Help:      "Blocks indexed per chain",
	}, []string{"chain"})

	eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "sync",
		Name:      "events_processed_total",
		Help:      "Staking events applied per chain and event name",
	}, []string{"chain", "event"})

	rpcRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "rpc",
		Name:      "retries_total",
		Help:      "Retried remote calls per operation",
	}, []string{"operation"})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "sync",
		Name:      "ledger_batch_duration_seconds",
		Help:      "Duration of one ledger batch run",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	consistencyErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "sync",
		Name:      "consistency_errors_total",
		Help:      "Fatal consistency violations per chain",
	}, []string{"chain"})
)

func countRetry(operation string, _ error) {
	rpcRetries.WithLabelValues(operation).Inc()
}
