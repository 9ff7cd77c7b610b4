// Package metrics provides Prometheus metrics for the stoscan scanner and API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scanner metrics
	blocksScannedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stoscan_blocks_scanned_total",
		Help: "Total number of blocks covered by transfer scans",
	}, []string{"token"})

	transferEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stoscan_transfer_events_total",
		Help: "Total number of Transfer events processed",
	}, []string{"token"})

	scanDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stoscan_scan_duration_seconds",
		Help:    "Time spent per scan run",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	scanFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stoscan_scan_failures_total",
		Help: "Total number of scan failures by stage",
	}, []string{"stage"}) // stage=config|status|filter|store|balance

	chunkRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stoscan_chunk_retries_total",
		Help: "Total number of chunk retries after RPC errors",
	})

	rpcErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stoscan_rpc_errors_total",
		Help: "Total number of node RPC errors by call",
	}, []string{"call"}) // call=filter_logs|header|latest|meta|send

	holdersGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stoscan_token_holders",
		Help: "Number of holders with a non-zero balance (last scan)",
	}, []string{"token"})

	scanHeadGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stoscan_scan_end_block",
		Help: "Last scanned block per token",
	}, []string{"token"})

	// Distribution metrics
	distributionEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stoscan_distribution_entries_total",
		Help: "Distribution entries by terminal status",
	}, []string{"status"}) // status=pending|broadcast|failed

	// Cache metrics
	timestampCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stoscan_timestamp_cache_total",
		Help: "Block timestamp cache lookups by outcome",
	}, []string{"outcome"}) // outcome=hit|miss
)

func AddBlocksScanned(token string, n uint64) {
	blocksScannedTotal.WithLabelValues(token).Add(float64(n))
}

func AddTransferEvents(token string, n int) {
	transferEventsTotal.WithLabelValues(token).Add(float64(n))
}

func ObserveScanDuration(seconds float64) { scanDurationSeconds.Observe(seconds) }

func IncScanFailure(stage string) { scanFailuresTotal.WithLabelValues(stage).Inc() }

func IncChunkRetry() { chunkRetriesTotal.Inc() }

func IncRPCError(call string) { rpcErrorsTotal.WithLabelValues(call).Inc() }

func RecordHolders(token string, n int) {
	holdersGauge.WithLabelValues(token).Set(float64(n))
}

func RecordScanEndBlock(token string, block uint64) {
	scanHeadGauge.WithLabelValues(token).Set(float64(block))
}

func IncDistributionEntries(status string, n int) {
	distributionEntriesTotal.WithLabelValues(status).Add(float64(n))
}

func IncTimestampCache(outcome string) {
	timestampCacheTotal.WithLabelValues(outcome).Inc()
}
