package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	labelTopic     = "topic"
	labelPartition = "partition"
)

var (
	RecordsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "basin",
		Subsystem: "sink",
		Name:      "records_accepted_total",
		Help:      "Number of records accepted into partition buffers.",
	}, []string{labelTopic, labelPartition})

	RecordsFlushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "basin",
		Subsystem: "sink",
		Name:      "records_flushed_total",
		Help:      "Number of records handed to the ingestion channel.",
	}, []string{labelTopic, labelPartition})

	Flushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "basin",
		Subsystem: "sink",
		Name:      "flushes_total",
		Help:      "Number of buffer flushes, successful or not.",
	}, []string{labelTopic, labelPartition})

	FlushErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "basin",
		Subsystem: "sink",
		Name:      "flush_errors_total",
		Help:      "Number of flushes that exhausted their retry budget or failed fatally.",
	}, []string{labelTopic, labelPartition})

	WriteRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "basin",
		Subsystem: "sink",
		Name:      "write_retries_total",
		Help:      "Number of channel reopen-and-resubmit cycles after transient write failures.",
	}, []string{labelTopic, labelPartition})

	BufferedBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "basin",
		Subsystem: "sink",
		Name:      "buffered_bytes",
		Help:      "Approximate bytes currently buffered for the partition.",
	}, []string{labelTopic, labelPartition})

	CommittedOffset = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "basin",
		Subsystem: "sink",
		Name:      "committed_offset",
		Help:      "Last offset the remote store confirmed durable for the partition.",
	}, []string{labelTopic, labelPartition})

	FlushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "basin",
		Subsystem: "sink",
		Name:      "flush_duration_seconds",
		Help:      "Wall time of a flush including retries.",
		Buckets:   prometheus.DefBuckets,
	}, []string{labelTopic, labelPartition})
)

func Expose(port int) {
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		_ = http.ListenAndServe(fmt.Sprintf(":%d", port), nil)
	}()
}
