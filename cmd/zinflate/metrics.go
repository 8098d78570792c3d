package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricBytesIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zinflate_bytes_in_total",
		Help: "Total compressed bytes read across all decode operations.",
	})
	metricBytesOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zinflate_bytes_out_total",
		Help: "Total decompressed bytes produced across all decode operations.",
	})
	metricDecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zinflate_decode_errors_total",
		Help: "Total decode operations that returned an error.",
	})
	metricDecodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "zinflate_decode_duration_seconds",
		Help:    "Wall-clock time to decode one file, successful or not.",
		Buckets: prometheus.DefBuckets,
	})
)

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
