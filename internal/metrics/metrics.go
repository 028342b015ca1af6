// Package metrics exposes the process's Prometheus counters and gauges,
// registered via promauto at package init the way xg2g's ffmpeg runner
// registers its process metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splashcast_frames_sent_total",
		Help: "Total number of access units written to the RTP sender.",
	})

	SwitchTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splashcast_switch_total",
		Help: "Total number of boundary-synchronous active-sequence switches.",
	})

	PTSResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splashcast_pts_resets_total",
		Help: "Total number of times next_pts_ns was reset to 0 by Start.",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "splashcast_queue_depth",
		Help: "Current number of pending sequences in the queue engine.",
	})

	ExternalActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "splashcast_external_active",
		Help: "1 when the UDP monitor considers an external sender active, else 0.",
	})
)

// Handler returns the promhttp handler for mounting on a metrics listener.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts a dedicated metrics listener on addr, serving /metrics.
// It runs until the process exits or the listener errors; callers
// typically launch it in its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
