// Package metrics exposes the daemon's Prometheus instrumentation.
//
// Collectors are registered with the default registry via promauto; the
// server mounts promhttp on /metrics behind authentication.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TerminalsActive is the number of live PTY↔WebSocket bindings.
	TerminalsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayd_terminals_active",
		Help: "Number of active terminal connections.",
	})

	// AttachesTotal counts successful terminal attachments.
	AttachesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayd_attaches_total",
		Help: "Total successful terminal attachments.",
	})

	// AttachRejectsTotal counts attach requests rejected per conflict kind.
	AttachRejectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayd_attach_rejects_total",
		Help: "Attach requests rejected, by error code.",
	}, []string{"code"})

	// BytesOut counts PTY output bytes delivered to clients.
	BytesOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayd_terminal_bytes_out_total",
		Help: "PTY output bytes sent to clients.",
	})

	// BytesIn counts client input bytes written to PTYs.
	BytesIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayd_terminal_bytes_in_total",
		Help: "Client input bytes written to PTYs.",
	})

	// SessionsDiscovered is the current size of discovery's metadata map.
	SessionsDiscovered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayd_sessions_discovered",
		Help: "Sessions currently known to discovery.",
	})

	// SSEClients is the number of connected session-stream clients.
	SSEClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayd_sse_clients",
		Help: "Connected SSE session-stream clients.",
	})
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
