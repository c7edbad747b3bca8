package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "shell_host",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shell_host",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shell_host",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	moduleLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shell_host",
			Subsystem: "modules",
			Name:      "loads_total",
			Help:      "Total number of module load attempts.",
		},
		[]string{"module", "mode", "status"},
	)

	moduleLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shell_host",
			Subsystem: "modules",
			Name:      "load_duration_seconds",
			Help:      "Duration of module load attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"mode"},
	)

	remoteAvailable = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "shell_host",
			Subsystem: "modules",
			Name:      "remote_available",
			Help:      "Whether a remote module's deployment answered its last probe.",
		},
		[]string{"module"},
	)

	busEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shell_host",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of events published on the channel.",
		},
		[]string{"kind", "result"},
	)

	busDispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shell_host",
			Subsystem: "events",
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of event dispatch across all subscribers.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		},
		[]string{"kind"},
	)

	routeLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shell_host",
			Subsystem: "routes",
			Name:      "lookups_total",
			Help:      "Total number of route resolution attempts.",
		},
		[]string{"outcome"},
	)

	wsClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "shell_host",
			Subsystem: "events",
			Name:      "websocket_clients",
			Help:      "Current number of connected event stream clients.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		moduleLoads,
		moduleLoadDuration,
		remoteAvailable,
		busEvents,
		busDispatchDuration,
		routeLookups,
		wsClients,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordModuleLoad records the outcome of a module load attempt.
func RecordModuleLoad(module, mode string, ok bool, duration time.Duration) {
	if mode == "" {
		mode = "unknown"
	}
	status := "failure"
	if ok {
		status = "success"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	moduleLoads.WithLabelValues(module, mode, status).Inc()
	moduleLoadDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordRemoteAvailability records the latest probe outcome for a remote
// module.
func RecordRemoteAvailability(module string, available bool) {
	value := 0.0
	if available {
		value = 1.0
	}
	remoteAvailable.WithLabelValues(module).Set(value)
}

// RecordEventDispatch records a completed event dispatch.
func RecordEventDispatch(kind, result string, duration time.Duration) {
	busEvents.WithLabelValues(kind, result).Inc()
	if duration < 0 {
		duration = 0
	}
	busDispatchDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordRouteLookup records a route resolution attempt.
func RecordRouteLookup(found bool) {
	outcome := "miss"
	if found {
		outcome = "hit"
	}
	routeLookups.WithLabelValues(outcome).Inc()
}

// WebSocketClientConnected increments the connected client gauge.
func WebSocketClientConnected() { wsClients.Inc() }

// WebSocketClientDisconnected decrements the connected client gauge.
func WebSocketClientDisconnected() { wsClients.Dec() }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack passes protocol upgrades (websockets) through to the
// underlying connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// canonicalPath collapses request paths to their first segment so label
// cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.SplitN(trimmed, "/", 3)
	if parts[0] != "api" || len(parts) == 1 {
		return "/" + parts[0]
	}
	return "/api/" + parts[1]
}
