package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	callsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "k3ng_gateway_calls_total",
			Help: "Total number of rotator operations, by method and failure kind.",
		},
		[]string{"method", "result"},
	)

	callDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "k3ng_gateway_call_duration_seconds",
			Help:    "Rotator operation duration in seconds, including waiting for the link.",
			Buckets: []float64{.1, .25, .5, 1, 2, 4, 8},
		},
		[]string{"method"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "k3ng_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	statusClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "k3ng_status_clients",
		Help: "Connected status stream clients.",
	})
)

func init() {
	prometheus.MustRegister(callsTotal)
	prometheus.MustRegister(callDurationSeconds)
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(statusClients)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCall records one rotator operation. result is "ok" or a failure kind.
func ObserveCall(method, result string, d time.Duration) {
	if result == "" {
		result = "error"
	}
	callsTotal.WithLabelValues(method, result).Inc()
	callDurationSeconds.WithLabelValues(method).Observe(d.Seconds())
}

// StatusClient adjusts the connected stream client gauge by delta.
func StatusClient(delta int) {
	statusClients.Add(float64(delta))
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the status socket upgrade through the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer cannot hijack")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Middleware counts requests by route template when one is known.
func Middleware(path func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)
			httpRequestsTotal.WithLabelValues(path(r), r.Method, strconv.Itoa(rw.statusCode)).Inc()
		})
	}
}
