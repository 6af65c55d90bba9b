package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// HTTP surface metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentd_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"route", "method", "code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentd_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	ActiveRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agentd_active_requests",
		Help: "Current in-flight requests",
	})

	// Instance lifecycle metrics
	InstanceLaunchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentd_instance_launch_total",
		Help: "Instance launch attempts by outcome",
	}, []string{"outcome"})

	InstanceLaunchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "agentd_instance_launch_duration_seconds",
		Help:    "Spawn-to-port-discovery duration",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	InstanceExitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentd_instance_exit_total",
		Help: "Instance exits by outcome",
	}, []string{"outcome"})

	InstancesRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agentd_instances_running",
		Help: "Instances currently in ready state",
	})

	// Gateway metrics
	ProxyRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentd_proxy_requests_total",
		Help: "Proxied requests by outcome",
	}, []string{"outcome"})

	ProxyRequestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "agentd_proxy_request_duration_seconds",
		Help:    "Buffered proxy round-trip duration",
		Buckets: prometheus.DefBuckets,
	})

	ProxyStreamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agentd_proxy_streams_active",
		Help: "Open event-stream proxy connections",
	})

	// Event bus metrics
	BusEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentd_bus_events_total",
		Help: "Events published to the bus",
	}, []string{"type"})

	BusEventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agentd_bus_events_dropped_total",
		Help: "Events dropped toward slow subscribers",
	})

	BusSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agentd_bus_subscribers",
		Help: "Current bus subscriber count",
	})
)

func RegisterAll(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, ActiveRequests,
		InstanceLaunchTotal, InstanceLaunchDuration, InstanceExitTotal, InstancesRunning,
		ProxyRequestsTotal, ProxyRequestDuration, ProxyStreamsActive,
		BusEventsTotal, BusEventsDropped, BusSubscribers,
	)
}
