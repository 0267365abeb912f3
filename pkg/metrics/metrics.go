package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job metrics
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archapi_jobs_total",
			Help: "Total number of finished jobs by kind and final status",
		},
		[]string{"kind", "status"},
	)

	JobsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archapi_jobs_created_total",
			Help: "Total number of admitted jobs by kind",
		},
		[]string{"kind"},
	)

	JobsInLedger = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "archapi_ledger_jobs",
			Help: "Number of jobs currently held in the ledger by status",
		},
		[]string{"status"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archapi_job_duration_seconds",
			Help:    "Time from admission to terminal status in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"kind"},
	)

	LedgerClears = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "archapi_ledger_clears_total",
			Help: "Total number of explicit job ledger clears",
		},
	)

	// Container runtime metrics
	ContainerActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archapi_container_action_duration_seconds",
			Help:    "Container runtime action duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	ContainerActionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archapi_container_action_errors_total",
			Help: "Total number of failed container runtime actions",
		},
		[]string{"action"},
	)

	// Fleet metrics
	FleetOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archapi_fleet_operations_total",
			Help: "Total number of fleet operations by operation and envelope status",
		},
		[]string{"operation", "status"},
	)

	FleetMemberRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archapi_fleet_member_request_duration_seconds",
			Help:    "Duration of HTTP calls to fleet members in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	FleetMemberFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archapi_fleet_member_failures_total",
			Help: "Total number of failed fleet member calls by endpoint and error kind",
		},
		[]string{"endpoint", "kind"},
	)

	FleetAdmissionRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "archapi_fleet_admission_rejections_total",
			Help: "Total number of fleet set-configuration calls rejected at admission",
		},
	)

	DevicesDiscovered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "archapi_devices_discovered",
			Help: "Number of devices found online by the last discovery scan",
		},
	)

	// Registry metrics
	RegistryRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archapi_registry_request_duration_seconds",
			Help:    "Duration of container registry requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Catalog metrics
	CatalogChanges = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "archapi_catalog_changes_total",
			Help: "Total number of module definition changes picked up by the watcher",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archapi_api_requests_total",
			Help: "Total number of API requests by method, route and envelope status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archapi_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobsCreated)
	prometheus.MustRegister(JobsInLedger)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(LedgerClears)
	prometheus.MustRegister(ContainerActionDuration)
	prometheus.MustRegister(ContainerActionErrors)
	prometheus.MustRegister(FleetOperationsTotal)
	prometheus.MustRegister(FleetMemberRequestDuration)
	prometheus.MustRegister(FleetMemberFailures)
	prometheus.MustRegister(FleetAdmissionRejections)
	prometheus.MustRegister(DevicesDiscovered)
	prometheus.MustRegister(RegistryRequestDuration)
	prometheus.MustRegister(CatalogChanges)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
