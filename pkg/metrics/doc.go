/*
Package metrics provides Prometheus metrics and health state for archapi.

All metrics are registered with the default registry at package init and
served by Handler on /metrics.

# Architecture

	┌──────────── ledger / fleet / catalog ────────────┐
	│  publish lifecycle events on the broker           │
	└──────────────────────┬────────────────────────────┘
	                       │ events.Event
	┌──────────────────────▼────────────────────────────┐
	│                  Collector                         │
	│  - counts job, clear, rejection, catalog events   │
	│  - samples the ledger into gauges every 15s       │
	└──────────────────────┬────────────────────────────┘
	                       │
	┌──────────────────────▼────────────────────────────┐
	│          Prometheus default registry              │
	│  direct observations from the orchestrator,       │
	│  fleet members, registry client and API           │
	└──────────────────────┬────────────────────────────┘
	                       │
	                   /metrics

# Metrics

Jobs:

	archapi_jobs_created_total{kind}
	archapi_jobs_total{kind, status}           finished jobs
	archapi_ledger_jobs{status}                jobs currently in the ledger
	archapi_job_duration_seconds{kind}
	archapi_ledger_clears_total

Containers:

	archapi_container_action_duration_seconds{action}
	archapi_container_action_errors_total{action}

Fleets:

	archapi_fleet_operations_total{operation, status}
	archapi_fleet_member_request_duration_seconds{endpoint}
	archapi_fleet_member_failures_total{endpoint, kind}
	archapi_fleet_admission_rejections_total
	archapi_devices_discovered

Other:

	archapi_registry_request_duration_seconds{kind}
	archapi_catalog_changes_total
	archapi_api_requests_total{method, route, status}
	archapi_api_request_duration_seconds{method, route}

The status label of API requests is the envelope status, since every
envelope is sent with HTTP 200.

# Health

Components report themselves with RegisterComponent and UpdateComponent.
GetReadiness is ready once every critical component (catalog, runtime
and api by default) is registered and healthy:

	metrics.RegisterComponent("runtime", true, "")
	metrics.UpdateComponent("api", false, "shutting down")

# Timing

	timer := metrics.NewTimer()
	err := rt.PullImage(ctx, ref)
	timer.ObserveDurationVec(metrics.ContainerActionDuration, "pull")
*/
package metrics
