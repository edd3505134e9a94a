// Package metrics defines the Prometheus collectors exported by metmac.
//
// Collectors register with the default registry at init and are served by
// Handler on the dashboard's /metrics route. The buffer reports pending
// depth, flush outcomes and batch sizes; the storage backends report
// committed events and query latency; the dashboard server reports request
// counts and latency per route.
package metrics
