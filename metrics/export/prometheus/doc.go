// Package prometheus exposes goAdmin engine metrics to Prometheus.
//
// [PrometheusExporter.Handler] serves the text exposition format directly.
// [PrometheusExporter.Collector] plugs the same snapshot into a client_golang
// registry for callers that already run one. Counter names are prefixed
// goadmin_ and end in _total; latency histograms end in _seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry.
//   - Mutate engine state.
package prometheus
