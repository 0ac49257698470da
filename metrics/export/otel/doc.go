// Package otel binds goAdmin engine metrics to an OpenTelemetry Meter.
//
// [NewOTelExporter] registers one Int64ObservableCounter per counter
// family, with an outcome attribute per engine counter, and a bucket gauge
// plus a count counter per latency histogram. One callback reads
// [goAdmin.Engine.MetricsSnapshot] on each collection.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
