// Package telemetry sets up optional tracing and run metrics.
//
// Tracing uses the OpenTelemetry SDK with the stdout exporter, so spans from
// the gate (devicegate.run, machineid.register, machineid.validate, task.run)
// can be inspected without a collector. Metrics are Prometheus counters in a
// private registry, pushed once to a Pushgateway at the end of a run since a
// gate process is too short-lived to be scraped.
package telemetry
