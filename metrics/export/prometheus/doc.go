// Package prometheus renders the engine's counters and latency histogram in
// the Prometheus text exposition format. Nothing is registered globally; the
// caller mounts Handler wherever it serves /metrics.
package prometheus
