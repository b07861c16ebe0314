// Package otel publishes the engine metrics through an OpenTelemetry Meter.
//
// Each counter becomes an Int64ObservableCounter and each histogram bucket an
// Int64ObservableGauge; one callback reads the engine snapshot per collection.
// The caller owns the MeterProvider.
package otel
