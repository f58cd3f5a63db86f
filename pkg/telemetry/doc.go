// Package telemetry provides structured logging, metrics, and tracing for
// the ArrayForge toolchain.
//
// Logging is built on zerolog and carried through context so fetch and
// compile paths can attach archive, module, and cache-key fields without
// threading a logger explicitly. Metrics are Prometheus collectors covering
// archive fetches, checksum verification, backend compilation, and the
// persistent compilation cache. Tracing uses OpenTelemetry with stdout or
// OTLP exporters.
package telemetry
