// Package logging assembles structured slog loggers and formatting helpers used
// across cutroom services.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so handlers and pipelines can
// automatically tag log lines with session IDs, asset IDs, stages, and request
// IDs. The package also provides a no-op logger for tests and wiring code that
// cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// data with the same shape and routing guarantees as the rest of the system.
package logging
