// Package server exposes the session, asset, editing, render and generation
// operations over HTTP for the browser editor.
//
// Routes are declared once in a table (see routes.go) and checked when the
// server is built: every method and path pair is unique, every handler is
// set, and every session-scoped path carries the {id} variable. The table is
// mounted on a gorilla/mux router and wrapped with gorilla/handlers for CORS,
// panic recovery and combined access logging, plus an optional bearer token
// and a per-request X-Request-ID that flows into the structured logs.
//
// Failures are reported as {error, kind, operation, stage, detail,
// retryable} with the status taken from services.HTTPStatus.
package server
