// Package services defines shared utilities consumed by the media pipelines
// and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp session IDs, asset IDs, stage names, and
//     request identifiers for logging and tracing.
//   - The error taxonomy: sentinel markers plus ServiceError, which carries
//     operation, stage, and captured tool output. Kind, HTTPStatus, and
//     Retryable translate a failure into the API's wire representation.
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// (error classification, observability) stays uniform across the server.
package services
