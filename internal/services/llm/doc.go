// Package llm provides an OpenRouter-compatible chat client that returns JSON.
//
// This package is used by:
//   - commands: turn a natural-language instruction into a command spec
//   - animation: turn a prompt into a motion-graphics scene
//
// # Configuration
//
// Requires api_key, model, and optionally base_url, referer, title, timeout.
// Callers check Configured and report a configuration error when it is false.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.CompleteJSON: send system/user prompts, receive the raw JSON response.
// Client.CompleteInto: CompleteJSON plus DecodeJSON into a target value.
// Client.HealthCheck: verify API key and model availability.
//
// # Retry Behaviour
//
// Requests are retried on HTTP 408, 429 and 5xx replies, on empty answers and
// on network timeouts: five attempts by default, delays doubling from 1s up to
// 10s, Retry-After honoured. Cancelling the context stops retrying.
package llm
