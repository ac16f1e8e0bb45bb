// Package config loads, normalizes, and validates cutroom configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OPENROUTER_API_KEY, OPENAI_API_KEY and REPLICATE_API_TOKEN (optionally
// sourced from a .env file). The Config type centralizes every knob the daemon
// and CLI need, allowing the session data directory, tool binaries, and
// external service credentials to be discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
