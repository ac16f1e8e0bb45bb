// Package preflight provides readiness checks for the directories, programs
// and remote services cutroom depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll and CheckSystemDeps once at startup and logs a
//     warning per failed check; the server still starts so that features
//     with working dependencies stay usable.
//   - The CLI "cutroom status" command and GET /api/status render the same
//     results, plus the config-only Features summary.
//
// Network checks are gated by their credentials: a provider without a key is
// reported as not configured rather than probed.
package preflight
