// Package catalog indexes sessions and finished renders in SQLite.
//
// The session directory tree remains the source of truth; the catalog only
// answers questions that would otherwise need a full directory scan: which
// sessions have been idle past their TTL, and which renders a session has
// produced. Writes retry on SQLITE_BUSY with bounded backoff.
package catalog
