// Package assets registers media files inside sessions and owns the in-place
// replacement used by every destructive edit.
//
// An asset's id never changes. Edits stage output in the session tmp/
// directory, refuse empty results, rename over the original under a
// per-asset lock, bump editCount, re-probe and refresh the thumbnail. The
// freshness token ("<mtime>-<editCount>") lets clients cache-bust stream URLs.
package assets
