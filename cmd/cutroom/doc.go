// Command cutroom runs the local media server behind the browser editor and
// offers maintenance commands that work on the data directory directly:
//
//	cutroom serve                 run the HTTP server in the foreground
//	cutroom status                dependency, preflight and feature report
//	cutroom config init|show|path|validate
//	cutroom sessions list|delete|sweep
//	cutroom assets list <session>
//	cutroom project export <session> [--format json|yaml]
//
// Maintenance commands open the session catalog themselves, so they work
// whether or not a server is running.
package main
