// Package preflight checks the runtime environment before the daemon starts.
//
// Checks cover directory access for the configured data, upload, output, and
// log paths, task store connectivity, and availability of the external
// processing commands and ffprobe. Results are plain values so the daemon can
// log them and the CLI can render them as a table.
package preflight
