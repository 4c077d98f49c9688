// Package app wires the acquisition pipeline together: it loads the area of
// interest, tiles it, gates on imagery availability, builds the jobs and
// hands them to the orchestrator. It is decoupled from any specific
// entrypoint like a CLI.
package app
