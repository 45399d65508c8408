// Package app contains the core application logic. It wires the job file
// loader, the result harness and the parallel runner together and owns the
// run lifecycle, decoupled from any specific entrypoint like a CLI.
package app
