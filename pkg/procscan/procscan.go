// Package procscan provides read-only access to the local process table.
// Discovery uses it to find runtime dev servers by command line and to
// attribute listening ports to processes.
package procscan

import "context"

// Process is one entry from the process table.
type Process struct {
	PID     int    `json:"pid"`
	Command string `json:"command"`
}

// List returns the current process table. A permissions or tooling failure
// returns an error; callers are expected to degrade rather than abort.
func List(ctx context.Context) ([]Process, error) {
	return listProcesses(ctx)
}

// PortOwner returns the PID of the process listening on the given TCP port,
// or 0 if it cannot be determined.
func PortOwner(ctx context.Context, port int) int {
	return portOwner(ctx, port)
}
