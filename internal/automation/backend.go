// Package automation spawns and supervises the companion browser-automation
// subprocess, an MCP server driven over its standard streams. At most one
// instance is active per bridge, enforced in-process by the manager and
// across processes by a file lock.
package automation

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sort"
)

// Backend describes one launchable automation backend.
type Backend struct {
	// Command and Args launch the backend's MCP server on stdio.
	Command string
	Args    []string

	// Package is what the install step fetches when the spawn fails
	// with "not found".
	Package string

	// HeadlessFlag is appended when the caller asks for headless mode.
	HeadlessFlag string
}

// backends are the known automation backends, launched through npx so the
// user's installed version wins.
var backends = map[string]Backend{
	"chrome-devtools": {
		Command:      "npx",
		Args:         []string{"chrome-devtools-mcp@latest"},
		Package:      "chrome-devtools-mcp",
		HeadlessFlag: "--headless",
	},
	"playwright": {
		Command:      "npx",
		Args:         []string{"@playwright/mcp@latest"},
		Package:      "@playwright/mcp",
		HeadlessFlag: "--headless",
	},
}

// DefaultBackend is used when the caller names none.
const DefaultBackend = "chrome-devtools"

// LookupBackend resolves a backend name.
func LookupBackend(name string) (Backend, error) {
	if name == "" {
		name = DefaultBackend
	}
	b, ok := backends[name]
	if !ok {
		return Backend{}, fmt.Errorf("unknown automation backend %q (known: %v)", name, BackendNames())
	}
	return b, nil
}

// BackendNames lists the known backend names, sorted.
func BackendNames() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options selects what to spawn.
type Options struct {
	Backend  string `json:"backend"`
	Headless bool   `json:"headless"`
}

// process abstracts the spawned subprocess so the state machine can be
// exercised without real child processes.
type process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	PID() int
	// Wait blocks until the process exits.
	Wait() error
	// Terminate asks the process to exit, escalating to a hard kill.
	Terminate()
}

// execProcess wraps a started exec.Cmd.
type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }
func (p *execProcess) PID() int              { return p.cmd.Process.Pid }
func (p *execProcess) Wait() error           { return p.cmd.Wait() }

func (p *execProcess) Terminate() {
	p.stdin.Close()
	terminateProcess(p.cmd)
}

// spawnBackend starts the backend process with its stdio wired for the
// protocol connection. Stderr is discarded; the backend's logs are not the
// bridge's to interpret.
func spawnBackend(ctx context.Context, backend Backend, headless bool) (process, error) {
	args := append([]string{}, backend.Args...)
	if headless && backend.HeadlessFlag != "" {
		args = append(args, backend.HeadlessFlag)
	}

	cmd := exec.CommandContext(ctx, backend.Command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, err
	}
	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

// installBackend runs the one-time install step for a backend whose spawn
// failed with "not found".
func installBackend(ctx context.Context, backend Backend) error {
	cmd := exec.CommandContext(ctx, "npm", "install", "--global", backend.Package)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("npm install %s: %w: %s", backend.Package, err, output)
	}
	return nil
}
