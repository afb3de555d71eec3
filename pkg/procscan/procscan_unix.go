//go:build !windows

package procscan

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
)

// listProcesses shells out to ps, which is available on every platform we
// support and needs no elevated privileges for the caller's own processes.
func listProcesses(ctx context.Context) ([]Process, error) {
	cmd := exec.CommandContext(ctx, "ps", "-eo", "pid=,args=")
	output, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	return parsePSOutput(string(output)), nil
}

// parsePSOutput parses "PID COMMAND ARGS..." lines. Lines that don't start
// with a PID are skipped rather than treated as errors.
func parsePSOutput(output string) []Process {
	var procs []Process
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		pid, err := strconv.Atoi(fields[0])
		if err != nil || pid <= 0 {
			continue
		}
		command := ""
		if len(fields) == 2 {
			command = strings.TrimSpace(fields[1])
		}
		procs = append(procs, Process{PID: pid, Command: command})
	}
	return procs
}

// portOwner uses lsof to attribute a listening TCP port to a PID.
func portOwner(ctx context.Context, port int) int {
	cmd := exec.CommandContext(ctx, "lsof", "-nP", "-t",
		"-iTCP:"+strconv.Itoa(port), "-sTCP:LISTEN")
	output, err := cmd.Output()
	if err != nil {
		return 0
	}
	first := strings.TrimSpace(strings.SplitN(string(output), "\n", 2)[0])
	pid, err := strconv.Atoi(first)
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}
