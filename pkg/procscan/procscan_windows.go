//go:build windows

package procscan

import (
	"context"
	"encoding/csv"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// listProcesses uses wmic because tasklist does not expose full command
// lines, which the caller matches launch signatures against.
func listProcesses(ctx context.Context) ([]Process, error) {
	cmd := exec.CommandContext(ctx, "wmic", "process", "get",
		"ProcessId,CommandLine", "/format:csv")
	output, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	return parseWmicCSV(string(output)), nil
}

func parseWmicCSV(output string) []Process {
	var procs []Process
	reader := csv.NewReader(strings.NewReader(strings.ReplaceAll(output, "\r", "")))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil
	}
	// Columns: Node,CommandLine,ProcessId
	for _, record := range records {
		if len(record) < 3 {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(record[len(record)-1]))
		if err != nil || pid <= 0 {
			continue
		}
		procs = append(procs, Process{PID: pid, Command: strings.TrimSpace(record[1])})
	}
	return procs
}

// portOwner parses netstat output to attribute a listening port to a PID.
func portOwner(ctx context.Context, port int) int {
	cmd := exec.CommandContext(ctx, "netstat", "-ano", "-p", "tcp")
	output, err := cmd.Output()
	if err != nil {
		return 0
	}
	portStr := fmt.Sprintf(":%d", port)
	for _, line := range strings.Split(string(output), "\n") {
		if !strings.Contains(line, portStr) || !strings.Contains(line, "LISTENING") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 5 {
			if pid, err := strconv.Atoi(fields[len(fields)-1]); err == nil && pid > 0 {
				return pid
			}
		}
	}
	return 0
}
