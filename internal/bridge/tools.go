package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/standardbeagle/devbridge/internal/automation"
)

// RegisterTools registers the bridge's tool surface on an MCP server.
func RegisterTools(srv *server.MCPServer, b *Bridge) {
	registerDiscoveryTools(srv, b)
	registerProxyTools(srv, b)
	registerAutomationTools(srv, b)
	registerStatusTool(srv, b)
}

// jsonResult marshals a value as an indented text result.
func jsonResult(v interface{}) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcplib.NewToolResultError(fmt.Sprintf("Failed to format result: %v", err)), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}

func registerDiscoveryTools(srv *server.MCPServer, b *Bridge) {
	discoverAllTool := mcplib.NewTool("discover_servers",
		mcplib.WithDescription(`Discover all local dev-server instances that expose a debug MCP endpoint.

**When to use:**
- First step in any session: find out which dev servers are running
- User asks "what dev servers are up?" or "which ports have an app?"
- Before list_tools or call_tool, to learn valid port targets

**Behavior:**
- Scans a fixed set of common dev ports plus the process table
- Verifies each candidate's debug endpoint unless verify is false
- Returns results sorted by port, lowest first; empty list means nothing was found
- Unverified results (verify=false) are marked and carry no endpoint URL`),
		mcplib.WithBoolean("verify",
			mcplib.Description("Probe each candidate's debug endpoint before reporting it (default true)"),
		),
	)
	srv.AddTool(discoverAllTool, func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		verify := request.GetBool("verify", true)
		servers, err := b.DiscoverAll(ctx, verify)
		if err != nil {
			return mcplib.NewToolResultError(fmt.Sprintf("Discovery failed: %v", err)), nil
		}
		return jsonResult(map[string]interface{}{
			"servers": servers,
			"count":   len(servers),
		})
	})

	discoverOneTool := mcplib.NewTool("discover_server",
		mcplib.WithDescription(`Discover the first verified dev-server instance, preferring the lowest port.

**When to use:**
- Single-project workflows where one dev server is expected
- You need a port to target and any verified instance will do

Fails with a not-found error when no verified instance exists.`),
	)
	srv.AddTool(discoverOneTool, func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		server, err := b.DiscoverOne(ctx)
		if err != nil {
			return mcplib.NewToolResultError(fmt.Sprintf("Discovery failed: %v", err)), nil
		}
		return jsonResult(server)
	})
}

func registerProxyTools(srv *server.MCPServer, b *Bridge) {
	listTool := mcplib.NewTool("list_tools",
		mcplib.WithDescription(`List the tools exposed by a backend.

**When to use:**
- After discover_servers, to see what a dev server's debug endpoint offers
- After automation_start, to see the browser automation tool catalog
- Before call_tool, to learn valid tool names and argument schemas

**Target addressing:**
- A port number (e.g. "3000") routes to that dev server's debug endpoint
- "automation" routes to the spawned browser automation backend`),
		mcplib.WithString("target",
			mcplib.Required(),
			mcplib.Description("Port number of a discovered server, or \"automation\""),
		),
	)
	srv.AddTool(listTool, func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		rawTarget, err := request.RequireString("target")
		if err != nil {
			return mcplib.NewToolResultError(err.Error()), nil
		}
		target, err := ParseTarget(rawTarget)
		if err != nil {
			return mcplib.NewToolResultError(err.Error()), nil
		}
		tools, err := b.ListTools(ctx, target)
		if err != nil {
			return mcplib.NewToolResultError(fmt.Sprintf("Failed to list tools: %v", err)), nil
		}
		return jsonResult(map[string]interface{}{
			"target": target.String(),
			"tools":  tools,
			"count":  len(tools),
		})
	})

	callTool := mcplib.NewTool("call_tool",
		mcplib.WithDescription(`Invoke a tool on a backend and return its raw result.

**When to use:**
- Running a dev server's debug tools (inspect state, query routes, etc.)
- Driving the browser automation backend after automation_start

**Target addressing:**
- A port number routes to that dev server's debug endpoint
- "automation" routes to the spawned browser automation backend

Tool name and arguments are forwarded verbatim; the backend decides
whether they are valid and its error is returned unchanged.`),
		mcplib.WithString("target",
			mcplib.Required(),
			mcplib.Description("Port number of a discovered server, or \"automation\""),
		),
		mcplib.WithString("name",
			mcplib.Required(),
			mcplib.Description("Name of the tool to invoke on the backend"),
		),
		mcplib.WithObject("arguments",
			mcplib.Description("Arguments object passed through to the backend tool"),
		),
	)
	srv.AddTool(callTool, func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		rawTarget, err := request.RequireString("target")
		if err != nil {
			return mcplib.NewToolResultError(err.Error()), nil
		}
		target, err := ParseTarget(rawTarget)
		if err != nil {
			return mcplib.NewToolResultError(err.Error()), nil
		}
		name, err := request.RequireString("name")
		if err != nil {
			return mcplib.NewToolResultError(err.Error()), nil
		}
		var args map[string]interface{}
		if all := request.GetArguments(); all != nil {
			if inner, ok := all["arguments"].(map[string]interface{}); ok {
				args = inner
			}
		}

		result, err := b.CallTool(ctx, target, name, args)
		if err != nil {
			return mcplib.NewToolResultError(fmt.Sprintf("Tool call failed: %v", err)), nil
		}
		return mcplib.NewToolResultText(string(result)), nil
	})
}

func registerAutomationTools(srv *server.MCPServer, b *Bridge) {
	startTool := mcplib.NewTool("automation_start",
		mcplib.WithDescription(fmt.Sprintf(`Start the browser automation backend as a managed subprocess.

**When to use:**
- Before any call_tool with target "automation"
- User asks to open, inspect, or drive a browser

**Behavior:**
- Idempotent: returns the existing connection when already running
- Installs the backend package and retries once if the launcher is missing
- Available backends: %s`, strings.Join(automation.BackendNames(), ", "))),
		mcplib.WithString("backend",
			mcplib.Description(fmt.Sprintf("Automation backend to spawn (default %q)", automation.DefaultBackend)),
		),
		mcplib.WithBoolean("headless",
			mcplib.Description("Run the browser headless"),
		),
	)
	srv.AddTool(startTool, func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		opts := automation.Options{
			Backend:  request.GetString("backend", automation.DefaultBackend),
			Headless: request.GetBool("headless", false),
		}
		if err := b.StartAutomation(ctx, opts); err != nil {
			return mcplib.NewToolResultError(fmt.Sprintf("Failed to start automation backend: %v", err)), nil
		}
		return jsonResult(map[string]interface{}{
			"backend":  opts.Backend,
			"headless": opts.Headless,
			"state":    b.reg.Automation().State().String(),
		})
	})

	stopTool := mcplib.NewTool("automation_stop",
		mcplib.WithDescription(`Stop the browser automation backend.

Attempts a graceful shutdown first, then terminates the subprocess.
Safe to call when nothing is running.`),
	)
	srv.AddTool(stopTool, func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		if err := b.StopAutomation(ctx); err != nil {
			return mcplib.NewToolResultError(fmt.Sprintf("Failed to stop automation backend: %v", err)), nil
		}
		return mcplib.NewToolResultText("Automation backend stopped"), nil
	})
}

func registerStatusTool(srv *server.MCPServer, b *Bridge) {
	statusTool := mcplib.NewTool("status",
		mcplib.WithDescription(`Report bridge state: automation backend lifecycle, responsiveness, and
the cached discovery results currently usable for target resolution.`),
	)
	srv.AddTool(statusTool, func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		return jsonResult(b.Status(ctx))
	})
}
