package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/standardbeagle/devbridge/internal/automation"
	"github.com/standardbeagle/devbridge/internal/bridge"
	"github.com/standardbeagle/devbridge/internal/config"
	"github.com/standardbeagle/devbridge/internal/discovery"
	"github.com/standardbeagle/devbridge/internal/registry"
)

var (
	// Version is set at build time
	Version = "dev"

	configPath  string
	httpMode    bool
	httpPort    int
	debugMode   bool
	showVersion bool
)

var rootCmd = &cobra.Command{
	Use:   "devbridge",
	Short: "Discover local dev servers and bridge their debug MCP endpoints",
	Long: `Devbridge is an MCP server for coding assistants working on local web apps.
It discovers running dev-server instances that expose a debug MCP endpoint,
proxies tool listing and invocation to them, and manages a browser
automation backend as a spawned subprocess.

Basic Usage:
  devbridge                     # Serve MCP over stdio (for assistant configs)
  devbridge --http              # Serve MCP over HTTP instead
  devbridge --http -p 8080      # HTTP mode on a custom port
  devbridge status              # One-shot report of discoverable servers

Exposed tools:
  discover_servers              # Find dev servers with debug MCP endpoints
  discover_server               # Find the first verified dev server
  list_tools                    # List a backend's tools (port or "automation")
  call_tool                     # Invoke a backend tool
  automation_start              # Spawn the browser automation backend
  automation_stop               # Stop the browser automation backend
  status                        # Bridge and automation state

Configuration:
  ~/.devbridge.toml             # Optional; --config overrides the path`,
	Run: runServe,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Run one discovery pass and print what was found",
	Run:   runStatus,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default ~/.devbridge.toml)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	rootCmd.Flags().BoolVar(&httpMode, "http", false, "Serve MCP over HTTP instead of stdio")
	rootCmd.Flags().IntVarP(&httpPort, "port", "p", 0, "HTTP server port (default from config)")
	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "Show version information")

	rootCmd.AddCommand(statusCmd)
	rootCmd.Version = Version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogging configures the process-wide logger. Logs go to stderr so
// the stdio MCP transport on stdout stays clean.
func setupLogging(cfg *config.Config) *logrus.Entry {
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level := cfg.Log.Level
	if debugMode {
		level = "debug"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.WarnLevel
	}
	logrus.SetLevel(parsed)

	return logrus.NewEntry(logrus.StandardLogger())
}

// buildBridge assembles the subsystems from config.
func buildBridge(cfg *config.Config, log *logrus.Entry) *bridge.Bridge {
	disco := discovery.NewService(discovery.Options{
		Ports:          cfg.Discovery.Ports,
		Signatures:     cfg.Discovery.Signatures,
		DefaultPort:    cfg.Discovery.DefaultPort,
		EndpointPath:   cfg.Discovery.EndpointPath,
		ProbeTimeout:   cfg.Discovery.ProbeTimeout(),
		OverallTimeout: cfg.Discovery.OverallTimeout(),
	}, log)

	mgr := automation.NewManager(automation.Config{
		StartupTimeout: cfg.Automation.StartupTimeout(),
		RequestTimeout: cfg.Bridge.RequestTimeout(),
		InstallTimeout: cfg.Automation.InstallTimeout(),
	}, log)

	reg := registry.New(mgr, cfg.Discovery.CacheTTL(), cfg.Bridge.RequestTimeout(), log)

	return bridge.New(disco, reg, log)
}

func runServe(cmd *cobra.Command, args []string) {
	if showVersion {
		fmt.Printf("devbridge version %s\n", Version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := setupLogging(cfg)

	b := buildBridge(cfg, log)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		b.Close(ctx)
	}()

	mcpServer := server.NewMCPServer(
		"devbridge",
		Version,
		server.WithToolCapabilities(true),
	)
	bridge.RegisterTools(mcpServer, b)

	if httpMode {
		runHTTP(cfg, mcpServer, b, log)
		return
	}

	// Stdio transport is the default for assistant configurations.
	if err := server.ServeStdio(mcpServer); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func runHTTP(cfg *config.Config, mcpServer *server.MCPServer, b *bridge.Bridge, log *logrus.Entry) {
	port := httpPort
	if port == 0 {
		port = cfg.HTTP.Port
	}
	httpServer := bridge.NewHTTPServer(port, mcpServer, b, log)

	// Reload log level on config change while serving.
	watchPath := configPath
	if watchPath == "" {
		if userPath, err := config.UserConfigPath(); err == nil {
			watchPath = userPath
		}
	}
	if watchPath != "" {
		watcher, err := config.NewWatcher(watchPath, func(next *config.Config) {
			if parsed, err := logrus.ParseLevel(next.Log.Level); err == nil && !debugMode {
				logrus.SetLevel(parsed)
			}
		}, log)
		if err != nil {
			log.WithError(err).Debug("Config watch unavailable")
		} else {
			watcher.Start()
			defer watcher.Stop()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "HTTP server error: %v\n", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("Shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Stop(ctx); err != nil {
			log.WithError(err).Warn("HTTP shutdown error")
		}
	}
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := setupLogging(cfg)

	b := buildBridge(cfg, log)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Discovery.OverallTimeout()+time.Second)
	defer cancel()
	defer b.Close(context.Background())

	servers, err := b.DiscoverAll(ctx, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Discovery failed: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(map[string]interface{}{
		"servers": servers,
		"count":   len(servers),
	}, "", "  ")
	fmt.Println(string(out))
}
