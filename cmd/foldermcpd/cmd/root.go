// Package cmd provides the CLI commands for foldermcpd.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/foldermcp/internal/config"
	"github.com/Aman-CERP/foldermcp/internal/daemon"
	"github.com/Aman-CERP/foldermcp/internal/logging"
	"github.com/Aman-CERP/foldermcp/internal/mcp"
	"github.com/Aman-CERP/foldermcp/internal/profiling"
	"github.com/Aman-CERP/foldermcp/pkg/version"
)

// Profiling flags
var (
	profileCPU   string
	profileMem   string
	profileTrace string
	profiler     = profiling.NewProfiler()
	cpuCleanup   func()
	traceCleanup func()
)

// Global flags shared by every subcommand.
var (
	folderFlags    []string
	logLevelFlag   string
	loggingCleanup func()
)

// NewRootCmd creates the root command for the foldermcpd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "foldermcpd",
		Short: "Local semantic search daemon for document folders",
		Long: `foldermcpd indexes local document folders into per-folder vector
stores and serves semantic search to LLM clients.

Run with no subcommand to serve the tool-call protocol over stdio,
the mode MCP clients launch. Use 'foldermcpd daemon start' for the
long-lived background service with its local-socket RPC.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			return runStdioServer(cmd.Context())
		},
	}

	cmd.SetVersionTemplate("foldermcpd version {{.Version}}\n")

	cmd.PersistentFlags().StringArrayVar(&folderFlags, "folder", nil, "Document folder to serve (repeatable)")
	cmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")

	// Profiling flags
	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging starts CPU/trace profiling and file logging.
func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	var err error

	logCfg := logging.DefaultConfig()
	if logLevelFlag != "" {
		logCfg.Level = logLevelFlag
	}
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		loggingCleanup = cleanup
		slog.SetDefault(logger)
	}

	if profileCPU != "" {
		cpuCleanup, err = profiler.StartCPU(profileCPU)
		if err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
	}

	if profileTrace != "" {
		traceCleanup, err = profiler.StartTrace(profileTrace)
		if err != nil {
			if cpuCleanup != nil {
				cpuCleanup()
			}
			return fmt.Errorf("failed to start trace: %w", err)
		}
	}

	return nil
}

// stopProfilingAndLogging stops profiling and logging, writing the memory
// profile if requested.
func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}

	if traceCleanup != nil {
		traceCleanup()
		traceCleanup = nil
	}

	if profileMem != "" {
		if err := profiler.WriteHeap(profileMem); err != nil {
			return fmt.Errorf("failed to write memory profile: %w", err)
		}
	}

	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}

	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// runStdioServer serves the tool-call protocol over stdio. stdout carries
// protocol frames exclusively, so all diagnostics go to the log file.
func runStdioServer(ctx context.Context) error {
	level := logLevelFlag
	if level == "" {
		level = "debug"
	}
	if cleanup, err := logging.SetupMCPModeWithLevel(level); err == nil {
		defer cleanup()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	embedder, err := buildEmbedder(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize embedding provider: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	d, err := daemon.NewDaemon(daemon.DefaultConfig(), daemon.WithEmbedder(embedder))
	if err != nil {
		return err
	}

	// Register folders concurrently; the daemon's resource manager bounds
	// how many reconciliation scans actually run at once.
	g, gctx := errgroup.WithContext(ctx)
	for _, path := range registeredFolders(cfg) {
		path := path
		g.Go(func() error {
			if err := d.RegisterFolder(gctx, path); err != nil {
				slog.Error("failed to register folder",
					slog.String("path", path), slog.String("error", err.Error()))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	server, err := mcp.NewServer(d)
	if err != nil {
		return err
	}
	defer func() { _ = server.Close() }()

	slog.Info("serving tool-call protocol on stdio", slog.Int("folders", len(registeredFolders(cfg))))
	return server.Serve(ctx)
}

// registeredFolders merges --folder flags with the config's folder list,
// flags first.
func registeredFolders(cfg *config.Config) []string {
	seen := make(map[string]bool)
	var paths []string
	add := func(p string) {
		p = config.NormalizeFolderPath(p)
		if p != "" && !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	for _, p := range folderFlags {
		add(p)
	}
	for _, f := range cfg.Folders {
		add(f.Path)
	}
	return paths
}
