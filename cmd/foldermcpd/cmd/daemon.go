package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/foldermcp/internal/config"
	"github.com/Aman-CERP/foldermcp/internal/daemon"
	"github.com/Aman-CERP/foldermcp/internal/logging"
	"github.com/Aman-CERP/foldermcp/internal/output"
	"github.com/Aman-CERP/foldermcp/internal/preflight"
	"github.com/Aman-CERP/foldermcp/internal/profiling"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background indexing daemon",
		Long: `The daemon watches registered folders, keeps their indexes current,
and serves search over a local socket.

Commands:
  start    Start the daemon (runs in background by default)
  stop     Stop the running daemon
  restart  Stop the daemon and start it again
  status   Show daemon status and health
  reload   Re-read the configuration without restarting

Examples:
  foldermcpd daemon start --folder ~/Documents/contracts
  foldermcpd daemon status --format json
  foldermcpd daemon stop --force`,
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonRestartCmd())
	cmd.AddCommand(newDaemonStatusCmd())
	cmd.AddCommand(newDaemonReloadCmd())

	return cmd
}

// daemonStartOptions carries the start flags through re-exec.
type daemonStartOptions struct {
	foreground    bool
	port          int
	pidFile       string
	noHealthCheck bool
	noPerformance bool
}

func newDaemonStartCmd() *cobra.Command {
	var opts daemonStartOptions

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the background daemon",
		Long: `Start the indexing daemon in the background.

The daemon loads the embedding model once, registers the given folders,
and keeps their indexes current as files change.

Use --foreground for debugging or to see logs in real-time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(registeredFoldersFromFlags()) == 0 {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				if len(cfg.Folders) == 0 {
					return fmt.Errorf("daemon start requires at least one --folder (or a folders entry in config)")
				}
			}
			return runDaemonStart(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.foreground, "foreground", "f", false, "Run in foreground (don't daemonize)")
	cmd.Flags().IntVar(&opts.port, "port", 0, "TCP port for the RPC listener (0 = socket only)")
	cmd.Flags().StringVar(&opts.pidFile, "pid-file", "", "Override the PID file path")
	cmd.Flags().BoolVar(&opts.noHealthCheck, "no-health-check", false, "Skip startup health checks")
	cmd.Flags().BoolVar(&opts.noPerformance, "no-performance", false, "Disable performance metrics collection")

	return cmd
}

func newDaemonStopCmd() *cobra.Command {
	var (
		force   bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Long: `Stop the running daemon.

By default this sends SIGTERM and waits up to --timeout for in-flight
indexing tasks to finish. With --force, active tasks are cancelled and
the daemon exits immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonStop(cmd, force, timeout)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Cancel in-flight work instead of waiting for it")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "How long to wait for graceful shutdown")

	return cmd
}

func newDaemonRestartCmd() *cobra.Command {
	var opts daemonStartOptions

	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runDaemonStop(cmd, false, 10*time.Second); err != nil {
				return err
			}
			return runDaemonStart(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.port, "port", 0, "TCP port for the RPC listener (0 = socket only)")
	cmd.Flags().StringVar(&opts.pidFile, "pid-file", "", "Override the PID file path")
	cmd.Flags().BoolVar(&opts.noHealthCheck, "no-health-check", false, "Skip startup health checks")
	cmd.Flags().BoolVar(&opts.noPerformance, "no-performance", false, "Disable performance metrics collection")

	return cmd
}

func newDaemonStatusCmd() *cobra.Command {
	var (
		format      string
		health      bool
		performance bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Long: `Show the current status of the indexing daemon.

Displays whether the daemon is running, its process ID, uptime,
embedder status, and number of loaded folders.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonStatus(cmd.Context(), cmd, format, health, performance)
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "Output format: table or json")
	cmd.Flags().BoolVar(&health, "health", false, "Include health check results")
	cmd.Flags().BoolVar(&performance, "performance", false, "Include runtime performance counters")

	return cmd
}

func newDaemonReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Re-read the configuration without restarting",
		Long: `Signal the running daemon to re-read its configuration. Newly
registered folders are picked up; the embedding model is not reloaded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonReload(cmd)
		},
	}
}

// daemonConfig builds the daemon.Config for this invocation, applying the
// --pid-file override.
func daemonConfig(opts daemonStartOptions) daemon.Config {
	cfg := daemon.DefaultConfig()
	if opts.pidFile != "" {
		cfg.PIDPath = opts.pidFile
	}
	return cfg
}

// registeredFoldersFromFlags returns just the --folder flag values.
func registeredFoldersFromFlags() []string {
	return folderFlags
}

func runDaemonStart(ctx context.Context, cmd *cobra.Command, opts daemonStartOptions) error {
	out := output.New(cmd.OutOrStdout())
	dcfg := daemonConfig(opts)

	client := daemon.NewClient(dcfg)
	if client.IsRunning() {
		out.Status("", "Daemon is already running")
		return nil
	}

	if opts.foreground {
		return runDaemonForeground(ctx, cmd, opts, dcfg)
	}

	out.Status("", "Starting daemon in background...")

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// Re-execute self in foreground mode, detached from this terminal.
	args := []string{"daemon", "start", "--foreground"}
	for _, folder := range folderFlags {
		args = append(args, "--folder", folder)
	}
	if logLevelFlag != "" {
		args = append(args, "--log-level", logLevelFlag)
	}
	if opts.port != 0 {
		args = append(args, "--port", fmt.Sprintf("%d", opts.port))
	}
	if opts.pidFile != "" {
		args = append(args, "--pid-file", opts.pidFile)
	}
	if opts.noHealthCheck {
		args = append(args, "--no-health-check")
	}
	if opts.noPerformance {
		args = append(args, "--no-performance")
	}

	bgCmd := exec.Command(execPath, args...)
	bgCmd.Stdout = nil
	bgCmd.Stderr = nil
	bgCmd.Stdin = nil
	bgCmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := bgCmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Reap the child and catch early exits.
	done := make(chan error, 1)
	go func() { done <- bgCmd.Wait() }()

	for i := 0; i < 50; i++ {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("daemon process exited unexpectedly: %w", err)
			}
			return fmt.Errorf("daemon process exited unexpectedly with code 0")
		default:
		}

		time.Sleep(100 * time.Millisecond)
		if client.IsRunning() {
			out.Successf("Daemon started (pid: %d)", bgCmd.Process.Pid)
			return nil
		}
	}

	return fmt.Errorf("daemon failed to start within timeout")
}

// runDaemonForeground is the actual daemon process: it builds the embedder,
// registers folders, serves the socket, and handles SIGHUP reloads.
func runDaemonForeground(ctx context.Context, cmd *cobra.Command, opts daemonStartOptions, dcfg daemon.Config) error {
	out := output.New(cmd.OutOrStdout())

	logCfg := logging.DefaultConfig()
	if logLevelFlag != "" {
		logCfg.Level = logLevelFlag
	}
	logCfg.WriteToStderr = true
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.port != 0 {
		cfg.Server.Port = opts.port
	}

	folders := registeredFolders(cfg)
	if len(folders) == 0 {
		return fmt.Errorf("daemon start requires at least one --folder (or a folders entry in config)")
	}

	if !opts.noHealthCheck {
		checker := preflight.New(preflight.WithOutput(io.Discard))
		for _, folder := range folders {
			// A marker from this daemon version means the host already
			// passed for this folder; an upgrade invalidates it.
			dataDir := filepath.Join(folder, ".folder-mcp")
			if !preflight.NeedsCheck(dataDir) {
				continue
			}
			results := checker.RunAll(ctx, folder)
			if checker.HasCriticalFailures(results) {
				return fmt.Errorf("health check failed for %s", folder)
			}
			if err := preflight.MarkPassed(dataDir); err != nil {
				slog.Debug("failed to record preflight marker",
					slog.String("folder", folder), slog.String("error", err.Error()))
			}
		}
	}

	out.Status("", "Starting daemon in foreground...")
	out.Status("", fmt.Sprintf("Socket: %s", dcfg.SocketPath))
	out.Status("", fmt.Sprintf("Logs: %s", logging.DefaultLogPath()))
	out.Status("", "Press Ctrl+C to stop")
	out.Newline()

	embedder, err := buildEmbedder(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize embedding provider: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	d, err := daemon.NewDaemon(dcfg, daemon.WithEmbedder(embedder))
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopProgress := watchFolderProgress(runCtx, d, cmd.OutOrStdout())
	defer stopProgress()

	registerAll := func(ctx context.Context, paths []string) {
		for _, path := range paths {
			if err := d.RegisterFolder(ctx, path); err != nil {
				slog.Error("failed to register folder",
					slog.String("path", path), slog.String("error", err.Error()))
			}
		}
	}
	go registerAll(runCtx, folders)

	// SIGHUP re-reads the config and registers any new folders; SIGTERM and
	// SIGINT shut the daemon down.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				slog.Info("reloading configuration")
				if newCfg, err := config.Load(); err == nil {
					registerAll(runCtx, registeredFolders(newCfg))
				} else {
					slog.Error("config reload failed", slog.String("error", err.Error()))
				}
			default:
				cancel()
				return
			}
		}
	}()

	err = d.Start(runCtx)
	if err == context.Canceled || runCtx.Err() != nil {
		return nil
	}
	return err
}

func runDaemonStop(cmd *cobra.Command, force bool, timeout time.Duration) error {
	out := output.New(cmd.OutOrStdout())
	dcfg := daemon.DefaultConfig()

	pidFile := daemon.NewPIDFile(dcfg.PIDPath)

	if !pidFile.IsRunning() {
		out.Status("", "Daemon is not running")
		return nil
	}

	pid, err := pidFile.Read()
	if err != nil {
		return fmt.Errorf("failed to read PID: %w", err)
	}

	if force {
		if err := pidFile.Signal(syscall.SIGKILL); err != nil {
			return fmt.Errorf("failed to kill daemon: %w", err)
		}
		out.Successf("Daemon killed (was pid: %d)", pid)
		return nil
	}

	if err := pidFile.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		if !pidFile.IsRunning() {
			out.Successf("Daemon stopped (was pid: %d)", pid)
			return nil
		}
	}

	out.Status("", "Daemon not responding, sending SIGKILL...")
	if err := pidFile.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill daemon: %w", err)
	}

	out.Success("Daemon killed")
	return nil
}

func runDaemonStatus(ctx context.Context, cmd *cobra.Command, format string, health, performance bool) error {
	out := output.New(cmd.OutOrStdout())
	dcfg := daemon.DefaultConfig()

	if format != "table" && format != "json" {
		return fmt.Errorf("invalid format %q (use table or json)", format)
	}

	client := daemon.NewClient(dcfg)

	if !client.IsRunning() {
		if format == "json" {
			status := daemon.StatusResult{Running: false}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		}
		out.Status("", "Daemon is not running")
		out.Status("", "Run 'foldermcpd daemon start' to start it")
		return nil
	}

	status, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	out.Status("", "Daemon is running")
	out.Status("", fmt.Sprintf("  PID:            %d", status.PID))
	out.Status("", fmt.Sprintf("  Uptime:         %s", status.Uptime))
	out.Status("", fmt.Sprintf("  Embedder:       %s (%s)", status.EmbedderType, status.EmbedderStatus))
	out.Status("", fmt.Sprintf("  Folders loaded: %d", status.FoldersLoaded))
	out.Status("", fmt.Sprintf("  Socket:         %s", dcfg.SocketPath))

	if health {
		checker := preflight.New(preflight.WithOutput(io.Discard))
		results := checker.RunAll(ctx, ".")
		out.Newline()
		out.Status("", fmt.Sprintf("  Health:         %s", checker.SummaryStatus(results)))
	}

	if performance {
		out.Newline()
		out.Status("", fmt.Sprintf("  Goroutines:     %d", profiling.NumGoroutines()))
		out.Status("", fmt.Sprintf("  Heap in use:    %s", profiling.HeapInUse()))
	}

	return nil
}

func runDaemonReload(cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())
	dcfg := daemon.DefaultConfig()

	pidFile := daemon.NewPIDFile(dcfg.PIDPath)
	if !pidFile.IsRunning() {
		return fmt.Errorf("daemon is not running")
	}

	if err := pidFile.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("failed to signal daemon: %w", err)
	}

	out.Success("Daemon reloading configuration")
	return nil
}
