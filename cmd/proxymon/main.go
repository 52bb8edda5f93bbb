// Package main is the CLI entry point for proxymon.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/proxy_mon/internal/config"
	"github.com/eliteGoblin/focusd/proxy_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/proxy_mon/internal/infra"
	"github.com/eliteGoblin/focusd/proxy_mon/internal/policy"
	"github.com/eliteGoblin/focusd/proxy_mon/internal/task"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

// lockFileName is created under BASE_PASS next to the counter files.
const lockFileName = ".proxymon.lock"

// exitCodeError carries a process exit code out of a command.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit status %d", e.code)
}

func (e *exitCodeError) Unwrap() error {
	return e.err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		code := 1
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			code = exitErr.code
			err = exitErr.err
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(code)
	}
}

var rootCmd = &cobra.Command{
	Use:   "proxymon",
	Short: "Reverse-proxy supervisor",
	Long: `proxymon launches nginx, watches its error log for authentication
failures and kills it once a failure threshold is reached. Every hour it
resets the failure counters, refreshes the country allow-list and reloads
nginx.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run [-- command args...]",
	Short: "Supervise the proxy process",
	Long: `Runs the supervisor in the foreground. The child command defaults to
CHILD_COMMAND; arguments after -- replace it.

The exit code is the child's exit code, or 125 when the supervisor itself
fails.`,
	Args: cobra.ArbitraryArgs,
	RunE: runRun,
}

var allowlistCmd = &cobra.Command{
	Use:   "allowlist",
	Short: "Rebuild the country allow-list once",
	RunE:  runAllowlist,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show failure counters",
	Long:  `Shows each check's persisted failure count and whether it is in cooldown. Counters are read, never modified.`,
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var jsonOutput bool

func init() {
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(allowlistCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return &exitCodeError{code: daemon.ExitFault, err: err}
	}
	if len(args) > 0 {
		cfg.ChildCommand = args
	}

	logger := createLogger(cfg.LogLevel, cfg.LogFile)
	defer logger.Sync()

	fs := infra.NewFileSystemManager()
	if err := fs.EnsureDir(cfg.BasePath); err != nil {
		return &exitCodeError{code: daemon.ExitFault, err: err}
	}

	lock, err := infra.AcquireInstanceLock(filepath.Join(cfg.BasePath, lockFileName))
	if err != nil {
		return &exitCodeError{code: daemon.ExitFault, err: err}
	}
	defer lock.Release()

	pm := infra.NewProcessManager()
	registry, err := policy.Standard().Build(policy.Deps{
		Config:     cfg,
		FileSystem: fs,
		AllowList:  infra.NewAllowListBuilder(cfg.RegistryURL, cfg.IPListFilePath, cfg.AllowedCountries, fs, logger),
		Logger:     logger,
	})
	if err != nil {
		return &exitCodeError{code: daemon.ExitFault, err: err}
	}

	supervisorConfig := daemon.DefaultSupervisorConfig()
	supervisorConfig.Command = cfg.ChildCommand
	supervisorConfig.InputSocket = cfg.InputSocket
	supervisorConfig.OutputSocket = cfg.OutputSocket
	supervisorConfig.ResetInterval = cfg.ResetInterval
	supervisorConfig.MetricsFile = cfg.MetricsFile

	supervisor := daemon.NewSupervisor(
		supervisorConfig,
		registry,
		pm,
		fs,
		infra.NewReloader(cfg.ReloadCommand, pm),
		logger,
	).WithRunRegistry(infra.NewFileRunRegistry(cfg.BasePath, pm))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code, err := supervisor.Run(ctx)
	if err != nil {
		logger.Error("supervisor stopped", zap.Int("exit_code", code), zap.Error(err))
	} else {
		logger.Info("supervisor stopped", zap.Int("exit_code", code))
	}
	if code != 0 {
		return &exitCodeError{code: code}
	}
	return nil
}

func runAllowlist(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := createLogger(cfg.LogLevel, cfg.LogFile)
	defer logger.Sync()

	builder := infra.NewAllowListBuilder(cfg.RegistryURL, cfg.IPListFilePath, cfg.AllowedCountries, infra.NewFileSystemManager(), logger)
	result, err := builder.Rebuild(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Allow-list written to %s\n", result.Path)
	fmt.Printf("  Countries: %v\n", result.Countries)
	fmt.Printf("  Records:   %d\n", result.Records)
	fmt.Printf("  Prefixes:  %d\n", result.Prefixes)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fmt.Println("\n=== proxymon Status ===")

	pm := infra.NewProcessManager()
	runRegistry := infra.NewFileRunRegistry(cfg.BasePath, pm)
	state, err := runRegistry.Get()
	if err != nil {
		fmt.Printf("Supervisor: UNKNOWN (%v)\n", err)
	} else if alive, _ := runRegistry.IsAlive(); state == nil || !alive {
		fmt.Println("Supervisor: NOT RUNNING")
		fmt.Println("\nRun 'proxymon run' to start supervising.")
	} else {
		fmt.Println("Supervisor: RUNNING")
		fmt.Printf("Run ID: %s\n", state.RunID)
		fmt.Printf("Supervisor PID: %d\n", state.SupervisorPID)
		if pm.IsRunning(state.ChildPID) {
			fmt.Printf("Child PID: %d\n", state.ChildPID)
		} else {
			fmt.Printf("Child PID: %d (exited)\n", state.ChildPID)
		}
		fmt.Printf("Started: %s ago\n", time.Since(time.Unix(state.StartedAt, 0)).Round(time.Second))
		if state.LastTick > 0 {
			fmt.Printf("Last reset: %s ago\n", time.Since(time.Unix(state.LastTick, 0)).Round(time.Second))
		}
	}

	rules := policy.Rules(cfg)
	if len(rules) == 0 {
		fmt.Println("\nNo checks enabled.")
	} else {
		fmt.Println("\nChecks:")
	}
	for _, rule := range rules {
		status, err := task.ReadStatus(cfg.BasePath, rule, cfg.MaxTime)
		if err != nil {
			fmt.Printf("  - %s: %v\n", rule.Name(), err)
			continue
		}
		mode := "active"
		if status.Cooldown {
			mode = "cooldown"
		}
		if !status.Exists {
			fmt.Printf("  - %s: no failures recorded (max %d)\n", status.Task, status.Max)
			continue
		}
		fmt.Printf("  - %s: %d/%d (%s)\n", status.Task, status.Count, status.Max, mode)
	}

	fmt.Printf("\nAllow-list: %s", cfg.IPListFilePath)
	if !cfg.IPCheckEnabled() {
		fmt.Print(" (refresh disabled)")
	}
	fmt.Println()
	fmt.Println("=======================")
	return nil
}

func createLogger(level, file string) *zap.Logger {
	config := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		config.Level = zap.NewAtomicLevelAt(lvl)
	}
	if file != "" {
		config.OutputPaths = []string{file}
		config.ErrorOutputPaths = []string{file}
	}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("proxymon %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
