// Package main implements the siteguard CLI: a defacement-monitoring
// core that schedules per-site checks, renders pages through a headless
// browser, detects and classifies changes, and raises alerts.
//
// # File Index
//
//   - main.go - entry point, rootCmd, global flags
//   - wire.go - buildApp(), wiring every component from Config
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"siteguard/internal/config"
	"siteguard/internal/logging"
	"siteguard/internal/model"
)

var (
	configPath string
	debugMode  bool
	logger     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "siteguard",
	Short: "siteguard monitors websites for unauthorized defacement",
	Long: `siteguard periodically fetches monitored sites through a headless
browser, detects content drift against each site's baseline, and runs an
ensemble classifier over significant changes to tell benign edits apart
from defacement.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if debugMode {
			zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}

		logDir := "logs"
		if err := logging.Initialize(logDir, debugMode, "info"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to initialize file logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the monitoring core and block until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		a, err := buildApp(cfg)
		if err != nil {
			return fmt.Errorf("build app: %w", err)
		}
		defer a.Close()

		watcher, err := config.NewWatcher(configPath, a.onConfigReload)
		if err != nil {
			logging.Get(logging.CategoryConfig).Warn("config hot-reload disabled, could not watch %s: %v", configPath, err)
		} else {
			watcher.Start()
			defer watcher.Stop()
		}

		ctx := cmd.Context()
		if err := a.orchestrator.Start(ctx); err != nil {
			return fmt.Errorf("start orchestrator: %w", err)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		logging.Boot("siteguard running, press Ctrl+C to stop")
		<-sigCh
		logging.Boot("shutdown signal received, draining in-flight checks")

		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return a.orchestrator.Stop(stopCtx)
	},
}

var (
	checkDryRun bool
)

var checkCmd = &cobra.Command{
	Use:   "check <site-id>",
	Short: "Run one check for a site immediately, bypassing its schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		a, err := buildApp(cfg)
		if err != nil {
			return fmt.Errorf("build app: %w", err)
		}
		defer a.Close()

		if err := a.orchestrator.Start(cmd.Context()); err != nil {
			return fmt.Errorf("start orchestrator: %w", err)
		}
		defer a.orchestrator.Stop(cmd.Context())

		result, err := a.orchestrator.TriggerImmediate(cmd.Context(), args[0], checkDryRun)
		if err != nil {
			return err
		}
		fmt.Printf("execution=%s magnitude=%s verdict=%s confidence=%.2f alert_raised=%v simulated=%v\n",
			result.ExecutionID, result.Magnitude, result.Verdict, result.Confidence, result.AlertRaised, result.Simulated)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print uptime, active job count, component health, and per-site state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		a, err := buildApp(cfg)
		if err != nil {
			return fmt.Errorf("build app: %w", err)
		}
		defer a.Close()

		if err := a.orchestrator.Start(cmd.Context()); err != nil {
			return fmt.Errorf("start orchestrator: %w", err)
		}
		defer a.orchestrator.Stop(cmd.Context())

		st := a.orchestrator.Status()
		fmt.Printf("uptime=%s active_jobs=%d\n", st.Uptime, st.ActiveJobs)
		for _, c := range st.Components {
			fmt.Printf("  component %-16s healthy=%v %s\n", c.Name, c.Healthy, c.Detail)
		}
		for _, s := range st.Sites {
			fmt.Printf("  site %-36s status=%-12s breaker=%-10s failures=%d next_run=%s\n",
				s.SiteID, s.Job.Status, s.BreakerState, s.ConsecutiveFailures, s.Job.NextRunAt.Format(time.RFC3339))
		}
		return nil
	},
}

var (
	addURL      string
	addName     string
	addSchedule string
)

var siteAddCmd = &cobra.Command{
	Use:   "site-add",
	Short: "Register a new site to monitor",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		a, err := buildApp(cfg)
		if err != nil {
			return fmt.Errorf("build app: %w", err)
		}
		defer a.Close()

		site := model.Site{
			URL:         addURL,
			DisplayName: addName,
			Schedule:    addSchedule,
			Active:      true,
		}
		if err := a.orchestrator.RegisterSite(site); err != nil {
			return fmt.Errorf("register site: %w", err)
		}
		fmt.Printf("registered %s (%s)\n", site.URL, site.Schedule)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "siteguard.yaml", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&debugMode, "debug", "d", false, "Enable debug-level logging")

	checkCmd.Flags().BoolVar(&checkDryRun, "dry-run", false, "Simulate the check (detect/classify only, no persist or alert)")

	siteAddCmd.Flags().StringVar(&addURL, "url", "", "Site URL (required)")
	siteAddCmd.Flags().StringVar(&addName, "name", "", "Display name (required)")
	siteAddCmd.Flags().StringVar(&addSchedule, "schedule", "5m", "Interval (\"5m\") or 5-field cron expression")
	siteAddCmd.MarkFlagRequired("url")
	siteAddCmd.MarkFlagRequired("name")

	rootCmd.AddCommand(runCmd, checkCmd, statusCmd, siteAddCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
