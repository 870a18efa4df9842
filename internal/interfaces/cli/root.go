// Package cli implements the trialscope command tree.  The root command loads
// configuration, builds the logger, metrics, optional cache and the
// feasibility service once, and hands them to subcommands through CLIContext.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/TrialScope/internal/application/feasibility"
	"github.com/turtacn/TrialScope/internal/config"
	"github.com/turtacn/TrialScope/internal/infrastructure/database/redis"
	"github.com/turtacn/TrialScope/internal/infrastructure/monitoring/logging"
	appmetrics "github.com/turtacn/TrialScope/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/TrialScope/internal/intelligence/common"
	"github.com/turtacn/TrialScope/pkg/errors"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Output formats.
const (
	OutputText  = "text"
	OutputJSON  = "json"
	OutputTable = "table"
)

// cliContextKey is the context key for CLIContext.
type cliContextKey struct{}

// RootOptions holds global CLI flags.
type RootOptions struct {
	ConfigPath   string
	LogLevel     string
	OutputFormat string
	Verbose      bool
	Timeout      time.Duration
}

// CLIContext carries initialised dependencies through the command tree.
type CLIContext struct {
	Config       *config.Config
	Logger       logging.Logger
	Service      *feasibility.Service
	Metrics      appmetrics.MetricsCollector
	OutputFormat string
	Verbose      bool
	Timeout      time.Duration

	configPath  string
	serviceOpts []feasibility.Option
	appMetrics  *appmetrics.AppMetrics
	intel       common.IntelligenceMetrics
	redisClient *redis.Client
}

// NewRootCommand creates the root command with its global flags and every
// subcommand.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "trialscope",
		Short: "TrialScope estimates clinical-trial cost and risk from protocol text",
		Long: "TrialScope reads a clinical-trial protocol exported as plain text (pages\n" +
			"separated by form feeds), runs its extraction modules and scores the\n" +
			"predictions against a weight profile.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return persistentPreRun(cmd, opts)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return persistentPostRun(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (default: ./trialscope.yaml)")
	pf.StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.StringVarP(&opts.OutputFormat, "output", "o", OutputText, "output format (text, json, table)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "enable verbose output")
	pf.DurationVar(&opts.Timeout, "timeout", 30*time.Second, "global operation timeout")

	cmd.AddCommand(
		NewAnalyzeCmd(),
		NewMetadataCmd(),
		NewModulesCmd(),
		NewPhonesCmd(),
		NewProfilesCmd(),
	)
	return cmd
}

// persistentPreRun initialises config, logger, metrics, cache and service,
// then stores the CLIContext on the command.
func persistentPreRun(cmd *cobra.Command, opts *RootOptions) error {
	switch strings.ToLower(opts.OutputFormat) {
	case OutputText, OutputJSON, OutputTable:
	default:
		return errors.InvalidParam("unknown output format").WithDetail("output=" + opts.OutputFormat)
	}

	cfg, err := initConfig(cmd, opts)
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg, opts)
	if err != nil {
		return err
	}

	cliCtx := &CLIContext{
		Config:       cfg,
		Logger:       logger,
		OutputFormat: strings.ToLower(opts.OutputFormat),
		Verbose:      opts.Verbose,
		Timeout:      opts.Timeout,
		configPath:   opts.ConfigPath,
	}

	if err := initMetrics(cliCtx); err != nil {
		return err
	}
	if cache := initCache(cliCtx); cache != nil {
		cliCtx.serviceOpts = append(cliCtx.serviceOpts, feasibility.WithCache(cache))
	}

	svc, err := feasibility.NewService(cfg, logger, cliCtx.serviceOpts...)
	if err != nil {
		cliCtx.close()
		return err
	}
	cliCtx.Service = svc

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cliCtx))
	return nil
}

func persistentPostRun(cmd *cobra.Command) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return nil
	}
	defer cliCtx.close()
	if cliCtx.Verbose && cliCtx.intel != nil {
		stats := cliCtx.intel.GetCurrentStats()
		cliCtx.Logger.Debug("extraction stats",
			logging.Int64("module_runs", stats.TotalModuleRuns),
			logging.Int64("module_failures", stats.FailedModuleRuns),
			logging.Float64("p95_latency_ms", stats.P95LatencyMs),
			logging.Float64("cache_hit_rate", stats.CacheHitRate),
		)
	}
	return dumpMetrics(cliCtx)
}

// initConfig loads configuration with priority: flags > env > file > defaults.
// Without --config, ./trialscope.yaml, ~/.trialscope/trialscope.yaml and
// /etc/trialscope/trialscope.yaml are tried in turn.
func initConfig(cmd *cobra.Command, opts *RootOptions) (*config.Config, error) {
	var loadOpts []config.Option
	if opts.ConfigPath != "" {
		loadOpts = append(loadOpts, config.WithConfigPath(opts.ConfigPath))
	} else {
		searchPaths := []string{"."}
		if home, err := os.UserHomeDir(); err == nil {
			searchPaths = append(searchPaths, filepath.Join(home, ".trialscope"))
		}
		searchPaths = append(searchPaths, "/etc/trialscope")
		loadOpts = append(loadOpts, config.WithSearchPaths(searchPaths...))
	}

	overrides := map[string]interface{}{}
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		overrides["log.level"] = strings.ToLower(opts.LogLevel)
	}
	if len(overrides) > 0 {
		loadOpts = append(loadOpts, config.WithOverrides(overrides))
	}
	return config.Load(loadOpts...)
}

// initLogger creates a console logger on stderr so stdout carries only
// command output.  Unless --log-level is given, the CLI logs warnings and up;
// --verbose switches to the debug development logger.
func initLogger(cfg *config.Config, opts *RootOptions) (logging.Logger, error) {
	if opts.Verbose {
		return logging.NewDevelopmentLogger(), nil
	}
	level := strings.ToLower(opts.LogLevel)
	if cfg.Log.Level != config.DefaultLogLevel {
		level = cfg.Log.Level
	}
	return logging.NewLogger(logging.LogConfig{
		Level:            level,
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
}

// initMetrics registers application and extraction metrics on one registry
// when metrics are enabled.
func initMetrics(cliCtx *CLIContext) error {
	mc := cliCtx.Config.Metrics
	if !mc.Enabled {
		return nil
	}
	collector, err := appmetrics.NewMetricsCollector(appmetrics.CollectorConfig{
		Namespace: mc.Namespace,
		Subsystem: mc.Subsystem,
	}, cliCtx.Logger)
	if err != nil {
		return err
	}
	intel, err := common.NewPrometheusIntelligenceMetrics(collector.Registerer(), mc.Namespace)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "cannot register extraction metrics")
	}
	app := appmetrics.NewAppMetrics(collector)
	appmetrics.SetBuildInfo(app, Version)

	cliCtx.Metrics = collector
	cliCtx.appMetrics = app
	cliCtx.intel = intel
	cliCtx.serviceOpts = append(cliCtx.serviceOpts,
		feasibility.WithAppMetrics(app),
		feasibility.WithIntelligenceMetrics(intel),
	)
	return nil
}

// initCache connects to Redis when the cache is enabled.  A connection
// failure is logged and the CLI continues without a cache.
func initCache(cliCtx *CLIContext) redis.Cache {
	cc := cliCtx.Config.Cache
	if !cc.Enabled {
		return nil
	}
	redisCfg := cc.Redis
	client, err := redis.NewClient(&redisCfg, cliCtx.Logger)
	if err != nil {
		cliCtx.Logger.Warn("prediction cache unavailable, continuing without it", logging.Err(err))
		return nil
	}
	cliCtx.redisClient = client
	return redis.NewRedisCache(client, cliCtx.Logger,
		redis.WithPrefix(cc.KeyPrefix),
		redis.WithDefaultTTL(cc.TTL),
		redis.WithTTLJitter(cc.TTLJitter),
	)
}

func dumpMetrics(cliCtx *CLIContext) error {
	path := cliCtx.Config.Metrics.DumpPath
	if path == "" || cliCtx.Metrics == nil {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "cannot write metrics dump").WithDetail("path=" + path)
	}
	defer f.Close()
	return cliCtx.Metrics.WriteText(f)
}

// serviceShutdownTimeout bounds how long close waits for parallel runs.
const serviceShutdownTimeout = 5 * time.Second

func (c *CLIContext) closeService() {
	if c.Service == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), serviceShutdownTimeout)
	defer cancel()
	if err := c.Service.Close(ctx); err != nil {
		c.Logger.Warn("service did not shut down cleanly", logging.Err(err))
	}
}

func (c *CLIContext) close() {
	c.closeService()
	if c.redisClient != nil {
		_ = c.redisClient.Close()
	}
	_ = c.Logger.Sync()
}

// commandContext derives the context subcommands run under, bounded by
// --timeout.
func (c *CLIContext) commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(cmd.Context())
	}
	return context.WithTimeout(cmd.Context(), c.Timeout)
}

// GetCLIContext extracts CLIContext from a cobra command's context.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errors.Internal("command context is nil")
	}
	cliCtx, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cliCtx == nil {
		return nil, errors.Internal("CLIContext not found in command context")
	}
	return cliCtx, nil
}

// Execute is the entry point for cmd/trialscope.  SIGINT and SIGTERM cancel
// the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		PrintError(rootCmd, err)
		return err
	}
	return nil
}
