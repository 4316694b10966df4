package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/routeward/pkg/admin"
	"github.com/cuemby/routeward/pkg/config"
	"github.com/cuemby/routeward/pkg/discovery"
	"github.com/cuemby/routeward/pkg/filter"
	"github.com/cuemby/routeward/pkg/log"
	"github.com/cuemby/routeward/pkg/metrics"
	"github.com/cuemby/routeward/pkg/provider"
	"github.com/cuemby/routeward/pkg/scheduler"
	"github.com/cuemby/routeward/pkg/tracker"
)

// Version information (set via ldflags during build).
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "routewardd",
	Short:   "routewardd drives a target forwarder's partition routing from pub/sub discovery",
	Version: Version,
	RunE:    runDaemon,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("routewardd version %s\nCommit: %s\n", Version, Commit))

	rootCmd.Flags().String("config", "", "Path to a YAML configuration file (optional)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	logger := log.WithComponent("main")

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	transport, err := admin.NewGRPCTransport(cfg.Target.Addr)
	if err != nil {
		return fmt.Errorf("connect to target forwarder: %w", err)
	}
	defer transport.Close()

	metrics.RegisterComponent("admin", true, "")
	cfgProvider := provider.NewDefaultProvider(cfg.Target.RoutingService)

	sched, err := scheduler.NewScheduler(transport, cfgProvider, cfg.Target.RoutingService, cfg.Target.RetryDelay, cfg.Target.RequestTimeout)
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}
	metrics.RegisterComponent("scheduler", true, "")

	chain := buildFilterChain(cfg.Filters)
	trk := tracker.New(chain, nil)
	trk.Register(sched)
	defer trk.Close()
	metrics.RegisterComponent("tracker", true, "")

	// The discovery adapter is the integration point for the pub/sub
	// middleware's native discovery API; that middleware is an external
	// collaborator and is wired up by the embedding deployment, not
	// here. Constructing it validates the tracker side of the contract.
	_ = discovery.NewAdapter(trk, nil)

	sched.Start()
	defer sched.Stop()

	logger.Info().Str("target", cfg.Target.RoutingService).Str("addr", cfg.Target.Addr).Msg("routewardd ready")

	errCh := make(chan error, 1)
	go serveMetrics(cfg.Metrics.Addr, cfg.Metrics.Path, errCh)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("metrics server failed")
		return err
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

// buildFilterChain wires the built-in filters in the fixed order
// spec.md §4.1 expects: prefix, optional wildcard-partition, then
// self/group-self.
func buildFilterChain(cfg config.FilterConfig) *filter.Chain {
	var filters []filter.Filter

	prefix := filter.PrefixFilter{Prefix: cfg.Prefix}
	if prefix.Prefix == "" {
		prefix = filter.NewPrefixFilter()
	}
	filters = append(filters, prefix)

	if cfg.IgnoreWildcardPartitions {
		filters = append(filters, filter.WildcardPartitionFilter{})
	}

	if cfg.GroupName != "" {
		filters = append(filters, filter.GroupSelfFilter{GroupName: cfg.GroupName})
	} else {
		filters = append(filters, filter.SelfFilter{})
	}

	return filter.NewChain(filters...)
}

func serveMetrics(addr, path string, errCh chan<- error) {
	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())

	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		errCh <- err
	}
}
