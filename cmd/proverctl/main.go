package main

import (
	"fmt"
	"os"

	"github.com/danmuck/proverctl/internal/config"
	"github.com/danmuck/proverctl/internal/logging"
	"github.com/danmuck/proverctl/internal/prover"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "proverctl: %v\n", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath         string
	aggregatorURL      string
	executorPort       int
	hashdbPort         int
	proverName         string
	proverID           string
	fixturePath        string
	adminAddr          string
	outboundOverflow   string
	outboundQueueSize  int
	maxConnectAttempts int
}

func newRootCommand() *cobra.Command {
	return buildRootCommand(&rootFlags{})
}

func buildRootCommand(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proverctl",
		Short: "Mock prover for exercising an aggregator",
		Long: `proverctl registers with an aggregator, answers its proof requests from a
fixed fixture bundle and optionally serves stub executor and hashdb services.
The process exits when the aggregator stream ends.`,
		Example: `  # Connect to a local aggregator with hashdb on 50061
  proverctl --aggregator-url http://localhost:50081 --hashdb-port 50061

  # Load a config file; environment variables still win over it
  proverctl -c proverctl.toml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logging.ConfigureRuntime()
			cfg, err := resolveConfig(cmd, f)
			if err != nil {
				return err
			}
			svc, err := prover.NewService(cfg.ServiceConfig())
			if err != nil {
				return err
			}
			log.Info().Msgf("proverctl starting prover_id=%s aggregator=%s", svc.Dispatcher().ProverID(), cfg.AggregatorURL)
			return svc.Run()
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&f.configPath, "config", "c", "", "TOML configuration file")
	fs.StringVar(&f.aggregatorURL, "aggregator-url", config.DefaultAggregatorURL, "aggregator address (host:port or http/tcp/https/tls URL)")
	fs.IntVar(&f.executorPort, "executor-port", 0, "executor service port (0 skips it)")
	fs.IntVar(&f.hashdbPort, "hashdb-port", 0, "hashdb service port (0 skips it)")
	fs.StringVar(&f.proverName, "prover-name", prover.DefaultProverName, "prover name reported to the aggregator")
	fs.StringVar(&f.proverID, "prover-id", "", "prover id (generated when empty)")
	fs.StringVar(&f.fixturePath, "fixture", "", "fixture bundle path (embedded bundle when empty)")
	fs.StringVar(&f.adminAddr, "admin-addr", "", "admin listen address (blank disables it)")
	fs.StringVar(&f.outboundOverflow, "outbound-overflow", "", "outbound queue overflow policy: block|drop")
	fs.IntVar(&f.outboundQueueSize, "outbound-queue-size", 0, "outbound queue capacity")
	fs.IntVar(&f.maxConnectAttempts, "max-connect-attempts", 0, "dial attempts before giving up")

	cmd.AddCommand(newConfigCommand())
	return cmd
}

// resolveConfig layers explicitly set flags over defaults, file and environment.
func resolveConfig(cmd *cobra.Command, f *rootFlags) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		if err := config.ApplyFile(&cfg, f.configPath); err != nil {
			return config.Config{}, err
		}
	}
	if err := config.ApplyEnv(&cfg); err != nil {
		return config.Config{}, err
	}

	fs := cmd.Flags()
	if fs.Changed("aggregator-url") {
		cfg.AggregatorURL = f.aggregatorURL
	}
	if fs.Changed("executor-port") {
		cfg.ExecutorPort = f.executorPort
	}
	if fs.Changed("hashdb-port") {
		cfg.HashDBPort = f.hashdbPort
	}
	if fs.Changed("prover-name") {
		cfg.ProverName = f.proverName
	}
	if fs.Changed("prover-id") {
		cfg.ProverID = f.proverID
	}
	if fs.Changed("fixture") {
		cfg.FixturePath = f.fixturePath
	}
	if fs.Changed("admin-addr") {
		cfg.AdminAddr = f.adminAddr
	}
	if fs.Changed("outbound-overflow") {
		cfg.OutboundOverflow = f.outboundOverflow
	}
	if fs.Changed("outbound-queue-size") {
		cfg.OutboundQueueSize = f.outboundQueueSize
	}
	if fs.Changed("max-connect-attempts") {
		cfg.MaxConnectAttempts = f.maxConnectAttempts
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
