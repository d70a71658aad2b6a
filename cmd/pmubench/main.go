package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/NodePath81/pmugateway/internal/bench"
	"github.com/NodePath81/pmugateway/internal/config"
	"github.com/NodePath81/pmugateway/internal/util"
	"github.com/NodePath81/pmugateway/internal/version"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	root := &cobra.Command{
		Use:           "pmubench",
		Short:         "Load-testing harness for the PMU estimation gateway",
		Long:          `Sweeps a clients x channels matrix against a gateway and records per-request timings and per-combination statistics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "bench.yaml", "harness config file")
	root.AddCommand(newRunCmd(&cfgFile), newCheckCmd(&cfgFile), newVersionCmd())
	return root
}

func newRunCmd(cfgFile *string) *cobra.Command {
	var (
		clients    []int
		channels   []int
		iterations int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the benchmark matrix",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*cfgFile)
			if err != nil {
				return err
			}
			if err := cfg.Override(clients, channels, iterations); err != nil {
				return err
			}
			logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			report, err := bench.NewRunner(cfg, logger).Run(ctx)
			if err != nil {
				return fmt.Errorf("run %s: %w", report.RunID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d combinations written to %s\n",
				report.RunID, len(report.Rows), cfg.Output.Dir)
			return nil
		},
	}
	cmd.Flags().IntSliceVar(&clients, "clients", nil, "client counts to sweep (overrides run.matrix.clients)")
	cmd.Flags().IntSliceVar(&channels, "channels", nil, "channel counts to sweep (overrides run.matrix.channels)")
	cmd.Flags().IntVar(&iterations, "iterations", 0, "estimates per client (overrides run.iterations)")
	return cmd
}

func newCheckCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the harness config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*cfgFile)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config valid: %s via %s, %d x %d combinations, %d iterations\n",
				cfg.Target.URL, cfg.Target.Transport,
				len(cfg.Run.Matrix.Clients), len(cfg.Run.Matrix.Channels), cfg.Run.Iterations)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
		},
	}
}

func loadConfig(path string) (config.BenchConfig, error) {
	cfg, err := config.LoadBenchConfig(path)
	if err != nil {
		return config.BenchConfig{}, fmt.Errorf("config invalid: %w", err)
	}
	return cfg, nil
}
