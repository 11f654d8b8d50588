package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loadlab/loadlab/pkg/loadgen"
	"github.com/loadlab/loadlab/pkg/logger"
)

var (
	workloadPath string
	outFormat    string
	logLevel     string
	logFormat    string
)

var rootCmd = &cobra.Command{
	Use:           "loadgen",
	Short:         "Configurable HTTP load generator",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a workload and print a summary report",
	RunE:  runWorkload,
}

func init() {
	runCmd.Flags().StringVarP(&workloadPath, "workload", "w", "workload.yaml", "Path to workload file (YAML)")
	runCmd.Flags().StringVarP(&outFormat, "out", "o", loadgen.FormatText, "Report format: text or json")
	runCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	runCmd.Flags().StringVar(&logFormat, "log-format", "console", "Log format: console or json")
	rootCmd.AddCommand(runCmd)
}

func runWorkload(cmd *cobra.Command, args []string) error {
	workload, err := loadgen.LoadWorkload(workloadPath)
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(logger.Config{Level: logLevel, Format: logFormat})
	if err != nil {
		return err
	}
	defer log.Sync()

	runner := loadgen.NewRunner(workload, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !workload.SkipProbe {
		if err := runner.Probe(ctx); err != nil {
			return fmt.Errorf("target is not reachable: %w", err)
		}
		log.Info("Target probe succeeded", zap.String("target", workload.TargetBaseURL))
	}

	snap, runErr := runner.Run(ctx)

	// The report is printed even when the run was cut short.
	if err := loadgen.WriteReport(os.Stdout, snap, workload.EndpointNames(), outFormat); err != nil {
		return err
	}
	return runErr
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
