package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"course-payment-sync/internal/application"
	"course-payment-sync/internal/config"
	"course-payment-sync/internal/infra/logging"
)

var Version = "dev"

// errUnhealthy makes the process exit non-zero without printing a second message.
var errUnhealthy = errors.New("system unhealthy")

type globalFlags struct {
	config   string
	dev      bool
	noReport bool
}

func main() {
	var gf globalFlags
	rootCmd := &cobra.Command{
		Use:           "paysync",
		Short:         "Reconcile course payments with user course access",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&gf.config, "config", "c", "config.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&gf.dev, "dev", false, "developer mode (console logs)")
	rootCmd.PersistentFlags().BoolVar(&gf.noReport, "no-report", false, "do not write a JSON report file")

	rootCmd.AddCommand(syncCmd(&gf))
	rootCmd.AddCommand(validateCmd(&gf))
	rootCmd.AddCommand(healthCmd(&gf))
	rootCmd.AddCommand(tokenCmd(&gf))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errUnhealthy) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func loadConfig(gf *globalFlags) (*config.Config, *zerolog.Logger, error) {
	cfg, err := config.LoadConfig(gf.config, gf.dev)
	if err != nil {
		return nil, nil, err
	}
	// stdout carries the summary; logs go to stderr.
	return cfg, logging.NewWithWriter(cfg.Log, cfg.Runtime.Dev, os.Stderr), nil
}

// withContainer loads config, wires the stores and runs fn.
func withContainer(cmd *cobra.Command, gf *globalFlags, fn func(context.Context, *application.Container) error) error {
	cfg, logger, err := loadConfig(gf)
	if err != nil {
		return err
	}
	c, err := application.Build(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(cmd.Context(), c)
}

func writeReport(cmd *cobra.Command, gf *globalFlags, c *application.Container, kind string, body any) error {
	if gf.noReport {
		return nil
	}
	path, err := c.Reports.Write(kind, body)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Report: %s\n", path)
	return nil
}
