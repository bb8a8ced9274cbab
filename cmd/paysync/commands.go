package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"course-payment-sync/internal/application"
	"course-payment-sync/internal/infra/api"
	"course-payment-sync/internal/infra/report"
	"course-payment-sync/internal/usecase"
)

func syncCmd(gf *globalFlags) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Rebuild course access from the payment ledger for every paying user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, gf, func(ctx context.Context, c *application.Container) error {
				if userID != "" {
					res := c.Reconciler.ReconcileUser(ctx, userID)
					fmt.Fprintf(cmd.OutOrStdout(), "%s: updated=%t added=%d fixed=%d\n",
						res.UserID, res.Updated, res.CoursesAdded, res.InconsistenciesFixed)
					if res.Failed() {
						return fmt.Errorf("reconcile %s: %s", userID, res.Error)
					}
					return nil
				}
				sum, err := c.Reconciler.ReconcileAll(ctx)
				if err != nil {
					return err
				}
				report.PrintSummary(cmd.OutOrStdout(), sum)
				return writeReport(cmd, gf, c, report.KindSync, sum)
			})
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "reconcile a single user")
	return cmd
}

func validateCmd(gf *globalFlags) *cobra.Command {
	var fix bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Report drift between the ledger and user course access",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, gf, func(ctx context.Context, c *application.Container) error {
				rep, err := c.Validator.Validate(ctx, fix)
				if err != nil {
					return err
				}
				report.PrintSummary(cmd.OutOrStdout(), rep)
				return writeReport(cmd, gf, c, report.KindValidation, rep)
			})
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "repair users whose access is missing or inconsistent")
	return cmd
}

func healthCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Evaluate drift against alert thresholds; exits 1 when degraded",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, gf, func(ctx context.Context, c *application.Container) error {
				h, err := c.Validator.Health(ctx)
				if err != nil {
					return err
				}
				report.PrintSummary(cmd.OutOrStdout(), h)
				if err := writeReport(cmd, gf, c, report.KindHealth, h); err != nil {
					return err
				}
				return healthExit(h)
			})
		},
	}
}

func healthExit(h *usecase.HealthReport) error {
	if h.Healthy() {
		return nil
	}
	return errUnhealthy
}

func tokenCmd(gf *globalFlags) *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(gf)
			if err != nil {
				return err
			}
			tok, err := api.NewAuthManager(cfg.Admin.JWTSecret, cfg.Admin.TokenTTL).Mint(subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVarP(&subject, "subject", "s", "ops", "token subject recorded in audit logs")
	return cmd
}
