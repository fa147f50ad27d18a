package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"homepro/config"
	"homepro/database"
	"homepro/models"
	"homepro/services/booking"
	"homepro/services/notification"
	"homepro/services/payment"
	"homepro/utils"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type env struct {
	cfg    *config.Config
	ledger *database.Ledger
	logger *zap.Logger
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := utils.NewLogger(false, "warn")
	if err != nil {
		return nil, err
	}
	ledger, err := database.OpenLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, ledger: ledger, logger: logger}, nil
}

func (e *env) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = e.ledger.Close(ctx)
	_ = e.logger.Sync()
}

// machine builds a booking machine that talks to the real gateway. Jobs run
// by hand never schedule further retries.
func (e *env) machine() (*booking.Machine, error) {
	if e.cfg.StripeKey == "" {
		return nil, errors.New("STRIPE_KEY is required for gateway commands")
	}
	gateway := payment.NewStripeGateway(payment.StripeOptions{
		APIKey:        e.cfg.StripeKey,
		WebhookSecret: e.cfg.StripeWebhookSecret,
		Timeout:       e.cfg.GatewayTimeout,
	}, e.logger)
	return booking.NewMachine(booking.Deps{
		Store:    e.ledger.Store,
		Gateway:  gateway,
		Notifier: notification.LogSink{Logger: e.logger},
		Logger:   e.logger,
		Currency: e.cfg.PaymentCurrency,
	})
}

func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create ledger tables and indexes for the configured driver",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			if err := e.ledger.Store.EnsureSchema(ctx); err != nil {
				return err
			}
			if e.ledger.MongoDB != nil {
				if err := notification.NewMongoDeviceDirectory(e.ledger.MongoDB).EnsureIndexes(ctx); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s)\n", e.cfg.LedgerDriver)
			return nil
		},
	}
}

func showCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show [booking-id]",
		Short: "Print a booking with its status history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			b, err := e.ledger.Store.Get(ctx, args[0])
			if err != nil {
				return fmt.Errorf("booking %s: %w", args[0], err)
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(b)
			}
			printBooking(cmd.OutOrStdout(), b)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")
	return cmd
}

func retryCaptureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-capture [booking-id]",
		Short: "Capture the hold of a booking stuck in completed_pending_payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsSystem(cmd, args[0], func(ctx context.Context, m *booking.Machine, id string) (*models.Booking, error) {
				return m.RetryCapture(ctx, id, models.SystemPrincipal)
			})
		},
	}
}

func releaseHoldCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release-hold [booking-id]",
		Short: "Release the payment hold of a cancelled booking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsSystem(cmd, args[0], func(ctx context.Context, m *booking.Machine, id string) (*models.Booking, error) {
				return m.ReleaseHold(ctx, id, models.SystemPrincipal)
			})
		},
	}
}

func runAsSystem(cmd *cobra.Command, id string, op func(context.Context, *booking.Machine, string) (*models.Booking, error)) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	m, err := e.machine()
	if err != nil {
		return err
	}
	b, err := op(ctx, m, id)
	if b != nil {
		printBooking(cmd.OutOrStdout(), b)
	}
	if err != nil && booking.IsPartialSuccess(err) {
		fmt.Fprintf(cmd.OutOrStdout(), "\noutstanding: %v\n", err)
		return nil
	}
	return err
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token [subject] [customer|pro|admin]",
		Short: "Mint a bearer token signed with JWT_SECRET for local testing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			if !models.IsValidTokenRole(models.Role(args[1])) {
				return fmt.Errorf("role must be customer, pro or admin, got %q", args[1])
			}
			tok, err := utils.GenerateToken([]byte(cfg.JWTSecret), args[0], args[1], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}

func printBooking(w io.Writer, b *models.Booking) {
	fmt.Fprintf(w, "Booking %s\n", b.ID)
	fmt.Fprintln(w, strings.Repeat("=", 40))
	fmt.Fprintf(w, "  Status:    %s\n", b.Status)
	fmt.Fprintf(w, "  Customer:  %s\n", b.CustomerID)
	fmt.Fprintf(w, "  Pro:       %s\n", b.ProID)
	fmt.Fprintf(w, "  Price:     %d %s\n", b.Price, strings.ToUpper(b.Currency))
	fmt.Fprintf(w, "  Payment:   %s\n", b.PaymentState)
	fmt.Fprintf(w, "  Hold:      %s\n", valueOrDefault(b.HoldRef(), "none"))
	if b.FailureReason != "" {
		fmt.Fprintf(w, "  Failure:   %s\n", b.FailureReason)
	}
	if b.HoldReleasedAt != nil {
		fmt.Fprintf(w, "  Released:  %s\n", b.HoldReleasedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "  Version:   %d\n", b.Version)

	fmt.Fprintln(w, "\nHistory:")
	for _, e := range b.StatusHistory {
		fmt.Fprintf(w, "  %s  %-26s %s/%s\n", e.At.Format(time.RFC3339), e.Status, e.Actor.Role, e.Actor.ID)
	}
}

func valueOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
