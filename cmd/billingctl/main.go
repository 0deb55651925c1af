package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"

	"github.com/gofiber/fiber/v2/log"
	"github.com/spf13/cobra"

	"github.com/mindreaderbio/platform/app/repository"
	"github.com/mindreaderbio/platform/internal/pkg/billing"
	"github.com/mindreaderbio/platform/internal/pkg/cache"
	"github.com/mindreaderbio/platform/internal/pkg/config"
	"github.com/mindreaderbio/platform/internal/pkg/database"
	"github.com/mindreaderbio/platform/internal/pkg/env"
	"github.com/mindreaderbio/platform/internal/pkg/errorreport"
	"github.com/mindreaderbio/platform/internal/pkg/jobqueue"
	"github.com/mindreaderbio/platform/internal/pkg/mail"
)

var (
	syncEmail       string
	fixSubscription string
	noCache         bool
)

// newService is swapped in tests.
var newService = func() (*billing.Service, error) {
	env.SetupEnvFile()
	errorreport.Setup()
	database.SetupDatabase()
	repository.InitializeFactory(database.GetDB())

	cfg, err := config.LoadBilling()
	if err != nil {
		return nil, fmt.Errorf("billing configuration: %w", err)
	}
	if cfg.SecretKey == "" {
		return nil, &billing.ConfigurationError{Setting: "STRIPE_SECRET_KEY"}
	}

	repos := repository.GetGlobalRepositories()
	if noCache {
		return billing.NewServiceFromRepositories(repos, nil, cfg, mail.NewFromEnv()), nil
	}
	return billing.NewServiceFromRepositories(repos, cache.GetClient(), cfg, mail.NewFromEnv()), nil
}

var rootCmd = &cobra.Command{
	Use:           "billingctl",
	Short:         "Operator tools for Stripe subscription state",
	Long:          `Repair and inspect user entitlements against Stripe`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile users with their active Stripe subscriptions",
	Long:  `Lists the active subscriptions of every user with a Stripe customer and reconciles them`,
	Example: `  # Every linked user
  billingctl sync

  # One user
  billingctl sync --email user@example.com`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		if syncEmail != "" {
			res, err := svc.Backfill.SyncUser(ctx, syncEmail)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), syncEmail, res)
			return nil
		}

		report, err := svc.Backfill.SyncAll(ctx)
		printReport(cmd.OutOrStdout(), report)
		return err
	},
}

var fixUserCmd = &cobra.Command{
	Use:   "fix-user <email>",
	Short: "Reconcile one user against a specific subscription",
	Long:  `Fetches the given subscription (default: the one stored on the user) and reconciles it for the user`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		res, err := svc.Backfill.FixUser(cmd.Context(), args[0], fixSubscription)
		if err != nil {
			return err
		}
		printResult(cmd.OutOrStdout(), args[0], res)
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh <user-id>",
	Short: "Poll Stripe for one user and print the refreshed entitlement",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil || id == 0 {
			return fmt.Errorf("invalid user id %q", args[0])
		}
		svc, err := newService()
		if err != nil {
			return err
		}
		view, err := svc.Poller.RefreshForUser(cmd.Context(), uint(id))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "user %d: plan=%s customer=%s\n", id, view.Plan, view.CustomerID)
		if view.Subscription != nil {
			s := view.Subscription
			fmt.Fprintf(out, "  subscription %s status=%s cancelAtPeriodEnd=%t\n", s.ID, s.Status, s.CancelAtPeriodEnd)
		}
		return nil
	},
}

var emailsCmd = &cobra.Command{
	Use:   "emails",
	Short: "Show the billing email queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if noCache {
			return fmt.Errorf("the email queue lives in Redis, drop --no-cache")
		}
		svc, err := newService()
		if err != nil {
			return err
		}
		if svc.EmailQueue == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "email queue disabled (BILLING_EMAIL_WORKERS=0), emails are sent inline")
			return nil
		}
		stats, err := svc.EmailQueue.GetStats(cmd.Context())
		if err != nil {
			return err
		}
		printQueueStats(cmd.OutOrStdout(), stats)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noCache, "no-cache", false, "do not use Redis: no view cache, emails are sent inline")
	syncCmd.Flags().StringVar(&syncEmail, "email", "", "only sync the user with this email")
	fixUserCmd.Flags().StringVar(&fixSubscription, "subscription", "", "subscription id to reconcile (default: stored subscription)")

	rootCmd.AddCommand(syncCmd, fixUserCmd, refreshCmd, emailsCmd)
}

func printResult(w io.Writer, who string, res *billing.Result) {
	if res == nil {
		fmt.Fprintf(w, "%s: no subscription found\n", who)
		return
	}
	fmt.Fprintf(w, "%s: %s plan=%s subscription=%s\n", who, res.Outcome, res.Entitlement.Plan, res.Entitlement.SubscriptionID)
}

func printReport(w io.Writer, report *billing.BackfillReport) {
	if report == nil {
		return
	}
	fmt.Fprintf(w, "users: %d, skipped: %d\n", report.Users, report.Skipped)
	outcomes := make([]string, 0, len(report.Outcomes))
	for o := range report.Outcomes {
		outcomes = append(outcomes, string(o))
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		fmt.Fprintf(w, "  %-10s %d\n", o, report.Outcomes[billing.Outcome(o)])
	}
}

func printQueueStats(w io.Writer, stats *jobqueue.Stats) {
	fmt.Fprintf(w, "pending: %d, processing: %d\n", stats.Pending, stats.Processing)
	statuses := make([]string, 0, len(stats.Totals))
	for st := range stats.Totals {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)
	for _, st := range statuses {
		fmt.Fprintf(w, "  %-10s %d\n", st, stats.Totals[jobqueue.JobStatus(st)])
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	errorreport.Flush()
	if err != nil {
		log.Errorf("[billingctl] %v", err)
		os.Exit(1)
	}
}
