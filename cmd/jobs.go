package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-momo/app/service"
	"github.com/vibast-solutions/ms-go-momo/config"
)

var (
	workerMode bool
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll the provider for pending payments past the webhook grace period",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"poll",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.PollInterval },
			func(s *service.PaymentService, ctx context.Context) error {
				return s.RunPollBatch(ctx)
			},
		)
	},
}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Run expiration-related commands",
}

var expirePendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Force-fail pending payments whose TTL has elapsed",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"expire_pending",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.ExpirePendingInterval },
			func(s *service.PaymentService, ctx context.Context) error {
				return s.RunExpirePendingBatch(ctx)
			},
		)
	},
}

var orderSyncCmd = &cobra.Command{
	Use:   "ordersync",
	Short: "Run order projection commands",
}

var orderSyncDispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Retry order projections whose cascade failed",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"order_sync",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.OrderSyncInterval },
			func(s *service.PaymentService, ctx context.Context) error {
				return s.RunOrderSyncBatch(ctx)
			},
		)
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Run retention commands",
}

var purgeTerminalCmd = &cobra.Command{
	Use:   "terminal",
	Short: "Delete terminal payment records past the retention cutoff",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"purge_terminal",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.PurgeInterval },
			func(s *service.PaymentService, ctx context.Context) error {
				return s.RunPurgeBatch(ctx)
			},
		)
	},
}

func init() {
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(expireCmd)
	rootCmd.AddCommand(orderSyncCmd)
	rootCmd.AddCommand(purgeCmd)
	expireCmd.AddCommand(expirePendingCmd)
	orderSyncCmd.AddCommand(orderSyncDispatchCmd)
	purgeCmd.AddCommand(purgeTerminalCmd)

	rootCmd.PersistentFlags().BoolVar(&workerMode, "worker", false, "Run continuously using configured interval")
}

func runCommand(
	name string,
	intervalResolver func(cfg *config.Config) time.Duration,
	fn func(s *service.PaymentService, ctx context.Context) error,
) {
	cfg, deps, cleanup := mustCreateService()
	defer cleanup()

	if workerMode {
		runWorker(name, intervalResolver(cfg), deps.paymentService, fn)
		return
	}

	ctx := context.Background()
	runJob(name, func() error { return fn(deps.paymentService, ctx) })
}

func runWorker(
	name string,
	interval time.Duration,
	paymentService *service.PaymentService,
	fn func(s *service.PaymentService, ctx context.Context) error,
) {
	if interval <= 0 {
		logrus.WithField("job", name).Fatal("invalid worker interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runJob(name, func() error { return fn(paymentService, ctx) })

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-quit:
			logrus.WithField("job", name).Info("Worker shutdown requested")
			return
		case <-ticker.C:
			runJob(name, func() error { return fn(paymentService, ctx) })
		}
	}
}

func runJob(name string, fn func() error) {
	start := time.Now()
	err := fn()
	latency := time.Since(start)
	if err != nil {
		logrus.WithError(err).WithField("job", name).WithField("latency", latency.String()).Error("job_failed")
		return
	}
	logrus.WithField("job", name).WithField("latency", latency.String()).Info("job_completed")
}
