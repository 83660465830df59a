// The scheduler binary runs the billing jobs on fixed cron cadences with no
// HTTP surface. Exact timing lives in the cron entries; the jobs themselves
// are idempotent, so a missed or repeated firing is harmless.
package main

import (
	"context"

	"github.com/asterhq/tally/internal/clock"
	"github.com/asterhq/tally/internal/config"
	"github.com/asterhq/tally/internal/invoice"
	invoicedomain "github.com/asterhq/tally/internal/invoice/domain"
	"github.com/asterhq/tally/internal/logger"
	"github.com/asterhq/tally/internal/payment"
	"github.com/asterhq/tally/internal/pricing"
	"github.com/asterhq/tally/internal/scheduler"
	"github.com/asterhq/tally/internal/subscription"
	subscriptiondomain "github.com/asterhq/tally/internal/subscription/domain"
	"github.com/asterhq/tally/internal/usage"
	usagedomain "github.com/asterhq/tally/internal/usage/domain"
	"github.com/asterhq/tally/pkg/db"
	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		pricing.Module,

		usage.Module,
		subscription.Module,
		payment.Module,
		invoice.Module,
		scheduler.Module,

		// No server module: cadence only.
		fx.Invoke(Migrate),
		fx.Invoke(StartCron),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}

func Migrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&usagedomain.UsageRecord{},
		&subscriptiondomain.Subscription{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLineItem{},
	)
}

func StartCron(lc fx.Lifecycle, log *zap.Logger, s *scheduler.Scheduler) error {
	runner := cron.New()
	log = log.Named("cron")

	schedule := func(spec string, job func(context.Context) scheduler.Result) error {
		_, err := runner.AddFunc(spec, func() {
			result := job(context.Background())
			if !result.Success {
				log.Warn("job finished with errors",
					zap.String("job", result.Job),
					zap.Int("processed", result.ProcessedCount),
					zap.Strings("errors", result.Errors),
				)
				return
			}
			log.Info("job finished",
				zap.String("job", result.Job),
				zap.Int("processed", result.ProcessedCount),
			)
		})
		return err
	}

	entries := []struct {
		spec string
		job  func(context.Context) scheduler.Result
	}{
		{"10 2 1 * *", s.MonthlyInvoiceRun}, // first of the month, 02:10 UTC
		{"0 * * * *", s.HourlySyncRun},
		{"0 9 * * *", s.OverdueRun},
		{"30 9 * * *", s.TrialExpiryRun},
	}
	for _, entry := range entries {
		if err := schedule(entry.spec, entry.job); err != nil {
			return err
		}
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runner.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopped := runner.Stop()
			select {
			case <-stopped.Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
	return nil
}
