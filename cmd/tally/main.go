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
	"github.com/asterhq/tally/internal/server"
	"github.com/asterhq/tally/internal/subscription"
	subscriptiondomain "github.com/asterhq/tally/internal/subscription/domain"
	"github.com/asterhq/tally/internal/usage"
	usagedomain "github.com/asterhq/tally/internal/usage/domain"
	"github.com/asterhq/tally/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
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
		server.Module,

		fx.Invoke(Migrate),
		fx.Invoke(StartScheduler),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
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

func StartScheduler(lc fx.Lifecycle, s *scheduler.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			runCtx, cancel := context.WithCancel(context.Background())

			go s.RunForever(runCtx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
