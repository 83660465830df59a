package usage

import (
	"context"

	"github.com/asterhq/tally/internal/clock"
	"github.com/asterhq/tally/internal/config"
	"github.com/asterhq/tally/internal/usage/buffer"
	usagedomain "github.com/asterhq/tally/internal/usage/domain"
	"github.com/asterhq/tally/internal/usage/repository"
	"github.com/asterhq/tally/internal/usage/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("usage.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(ProvideBuffer),
	fx.Invoke(StartBuffer),
)

func ProvideBuffer(log *zap.Logger, clk clock.Clock, store usagedomain.Service, cfg config.Config) *buffer.Buffer {
	return buffer.New(log, clk, store, buffer.Config{
		MaxSize:       cfg.BufferMaxSize,
		FlushInterval: cfg.BufferFlushInterval,
	})
}

func StartBuffer(lc fx.Lifecycle, b *buffer.Buffer) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			runCtx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})

			go func() {
				defer close(done)
				b.Run(runCtx)
			}()

			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error {
					cancel()
					select {
					case <-done:
					case <-ctx.Done():
					}
					return nil
				},
			})

			return nil
		},
	})
}
