package scheduler

import (
	"github.com/asterhq/tally/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
)

func ProvideConfig(cfg config.Config) Config {
	out := DefaultConfig()
	out.ReminderHour = cfg.ReminderHour
	return out
}
