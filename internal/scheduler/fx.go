package scheduler

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(StartLoop),
)

// StartLoop runs the sweep loop in the background for the lifetime of
// the app, unless the loop is disabled (worker split deployments drive
// RunOnce through the API instead).
func StartLoop(lc fx.Lifecycle, cfg Config, sched *Scheduler) {
	if cfg.DisableLoop {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go sched.RunForever(ctx)

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
