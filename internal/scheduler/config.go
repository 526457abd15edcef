package scheduler

import (
	"time"

	"github.com/anuaedu/cobranca/internal/config"
)

// Config controls the sweep loop.
type Config struct {
	RunInterval  time.Duration
	SweepTimeout time.Duration
	EnabledJobs  []string
	DisableLoop  bool
}

func (c Config) withDefaults() Config {
	if c.RunInterval <= 0 {
		c.RunInterval = 24 * time.Hour
	}
	if c.SweepTimeout <= 0 {
		c.SweepTimeout = 30 * time.Minute
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:  cfg.Scheduler.RunInterval,
		SweepTimeout: cfg.Scheduler.SweepTimeout,
		EnabledJobs:  cfg.Scheduler.EnabledJobs,
		DisableLoop:  cfg.Scheduler.DisableLoop,
	}.withDefaults()
}
