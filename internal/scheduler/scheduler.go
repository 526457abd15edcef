// Package scheduler runs the daily billing sweeps: invoice generation
// for the current period, then gateway charge sync. Both underlying
// services are idempotent, so overlapping or repeated runs are safe.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anuaedu/cobranca/internal/billing/domain"
	"github.com/anuaedu/cobranca/internal/clock"
	obsmetrics "github.com/anuaedu/cobranca/internal/observability/metrics"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

const (
	JobGenerateInvoices = "generate_invoices"
	JobSyncCharges      = "sync_charges"

	actorSource = "scheduler"
)

type Params struct {
	fx.In

	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Config       Config `optional:"true"`
	GeneratorSvc domain.Generator
	ChargeSvc    domain.ChargeSyncer
}

type Scheduler struct {
	log          *zap.Logger
	cfg          Config
	genID        *snowflake.Node
	clock        clock.Clock
	generatorSvc domain.Generator
	chargeSvc    domain.ChargeSyncer
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.GeneratorSvc == nil || p.ChargeSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          p.Config.withDefaults(),
		genID:        p.GenID,
		clock:        p.Clock,
		generatorSvc: p.GeneratorSvc,
		chargeSvc:    p.ChargeSvc,
	}, nil
}

// RunOnce executes every enabled job for the current billing period and
// aggregates their failures.
func (s *Scheduler) RunOnce(parent context.Context) error {
	now := s.clock.Now()
	period := domain.Period{Month: int(now.Month()), Year: now.Year()}

	var err error
	jobs := []struct {
		Name string
		Run  func(context.Context, domain.Period) (domain.SweepSummary, error)
	}{
		{JobGenerateInvoices, func(ctx context.Context, p domain.Period) (domain.SweepSummary, error) {
			return s.generatorSvc.GenerateInvoices(ctx, domain.SystemActor(actorSource), p, nil)
		}},
		{JobSyncCharges, func(ctx context.Context, p domain.Period) (domain.SweepSummary, error) {
			return s.chargeSvc.SyncCharges(ctx, domain.SystemActor(actorSource), p, nil)
		}},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, period, job.Run))
	}
	return err
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	period domain.Period,
	fn func(ctx context.Context, period domain.Period) (domain.SweepSummary, error),
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.SweepTimeout)
	defer cancel()

	runID := s.genID.Generate().String()
	log := s.log.With(zap.String("job", name), zap.String("run_id", runID))
	log.Info("scheduler.job.start",
		zap.Int("month", period.Month),
		zap.Int("year", period.Year),
	)

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	summary, err := fn(ctx, period)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	s.recordSummary(name, summary)

	fields := []zap.Field{
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		zap.Int("invoices_created", summary.InvoicesCreated),
		zap.Int("invoices_reconciled", summary.InvoicesReconciled),
		zap.Int("payments_linked", summary.PaymentsLinked),
		zap.Int("charges_created", summary.ChargesCreated),
		zap.Int("charges_refreshed", summary.ChargesRefreshed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors),
	}
	if err == nil && summary.Errors == 0 {
		log.Info("scheduler.job.finish", fields...)
		return nil
	}
	if summary.Errors > 0 {
		schedMetrics.IncJobError(name)
	}
	if err == nil {
		log.Warn("scheduler.job.finish", fields...)
		return nil
	}

	schedMetrics.IncJobError(name)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		// Soft timeout: the next run picks up where this one stopped.
		log.Warn("job timed out",
			zap.Duration("timeout", s.cfg.SweepTimeout),
			zap.Error(err),
		)
		return nil
	}
	log.Error("scheduler.job.finish", append(fields, zap.Error(err))...)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) recordSummary(job string, summary domain.SweepSummary) {
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.AddSweepItems(job, "invoices_created", summary.InvoicesCreated)
	schedMetrics.AddSweepItems(job, "invoices_reconciled", summary.InvoicesReconciled)
	schedMetrics.AddSweepItems(job, "payments_linked", summary.PaymentsLinked)
	schedMetrics.AddSweepItems(job, "charges_created", summary.ChargesCreated)
	schedMetrics.AddSweepItems(job, "charges_refreshed", summary.ChargesRefreshed)
	schedMetrics.AddSweepItems(job, "skipped", summary.Skipped)
	schedMetrics.AddSweepItems(job, "errors", summary.Errors)
}

// RunForever loops RunOnce on the configured interval until the context
// is cancelled. The first run happens immediately.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty list means every job runs (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
