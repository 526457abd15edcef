package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/anuaedu/cobranca/internal/billing/domain"
	"github.com/anuaedu/cobranca/internal/clock"
	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGenerator struct {
	calls   []domain.Period
	summary domain.SweepSummary
	err     error
}

func (f *fakeGenerator) GenerateInvoices(_ context.Context, _ domain.Actor, period domain.Period, _ []snowflake.ID) (domain.SweepSummary, error) {
	f.calls = append(f.calls, period)
	return f.summary, f.err
}

type fakeChargeSyncer struct {
	calls   []domain.Period
	summary domain.SweepSummary
	err     error
}

func (f *fakeChargeSyncer) SyncCharges(_ context.Context, _ domain.Actor, period domain.Period, _ []snowflake.ID) (domain.SweepSummary, error) {
	f.calls = append(f.calls, period)
	return f.summary, f.err
}

func (f *fakeChargeSyncer) SyncInvoice(context.Context, domain.Actor, snowflake.ID) error {
	return nil
}

func newTestScheduler(t *testing.T, cfg Config, gen *fakeGenerator, syncer *fakeChargeSyncer) (*Scheduler, *clock.FakeClock) {
	t.Helper()
	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC))
	sched, err := New(Params{
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        clk,
		Config:       cfg,
		GeneratorSvc: gen,
		ChargeSvc:    syncer,
	})
	require.NoError(t, err)
	return sched, clk
}

func TestRunOnceRunsBothSweepsForCurrentPeriod(t *testing.T) {
	gen := &fakeGenerator{}
	syncer := &fakeChargeSyncer{}
	sched, clk := newTestScheduler(t, Config{}, gen, syncer)

	require.NoError(t, sched.RunOnce(context.Background()))

	require.Len(t, gen.calls, 1)
	require.Len(t, syncer.calls, 1)
	assert.Equal(t, domain.Period{Month: 3, Year: 2026}, gen.calls[0])
	assert.Equal(t, domain.Period{Month: 3, Year: 2026}, syncer.calls[0])

	// The next run follows the clock into the new period.
	clk.Set(time.Date(2026, 4, 1, 0, 30, 0, 0, time.UTC))
	require.NoError(t, sched.RunOnce(context.Background()))
	require.Len(t, gen.calls, 2)
	assert.Equal(t, domain.Period{Month: 4, Year: 2026}, gen.calls[1])
}

func TestRunOnceHonorsEnabledJobs(t *testing.T) {
	gen := &fakeGenerator{}
	syncer := &fakeChargeSyncer{}
	sched, _ := newTestScheduler(t, Config{EnabledJobs: []string{JobGenerateInvoices}}, gen, syncer)

	require.NoError(t, sched.RunOnce(context.Background()))

	assert.Len(t, gen.calls, 1)
	assert.Empty(t, syncer.calls)
}

func TestRunOnceAggregatesJobFailures(t *testing.T) {
	genErr := errors.New("listing exploded")
	gen := &fakeGenerator{err: genErr}
	syncer := &fakeChargeSyncer{}
	sched, _ := newTestScheduler(t, Config{}, gen, syncer)

	err := sched.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, genErr)

	// A failing generator sweep must not stop the charge sweep.
	assert.Len(t, syncer.calls, 1)
}

func TestRunOnceTreatsTimeoutAsSoftFailure(t *testing.T) {
	gen := &fakeGenerator{err: context.DeadlineExceeded}
	syncer := &fakeChargeSyncer{}
	sched, _ := newTestScheduler(t, Config{}, gen, syncer)

	assert.NoError(t, sched.RunOnce(context.Background()))
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
