// Package generator implements the scheduled catch-up sweep that turns
// unlinked payments into invoices. It exists for payments created while
// the synchronous reconcile path was unavailable; a clean system yields
// an all-zero summary.
package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	auditdomain "github.com/anuaedu/cobranca/internal/audit/domain"
	"github.com/anuaedu/cobranca/internal/billing/domain"
	"github.com/anuaedu/cobranca/internal/billing/store"
	"github.com/anuaedu/cobranca/internal/clock"
	"github.com/anuaedu/cobranca/internal/config"
	"github.com/anuaedu/cobranca/internal/lock"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Config config.Config
	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Locker lock.Locker
	Clock  clock.Clock
	Audit  auditdomain.Service
}

type service struct {
	cfg    config.Config
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	locker lock.Locker
	clock  clock.Clock
	audit  auditdomain.Service
}

func New(p Params) domain.Generator {
	return &service{
		cfg:    p.Config,
		db:     p.DB,
		log:    p.Log.Named("billing.generator"),
		genID:  p.GenID,
		locker: p.Locker,
		clock:  p.Clock,
		audit:  p.Audit,
	}
}

// GenerateInvoices sweeps all unlinked active payments of the period and
// attaches each student's group to its period invoice, creating one when
// missing. One lock and one transaction per student; a failing student
// is counted and skipped, never aborting the sweep.
func (s *service) GenerateInvoices(ctx context.Context, actor domain.Actor, period domain.Period, schoolIDs []snowflake.ID) (domain.SweepSummary, error) {
	var summary domain.SweepSummary

	if period.Month < 1 || period.Month > 12 || period.Year < 2000 {
		return summary, domain.ErrInvalidPeriod
	}

	payments, err := store.ActivePaymentsForPeriod(ctx, s.db, period, schoolIDs)
	if err != nil {
		return summary, fmt.Errorf("list period payments: %w", err)
	}
	if len(payments) == 0 {
		return summary, nil
	}

	groups := groupByStudent(payments)
	s.log.Info("invoice generation sweep started",
		zap.Int("month", period.Month),
		zap.Int("year", period.Year),
		zap.Int("students", len(groups)),
		zap.Int("payments", len(payments)),
	)

	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := s.generateForStudent(ctx, actor, period, group, &summary); err != nil {
			summary.Errors++
			s.log.Error("invoice generation failed for student",
				zap.Int64("student_id", int64(group[0].StudentID)),
				zap.Error(err),
			)
		}
	}

	s.log.Info("invoice generation sweep finished",
		zap.Int("invoices_created", summary.InvoicesCreated),
		zap.Int("invoices_reconciled", summary.InvoicesReconciled),
		zap.Int("payments_linked", summary.PaymentsLinked),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors),
	)
	return summary, nil
}

func (s *service) generateForStudent(ctx context.Context, actor domain.Actor, period domain.Period, group []domain.Payment, summary *domain.SweepSummary) error {
	studentID := group[0].StudentID

	lease, err := s.locker.Acquire(ctx, domain.StudentLockKey(studentID), s.cfg.Scheduler.SweepLease)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			summary.Skipped++
			s.log.Warn("student busy, skipping", zap.Int64("student_id", int64(studentID)))
			return nil
		}
		return fmt.Errorf("acquire student lock: %w", err)
	}
	defer func() {
		if releaseErr := lease.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			s.log.Warn("failed to release student lock",
				zap.Int64("student_id", int64(studentID)),
				zap.Error(releaseErr),
			)
		}
	}()

	return s.db.Transaction(func(tx *gorm.DB) error {
		return s.attachGroup(ctx, tx, actor, period, group, summary)
	})
}

func (s *service) attachGroup(ctx context.Context, tx *gorm.DB, actor domain.Actor, period domain.Period, group []domain.Payment, summary *domain.SweepSummary) error {
	studentID := group[0].StudentID

	// Re-read under the lock: the synchronous path may have linked or
	// cancelled any of these since the sweep listed them.
	var pending []domain.Payment
	hasLinked := false
	for _, stale := range group {
		payment, err := store.FindPayment(ctx, tx, stale.ID, true)
		if err != nil {
			return fmt.Errorf("reload payment: %w", err)
		}
		if payment == nil || !payment.Active() {
			continue
		}
		if payment.Month != period.Month || payment.Year != period.Year {
			continue
		}
		if payment.InvoiceID != nil {
			hasLinked = true
			continue
		}
		pending = append(pending, *payment)
	}
	if len(pending) == 0 && !hasLinked {
		return nil
	}

	invoice, err := store.FindOpenInvoice(ctx, tx, studentID, period, true)
	if err != nil {
		return fmt.Errorf("find period invoice: %w", err)
	}

	action := "invoice.reconciled"
	created := false
	switch {
	case invoice == nil && len(pending) == 0:
		return nil
	case invoice == nil:
		invoice = &domain.Invoice{
			ID:         s.genID.Generate(),
			SchoolID:   pending[0].SchoolID,
			StudentID:  studentID,
			ContractID: firstContractID(pending),
			Month:      period.Month,
			Year:       period.Year,
			DueDate:    earliestDueDate(pending),
			Status:     domain.InvoiceStatusOpen,
		}
		if err := store.InsertInvoice(ctx, tx, invoice); err != nil {
			return fmt.Errorf("create invoice: %w", err)
		}
		action = "invoice.created"
		created = true
	case !invoice.Recomputable():
		if len(pending) > 0 {
			summary.Skipped++
			s.log.Warn("period invoice is terminal, leaving payments unlinked",
				zap.Int64("student_id", int64(studentID)),
				zap.Int64("invoice_id", int64(invoice.ID)),
				zap.String("status", string(invoice.Status)),
			)
		}
		return nil
	}

	ids := make([]snowflake.ID, len(pending))
	for i, payment := range pending {
		ids[i] = payment.ID
	}
	if err := store.LinkPayments(ctx, tx, invoice.ID, ids); err != nil {
		return fmt.Errorf("link payments: %w", err)
	}
	changed, err := store.Recompute(ctx, tx, invoice, s.clock.Now())
	if err != nil {
		return fmt.Errorf("recompute invoice: %w", err)
	}
	if len(ids) == 0 && !changed {
		// Fully linked and totals already consistent: a pure re-run
		// stays a no-op.
		return nil
	}

	summary.PaymentsLinked += len(ids)
	if created {
		summary.InvoicesCreated++
	} else {
		summary.InvoicesReconciled++
	}

	auditErr := s.audit.Record(ctx, tx, invoice.SchoolID, actor, action, "invoice", invoice.ID.String(), map[string]any{
		"month":           invoice.Month,
		"year":            invoice.Year,
		"payments_linked": len(ids),
		"total_amount":    invoice.TotalAmount,
	})
	if auditErr != nil {
		s.log.Warn("audit record failed", zap.String("action", action), zap.Error(auditErr))
	}
	return nil
}

// groupByStudent partitions payments per student, keeping the listing
// order inside each group.
func groupByStudent(payments []domain.Payment) [][]domain.Payment {
	index := map[snowflake.ID]int{}
	groups := make([][]domain.Payment, 0)
	for _, payment := range payments {
		i, ok := index[payment.StudentID]
		if !ok {
			i = len(groups)
			index[payment.StudentID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], payment)
	}
	return groups
}

func earliestDueDate(payments []domain.Payment) (earliest time.Time) {
	earliest = payments[0].DueDate
	for _, payment := range payments[1:] {
		if payment.DueDate.Before(earliest) {
			earliest = payment.DueDate
		}
	}
	return earliest
}

func firstContractID(payments []domain.Payment) *snowflake.ID {
	for _, payment := range payments {
		if payment.ContractID != nil {
			return payment.ContractID
		}
	}
	return nil
}
