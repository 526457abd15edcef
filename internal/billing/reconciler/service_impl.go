// Package reconciler keeps invoices consistent with their payments. It is
// the synchronous half of the billing core: called right after a payment
// is created, edited or cancelled.
package reconciler

import (
	"context"
	"fmt"

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

func New(p Params) domain.Reconciler {
	return &service{
		cfg:    p.Config,
		db:     p.DB,
		log:    p.Log.Named("billing.reconciler"),
		genID:  p.GenID,
		locker: p.Locker,
		clock:  p.Clock,
		audit:  p.Audit,
	}
}

// Reconcile links the payment to its period invoice, creating one when
// missing, and recomputes the invoice totals. The whole mutating path
// runs under the student's lease lock so that concurrent reconciles for
// the same student cannot create duplicate invoices.
func (s *service) Reconcile(ctx context.Context, actor domain.Actor, paymentID snowflake.ID) error {
	payment, err := store.FindPayment(ctx, s.db, paymentID, false)
	if err != nil {
		return fmt.Errorf("load payment: %w", err)
	}
	if payment == nil {
		return domain.ErrPaymentNotFound
	}
	if payment.Type == domain.PaymentTypeAgreement {
		s.log.Debug("agreement payments are not invoiced", zap.Int64("payment_id", int64(paymentID)))
		return nil
	}
	if !payment.Active() && payment.InvoiceID == nil {
		return nil
	}

	lease, err := s.locker.Acquire(ctx, domain.StudentLockKey(payment.StudentID), s.cfg.Scheduler.StudentLease)
	if err != nil {
		return fmt.Errorf("acquire student lock: %w", err)
	}
	defer func() {
		if releaseErr := lease.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			s.log.Warn("failed to release student lock",
				zap.Int64("student_id", int64(payment.StudentID)),
				zap.Error(releaseErr),
			)
		}
	}()

	return s.db.Transaction(func(tx *gorm.DB) error {
		return s.reconcileLocked(ctx, tx, actor, paymentID)
	})
}

func (s *service) reconcileLocked(ctx context.Context, tx *gorm.DB, actor domain.Actor, paymentID snowflake.ID) error {
	// State may have moved between the unlocked read and lock acquisition.
	payment, err := store.FindPayment(ctx, tx, paymentID, true)
	if err != nil {
		return fmt.Errorf("reload payment: %w", err)
	}
	if payment == nil {
		return domain.ErrPaymentNotFound
	}

	if payment.InvoiceID != nil {
		return s.recomputeLinked(ctx, tx, actor, payment)
	}
	if !payment.Active() {
		return nil
	}
	return s.attach(ctx, tx, actor, payment)
}

func (s *service) recomputeLinked(ctx context.Context, tx *gorm.DB, actor domain.Actor, payment *domain.Payment) error {
	invoice, err := store.FindInvoice(ctx, tx, *payment.InvoiceID, true)
	if err != nil {
		return fmt.Errorf("load linked invoice: %w", err)
	}
	if invoice == nil {
		return domain.ErrInvoiceNotFound
	}
	if !invoice.Recomputable() {
		s.log.Info("linked invoice is terminal, skipping recompute",
			zap.Int64("invoice_id", int64(invoice.ID)),
			zap.String("status", string(invoice.Status)),
		)
		return nil
	}

	changed, err := store.Recompute(ctx, tx, invoice, s.clock.Now())
	if err != nil {
		return fmt.Errorf("recompute invoice: %w", err)
	}
	if changed {
		s.recordAudit(ctx, tx, actor, invoice, "invoice.reconciled", payment.ID)
	}
	return nil
}

func (s *service) attach(ctx context.Context, tx *gorm.DB, actor domain.Actor, payment *domain.Payment) error {
	period := domain.Period{Month: payment.Month, Year: payment.Year}
	invoice, err := store.FindOpenInvoice(ctx, tx, payment.StudentID, period, true)
	if err != nil {
		return fmt.Errorf("find period invoice: %w", err)
	}

	action := "invoice.reconciled"
	if invoice == nil {
		invoice = &domain.Invoice{
			ID:         s.genID.Generate(),
			SchoolID:   payment.SchoolID,
			StudentID:  payment.StudentID,
			ContractID: payment.ContractID,
			Month:      payment.Month,
			Year:       payment.Year,
			DueDate:    payment.DueDate,
			Status:     domain.InvoiceStatusOpen,
		}
		if err := store.InsertInvoice(ctx, tx, invoice); err != nil {
			return fmt.Errorf("create invoice: %w", err)
		}
		action = "invoice.created"
	} else if !invoice.Recomputable() {
		s.log.Warn("period invoice is terminal, payment left unlinked",
			zap.Int64("payment_id", int64(payment.ID)),
			zap.Int64("invoice_id", int64(invoice.ID)),
			zap.String("status", string(invoice.Status)),
		)
		return nil
	}

	if err := store.LinkPayments(ctx, tx, invoice.ID, []snowflake.ID{payment.ID}); err != nil {
		return fmt.Errorf("link payment: %w", err)
	}
	if _, err := store.Recompute(ctx, tx, invoice, s.clock.Now()); err != nil {
		return fmt.Errorf("recompute invoice: %w", err)
	}

	s.recordAudit(ctx, tx, actor, invoice, action, payment.ID)
	return nil
}

func (s *service) recordAudit(ctx context.Context, tx *gorm.DB, actor domain.Actor, invoice *domain.Invoice, action string, paymentID snowflake.ID) {
	err := s.audit.Record(ctx, tx, invoice.SchoolID, actor, action, "invoice", invoice.ID.String(), map[string]any{
		"payment_id":   paymentID.String(),
		"month":        invoice.Month,
		"year":         invoice.Year,
		"total_amount": invoice.TotalAmount,
	})
	if err != nil {
		s.log.Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}
