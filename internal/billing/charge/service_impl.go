// Package charge synchronizes invoices with their remote gateway charges.
// One implementation serves both the scheduled sweep and the synchronous
// single-invoice path.
package charge

import (
	"context"
	"errors"
	"fmt"
	"time"

	auditdomain "github.com/anuaedu/cobranca/internal/audit/domain"
	"github.com/anuaedu/cobranca/internal/billing/domain"
	"github.com/anuaedu/cobranca/internal/billing/store"
	"github.com/anuaedu/cobranca/internal/config"
	gatewaydomain "github.com/anuaedu/cobranca/internal/gateway/domain"
	"github.com/anuaedu/cobranca/internal/lock"
	schooldomain "github.com/anuaedu/cobranca/internal/school/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ClientProvider resolves a tenant's gateway client from its configured
// provider and credentials. *gateway.Registry satisfies it.
type ClientProvider interface {
	NewClient(provider, apiKey string) (gatewaydomain.Client, error)
}

type Params struct {
	fx.In

	Config   config.Config
	DB       *gorm.DB
	Log      *zap.Logger
	Locker   lock.Locker
	Audit    auditdomain.Service
	Gateways ClientProvider
}

type service struct {
	cfg      config.Config
	db       *gorm.DB
	log      *zap.Logger
	locker   lock.Locker
	audit    auditdomain.Service
	gateways ClientProvider
}

func New(p Params) domain.ChargeSyncer {
	return &service{
		cfg:      p.Config,
		db:       p.DB,
		log:      p.Log.Named("billing.charge"),
		locker:   p.Locker,
		audit:    p.Audit,
		gateways: p.Gateways,
	}
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCreated
	outcomeRefreshed
)

// SyncInvoice creates or refreshes the remote charge for one invoice,
// under the invoice's lease lock. Called from the API right after an
// invoice becomes billable.
func (s *service) SyncInvoice(ctx context.Context, actor domain.Actor, invoiceID snowflake.ID) error {
	_, err := s.syncWithLock(ctx, actor, invoiceID)
	return err
}

// SyncCharges sweeps the period's billable invoices. Per-invoice failures
// are counted, never fatal: a tenant with a broken gateway must not stall
// every other school's billing run.
func (s *service) SyncCharges(ctx context.Context, actor domain.Actor, period domain.Period, schoolIDs []snowflake.ID) (domain.SweepSummary, error) {
	var summary domain.SweepSummary

	if period.Month < 1 || period.Month > 12 || period.Year < 2000 {
		return summary, domain.ErrInvalidPeriod
	}

	invoiceIDs, err := store.ChargeableInvoiceIDs(ctx, s.db, period, schoolIDs)
	if err != nil {
		return summary, fmt.Errorf("list chargeable invoices: %w", err)
	}
	if len(invoiceIDs) == 0 {
		return summary, nil
	}

	s.log.Info("charge sync sweep started",
		zap.Int("month", period.Month),
		zap.Int("year", period.Year),
		zap.Int("invoices", len(invoiceIDs)),
	)

	for _, id := range invoiceIDs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		result, err := s.syncWithLock(ctx, actor, id)
		switch {
		case err == nil:
			switch result {
			case outcomeCreated:
				summary.ChargesCreated++
			case outcomeRefreshed:
				summary.ChargesRefreshed++
			}
		case errors.Is(err, lock.ErrNotAcquired),
			errors.Is(err, domain.ErrGatewayInactive),
			errors.Is(err, domain.ErrMissingTaxID),
			errors.Is(err, domain.ErrInvoiceNotDue):
			summary.Skipped++
			s.log.Warn("invoice skipped", zap.Int64("invoice_id", int64(id)), zap.Error(err))
		default:
			summary.Errors++
			s.log.Error("charge sync failed", zap.Int64("invoice_id", int64(id)), zap.Error(err))
		}
	}

	s.log.Info("charge sync sweep finished",
		zap.Int("charges_created", summary.ChargesCreated),
		zap.Int("charges_refreshed", summary.ChargesRefreshed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors),
	)
	return summary, nil
}

func (s *service) syncWithLock(ctx context.Context, actor domain.Actor, invoiceID snowflake.ID) (outcome, error) {
	lease, err := s.locker.Acquire(ctx, domain.InvoiceLockKey(invoiceID), s.cfg.Scheduler.InvoiceLease)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("acquire invoice lock: %w", err)
	}
	defer func() {
		if releaseErr := lease.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			s.log.Warn("failed to release invoice lock",
				zap.Int64("invoice_id", int64(invoiceID)),
				zap.Error(releaseErr),
			)
		}
	}()

	// Gateway calls sit between the reads and the final guarded write, so
	// no database transaction spans the HTTP round trips. The version
	// check on the write catches anything that moved meanwhile.
	return s.syncLocked(ctx, actor, invoiceID)
}

func (s *service) syncLocked(ctx context.Context, actor domain.Actor, invoiceID snowflake.ID) (outcome, error) {
	invoice, err := store.FindInvoice(ctx, s.db, invoiceID, false)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("load invoice: %w", err)
	}
	if invoice == nil {
		return outcomeSkipped, domain.ErrInvoiceNotFound
	}
	if !invoice.Recomputable() || invoice.TotalAmount <= 0 {
		return outcomeSkipped, domain.ErrInvoiceNotDue
	}

	school, err := s.loadSchool(ctx, invoice.SchoolID)
	if err != nil {
		return outcomeSkipped, err
	}
	if school.GatewayStatus != schooldomain.GatewayStatusActive {
		return outcomeSkipped, domain.ErrGatewayInactive
	}

	client, err := s.gateways.NewClient(school.GatewayProvider, school.GatewayAPIKey)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("gateway client for school %s: %w", school.ID, err)
	}

	profile, err := s.loadPayerProfile(ctx, invoice.StudentID)
	if err != nil {
		return outcomeSkipped, err
	}

	payments, err := store.ActivePayments(ctx, s.db, invoice.ID)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("load linked payments: %w", err)
	}

	contractName := ""
	if invoice.ContractID != nil {
		contract, err := store.ContractWithTiers(ctx, s.db, *invoice.ContractID)
		if err != nil {
			return outcomeSkipped, fmt.Errorf("load contract: %w", err)
		}
		if contract != nil {
			contractName = contract.Name
		}
	}
	description := Describe(school.Name, invoice, payments, contractName)

	billingType, err := s.resolveBillingType(ctx, invoice.StudentID)
	if err != nil {
		return outcomeSkipped, err
	}

	customerID, err := s.resolveCustomer(ctx, client, profile, school.ID)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("resolve gateway customer: %w", err)
	}

	if invoice.PaymentGatewayID != "" {
		existing, err := client.FetchCharge(ctx, invoice.PaymentGatewayID)
		if err != nil && !errors.Is(err, gatewaydomain.ErrChargeNotFound) {
			return outcomeSkipped, fmt.Errorf("fetch existing charge: %w", err)
		}
		if existing != nil {
			if existing.Value.Equal(gatewaydomain.FromCents(invoice.TotalAmount)) &&
				NormalizeDescription(existing.Description) == NormalizeDescription(description) {
				return s.refresh(ctx, actor, invoice, school, existing, billingType)
			}
			if err := client.DeleteCharge(ctx, invoice.PaymentGatewayID); err != nil {
				return outcomeSkipped, fmt.Errorf("delete stale charge: %w", err)
			}
		}
	}

	created, err := client.CreateCharge(ctx, gatewaydomain.ChargeRequest{
		CustomerID:        customerID,
		BillingType:       billingType,
		Value:             gatewaydomain.FromCents(invoice.TotalAmount),
		DueDate:           invoice.DueDate,
		Description:       description,
		ExternalReference: invoice.ID.String(),
	})
	if err != nil {
		return outcomeSkipped, fmt.Errorf("create charge: %w", err)
	}

	err = store.SaveGatewayFields(ctx, s.db, invoice,
		school.GatewayProvider, created.ID, chargeURL(created, billingType), billingType, nextStatus(invoice.Status))
	if err != nil {
		return outcomeSkipped, err
	}

	s.recordAudit(ctx, actor, invoice, "invoice.charge_created", created.ID)
	return outcomeCreated, nil
}

// refresh keeps the matching remote charge and only re-points the invoice
// at its current URL. No remote mutation happens on this path.
func (s *service) refresh(ctx context.Context, actor domain.Actor, invoice *domain.Invoice, school *schooldomain.School, existing *gatewaydomain.Charge, billingType string) (outcome, error) {
	method := invoice.PaymentMethod
	if method == "" {
		method = billingType
	}
	err := store.SaveGatewayFields(ctx, s.db, invoice,
		school.GatewayProvider, existing.ID, chargeURL(existing, method), method, nextStatus(invoice.Status))
	if err != nil {
		return outcomeSkipped, err
	}
	s.recordAudit(ctx, actor, invoice, "invoice.charge_refreshed", existing.ID)
	return outcomeRefreshed, nil
}

func (s *service) loadSchool(ctx context.Context, schoolID snowflake.ID) (*schooldomain.School, error) {
	var school schooldomain.School
	if err := s.db.WithContext(ctx).First(&school, "id = ?", schoolID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("school %s not found", schoolID)
		}
		return nil, fmt.Errorf("load school: %w", err)
	}
	return &school, nil
}

func (s *service) loadPayerProfile(ctx context.Context, studentID snowflake.ID) (*schooldomain.ResponsibleProfile, error) {
	var student schooldomain.Student
	if err := s.db.WithContext(ctx).First(&student, "id = ?", studentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("student %s not found", studentID)
		}
		return nil, fmt.Errorf("load student: %w", err)
	}

	var profile schooldomain.ResponsibleProfile
	err := s.db.WithContext(ctx).First(&profile, "user_id = ?", student.ResponsibleUserID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMissingTaxID
		}
		return nil, fmt.Errorf("load responsible profile: %w", err)
	}
	if profile.TaxID == "" {
		return nil, domain.ErrMissingTaxID
	}
	return &profile, nil
}

// resolveBillingType picks the billing method by majority vote over the
// student's active enrollments. Ties and absent preferences fall back to
// BOLETO, the only method every payer can use.
func (s *service) resolveBillingType(ctx context.Context, studentID snowflake.ID) (string, error) {
	var enrollments []schooldomain.Enrollment
	err := s.db.WithContext(ctx).
		Where("student_id = ? AND status = ?", studentID, "ACTIVE").
		Find(&enrollments).Error
	if err != nil {
		return "", fmt.Errorf("load enrollments: %w", err)
	}

	counts := map[schooldomain.PaymentMethod]int{}
	for _, enrollment := range enrollments {
		if enrollment.PaymentMethod == "" {
			continue
		}
		counts[enrollment.PaymentMethod]++
	}

	best := schooldomain.PaymentMethodBoleto
	bestCount := 0
	tied := false
	for method, count := range counts {
		switch {
		case count > bestCount:
			best, bestCount, tied = method, count, false
		case count == bestCount && method != best:
			tied = true
		}
	}
	if tied || bestCount == 0 {
		return string(schooldomain.PaymentMethodBoleto), nil
	}
	return string(best), nil
}

func (s *service) resolveCustomer(ctx context.Context, client gatewaydomain.Client, profile *schooldomain.ResponsibleProfile, schoolID snowflake.ID) (string, error) {
	if profile.GatewayCustomerID != "" {
		return profile.GatewayCustomerID, nil
	}

	customerID, err := client.ResolveOrCreateCustomer(ctx, gatewaydomain.CustomerProfile{
		Name:              profile.Name,
		Email:             profile.Email,
		Phone:             profile.Phone,
		TaxID:             profile.TaxID,
		ExternalReference: profile.UserID.String(),
	})
	if err != nil {
		return "", err
	}

	err = s.db.WithContext(ctx).
		Model(&schooldomain.ResponsibleProfile{}).
		Where("user_id = ?", profile.UserID).
		Updates(map[string]any{
			"gateway_customer_id": customerID,
			"updated_at":          time.Now().UTC(),
		}).Error
	if err != nil {
		s.log.Warn("failed to cache gateway customer id",
			zap.Int64("user_id", int64(profile.UserID)),
			zap.Error(err),
		)
	}
	return customerID, nil
}

func (s *service) recordAudit(ctx context.Context, actor domain.Actor, invoice *domain.Invoice, action, chargeID string) {
	// No transaction is open here; the syncer writes gateway fields with
	// their own version guard.
	err := s.audit.Record(ctx, s.db, invoice.SchoolID, actor, action, "invoice", invoice.ID.String(), map[string]any{
		"charge_id":    chargeID,
		"gateway":      invoice.PaymentGateway,
		"total_amount": invoice.TotalAmount,
	})
	if err != nil {
		s.log.Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}

func chargeURL(charge *gatewaydomain.Charge, billingType string) string {
	if billingType == string(schooldomain.PaymentMethodBoleto) && charge.BankSlipURL != "" {
		return charge.BankSlipURL
	}
	return charge.InvoiceURL
}

func nextStatus(current domain.InvoiceStatus) domain.InvoiceStatus {
	if current == domain.InvoiceStatusOpen {
		return domain.InvoiceStatusPending
	}
	return current
}
