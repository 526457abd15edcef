package store

import (
	"context"
	"time"

	"github.com/anuaedu/cobranca/internal/billing/domain"
	"github.com/anuaedu/cobranca/internal/billing/totals"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Recompute rebuilds an invoice's totals from its active linked payments
// and persists them when they changed. When no active payment remains the
// invoice is cancelled instead. Reports whether a write happened.
func Recompute(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice, today time.Time) (bool, error) {
	payments, err := ActivePayments(ctx, tx, invoice.ID)
	if err != nil {
		return false, err
	}

	if len(payments) == 0 {
		if err := cancelEmpty(ctx, tx, invoice); err != nil {
			return false, err
		}
		return true, nil
	}

	contractID := invoice.ContractID
	if contractID == nil {
		for _, p := range payments {
			if p.ContractID != nil {
				contractID = p.ContractID
				break
			}
		}
	}

	var contract *domain.Contract
	if contractID != nil {
		contract, err = ContractWithTiers(ctx, tx, *contractID)
		if err != nil {
			return false, err
		}
	}

	computed := totals.Compute(payments, invoice.DueDate, contract, invoice.FineAmount, invoice.InterestAmount, today)
	if computed.BaseAmount == invoice.BaseAmount &&
		computed.DiscountAmount == invoice.DiscountAmount &&
		computed.TotalAmount == invoice.TotalAmount &&
		(invoice.ContractID != nil || contractID == nil) {
		return false, nil
	}

	if err := SaveTotals(ctx, tx, invoice, computed, contractID); err != nil {
		return false, err
	}
	return true, nil
}

func cancelEmpty(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice) error {
	result := tx.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("id = ? AND version = ?", invoice.ID, invoice.Version).
		Updates(map[string]any{
			"status":          domain.InvoiceStatusCancelled,
			"base_amount":     int64(0),
			"discount_amount": int64(0),
			"total_amount":    int64(0),
			"version":         invoice.Version + 1,
			"updated_at":      time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrInvoiceConflict
	}

	invoice.Status = domain.InvoiceStatusCancelled
	invoice.BaseAmount = 0
	invoice.DiscountAmount = 0
	invoice.TotalAmount = 0
	invoice.Version++
	return nil
}

// ChargeableInvoiceIDs lists the period's invoices that still need a
// remote charge: OPEN or OVERDUE, positive total, no charge yet. Already
// charged invoices are refreshed through the single-invoice path.
func ChargeableInvoiceIDs(ctx context.Context, tx *gorm.DB, period domain.Period, schoolIDs []snowflake.ID) ([]snowflake.ID, error) {
	query := tx.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("month = ? AND year = ?", period.Month, period.Year).
		Where("status IN ?", []domain.InvoiceStatus{
			domain.InvoiceStatusOpen,
			domain.InvoiceStatusOverdue,
		}).
		Where("total_amount > 0").
		Where("payment_gateway_id IS NULL OR payment_gateway_id = ''")
	if len(schoolIDs) > 0 {
		query = query.Where("school_id IN ?", schoolIDs)
	}

	var ids []snowflake.ID
	if err := query.Order("id ASC").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// ActivePaymentsForPeriod lists every payment the invoice sweep must
// look at for a period, linked or not. AGREEMENT payments never get
// invoiced.
func ActivePaymentsForPeriod(ctx context.Context, tx *gorm.DB, period domain.Period, schoolIDs []snowflake.ID) ([]domain.Payment, error) {
	query := tx.WithContext(ctx).
		Where("month = ? AND year = ?", period.Month, period.Year).
		Where("status NOT IN ?", activeExcluded).
		Where("type <> ?", domain.PaymentTypeAgreement)
	if len(schoolIDs) > 0 {
		query = query.Where("school_id IN ?", schoolIDs)
	}

	var payments []domain.Payment
	err := query.Order("student_id ASC, due_date ASC, id ASC").Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}
