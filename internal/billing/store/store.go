// Package store holds the shared persistence queries of the billing core.
// Services call these inside their own transactions; none of the
// functions opens one.
package store

import (
	"context"
	"time"

	"github.com/anuaedu/cobranca/internal/billing/domain"
	"github.com/anuaedu/cobranca/internal/billing/totals"
	"github.com/anuaedu/cobranca/pkg/db"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var activeExcluded = []domain.PaymentStatus{
	domain.PaymentStatusCancelled,
	domain.PaymentStatusRenegotiated,
}

var invoiceExcluded = []domain.InvoiceStatus{
	domain.InvoiceStatusCancelled,
	domain.InvoiceStatusRenegotiated,
}

// FindPayment loads one payment, optionally taking a row lock.
func FindPayment(ctx context.Context, tx *gorm.DB, id snowflake.ID, forUpdate bool) (*domain.Payment, error) {
	var payment domain.Payment
	query := `SELECT * FROM payments WHERE id = ?`
	if forUpdate {
		query += db.RowLockClause(tx)
	}
	if err := tx.WithContext(ctx).Raw(query, id).Scan(&payment).Error; err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

// FindInvoice loads one invoice, optionally taking a row lock.
func FindInvoice(ctx context.Context, tx *gorm.DB, id snowflake.ID, forUpdate bool) (*domain.Invoice, error) {
	var invoice domain.Invoice
	query := `SELECT * FROM invoices WHERE id = ?`
	if forUpdate {
		query += db.RowLockClause(tx)
	}
	if err := tx.WithContext(ctx).Raw(query, id).Scan(&invoice).Error; err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

// FindOpenInvoice returns the student's invoice for the period, excluding
// CANCELLED and RENEGOTIATED ones. At most one such row exists.
func FindOpenInvoice(ctx context.Context, tx *gorm.DB, studentID snowflake.ID, period domain.Period, forUpdate bool) (*domain.Invoice, error) {
	var invoice domain.Invoice
	query := `SELECT * FROM invoices
	 WHERE student_id = ? AND month = ? AND year = ? AND status NOT IN (?, ?)
	 LIMIT 1`
	if forUpdate {
		query += db.RowLockClause(tx)
	}
	err := tx.WithContext(ctx).
		Raw(query, studentID, period.Month, period.Year, invoiceExcluded[0], invoiceExcluded[1]).
		Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

// ActivePayments returns the invoice's linked payments that still count
// toward its base amount, in due-date then id order.
func ActivePayments(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) ([]domain.Payment, error) {
	var payments []domain.Payment
	err := tx.WithContext(ctx).
		Where("invoice_id = ? AND status NOT IN ?", invoiceID, activeExcluded).
		Order("due_date ASC, id ASC").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// ContractWithTiers loads a contract and its early-discount tiers.
func ContractWithTiers(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Contract, error) {
	var contract domain.Contract
	err := tx.WithContext(ctx).Preload("Tiers").First(&contract, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &contract, nil
}

// LinkPayments points the given payments at the invoice.
func LinkPayments(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID, paymentIDs []snowflake.ID) error {
	if len(paymentIDs) == 0 {
		return nil
	}
	return tx.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("id IN ?", paymentIDs).
		Updates(map[string]any{"invoice_id": invoiceID, "updated_at": time.Now().UTC()}).Error
}

// InsertInvoice creates a new invoice row.
func InsertInvoice(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice) error {
	return tx.WithContext(ctx).Create(invoice).Error
}

// SaveTotals persists recomputed totals with an optimistic version guard,
// so a write from an expired lock lease cannot clobber a successor's
// update. ContractID follows first-write-wins.
func SaveTotals(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice, computed totals.Totals, contractID *snowflake.ID) error {
	updates := map[string]any{
		"base_amount":     computed.BaseAmount,
		"discount_amount": computed.DiscountAmount,
		"total_amount":    computed.TotalAmount,
		"version":         invoice.Version + 1,
		"updated_at":      time.Now().UTC(),
	}
	if invoice.ContractID == nil && contractID != nil {
		updates["contract_id"] = *contractID
	}

	result := tx.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("id = ? AND version = ?", invoice.ID, invoice.Version).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrInvoiceConflict
	}

	invoice.BaseAmount = computed.BaseAmount
	invoice.DiscountAmount = computed.DiscountAmount
	invoice.TotalAmount = computed.TotalAmount
	invoice.Version++
	if invoice.ContractID == nil && contractID != nil {
		invoice.ContractID = contractID
	}
	return nil
}

// SaveGatewayFields persists the remote charge linkage and status
// transition after a gateway sync, under the same version guard.
func SaveGatewayFields(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice, gatewayName, chargeID, invoiceURL, paymentMethod string, status domain.InvoiceStatus) error {
	result := tx.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("id = ? AND version = ?", invoice.ID, invoice.Version).
		Updates(map[string]any{
			"payment_gateway":    gatewayName,
			"payment_gateway_id": chargeID,
			"invoice_url":        invoiceURL,
			"payment_method":     paymentMethod,
			"status":             status,
			"version":            invoice.Version + 1,
			"updated_at":         time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrInvoiceConflict
	}

	invoice.PaymentGateway = gatewayName
	invoice.PaymentGatewayID = chargeID
	invoice.InvoiceURL = invoiceURL
	invoice.PaymentMethod = paymentMethod
	invoice.Status = status
	invoice.Version++
	return nil
}
