package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Reconciler links a mutated payment to its covering invoice and keeps the
// invoice totals consistent. Invoked synchronously after payment
// create/edit/cancel.
type Reconciler interface {
	Reconcile(ctx context.Context, actor Actor, paymentID snowflake.ID) error
}

// SweepSummary is the result contract of the scheduled sweeps.
type SweepSummary struct {
	InvoicesCreated    int
	InvoicesReconciled int
	PaymentsLinked     int
	ChargesCreated     int
	ChargesRefreshed   int
	Skipped            int
	Errors             int
}

// Generator is the scheduled catch-up sweep over unlinked payments for a
// billing period. Idempotent; safe to re-run.
type Generator interface {
	GenerateInvoices(ctx context.Context, actor Actor, period Period, schoolIDs []snowflake.ID) (SweepSummary, error)
}

// ChargeSyncer creates or refreshes remote gateway charges for invoices
// that are ready for external billing. Both the scheduled sweep and the
// synchronous single-invoice path go through the same implementation.
type ChargeSyncer interface {
	SyncCharges(ctx context.Context, actor Actor, period Period, schoolIDs []snowflake.ID) (SweepSummary, error)
	SyncInvoice(ctx context.Context, actor Actor, invoiceID snowflake.ID) error
}
