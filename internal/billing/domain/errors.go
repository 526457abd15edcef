package domain

import "errors"

var (
	ErrPaymentNotFound = errors.New("payment_not_found")
	ErrInvoiceNotFound = errors.New("invoice_not_found")
	ErrInvoiceConflict = errors.New("invoice_concurrently_modified")
	ErrInvalidPeriod   = errors.New("invalid_period")
	ErrGatewayInactive = errors.New("gateway_inactive")
	ErrMissingTaxID    = errors.New("missing_tax_id")
	ErrInvoiceNotDue   = errors.New("invoice_not_chargeable")
)
