// Package domain defines the payment-gateway client contract. Monetary
// values cross this boundary as decimal major units (reais); everything
// inside the billing core stays integer cents.
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidConfig    = errors.New("invalid_gateway_config")
	ErrChargeNotFound   = errors.New("charge_not_found")
)

// RequestError is a non-2xx answer from the gateway.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("gateway request failed: status %d: %s", e.StatusCode, e.Body)
}

// CustomerProfile identifies a payer on the gateway side.
type CustomerProfile struct {
	Name              string
	Email             string
	Phone             string
	TaxID             string
	ExternalReference string
}

// ChargeRequest creates one remote charge.
type ChargeRequest struct {
	CustomerID        string
	BillingType       string
	Value             decimal.Decimal
	DueDate           time.Time
	Description       string
	ExternalReference string
}

// Charge is the gateway's view of a billing record.
type Charge struct {
	ID          string
	Status      string
	Value       decimal.Decimal
	Description string
	InvoiceURL  string
	BankSlipURL string
}

// Client talks to one tenant's gateway account.
type Client interface {
	ResolveOrCreateCustomer(ctx context.Context, profile CustomerProfile) (string, error)
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	FetchCharge(ctx context.Context, chargeID string) (*Charge, error)
	DeleteCharge(ctx context.Context, chargeID string) error
}

// Factory builds a Client from a tenant's API credentials.
type Factory interface {
	Provider() string
	NewClient(apiKey string) (Client, error)
}

// FromCents converts integer cents to the gateway's decimal unit.
func FromCents(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))
}

// ToCents converts a gateway decimal value back to integer cents.
func ToCents(value decimal.Decimal) int64 {
	return value.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
