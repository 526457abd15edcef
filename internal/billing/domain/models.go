// Package domain contains persistence models for payments, invoices and
// billing contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// PaymentStatus represents payment lifecycle states.
type PaymentStatus string

const (
	PaymentStatusNotPaid      PaymentStatus = "NOT_PAID"
	PaymentStatusPending      PaymentStatus = "PENDING"
	PaymentStatusPaid         PaymentStatus = "PAID"
	PaymentStatusOverdue      PaymentStatus = "OVERDUE"
	PaymentStatusCancelled    PaymentStatus = "CANCELLED"
	PaymentStatusRenegotiated PaymentStatus = "RENEGOTIATED"
	PaymentStatusFailed       PaymentStatus = "FAILED"
)

// PaymentType classifies the billable obligation behind a payment.
type PaymentType string

const (
	PaymentTypeTuition     PaymentType = "TUITION"
	PaymentTypeEnrollment  PaymentType = "ENROLLMENT"
	PaymentTypeCourse      PaymentType = "COURSE"
	PaymentTypeStore       PaymentType = "STORE"
	PaymentTypeCanteen     PaymentType = "CANTEEN"
	PaymentTypeAgreement   PaymentType = "AGREEMENT"
	PaymentTypeExtraClass  PaymentType = "EXTRA_CLASS"
	PaymentTypeStudentLoan PaymentType = "STUDENT_LOAN"
	PaymentTypeOther       PaymentType = "OTHER"
)

// Payment is a single billable line item. Rows are never deleted; status
// transitions instead. Amount and TotalAmount are integer cents.
type Payment struct {
	ID                 snowflake.ID  `gorm:"primaryKey"`
	SchoolID           snowflake.ID  `gorm:"not null;index"`
	StudentID          snowflake.ID  `gorm:"not null;index"`
	Type               PaymentType   `gorm:"type:text;not null"`
	Status             PaymentStatus `gorm:"type:text;not null;default:'NOT_PAID'"`
	Amount             int64         `gorm:"not null"`
	TotalAmount        int64         `gorm:"not null"`
	DiscountPercentage float64       `gorm:"not null;default:0"`
	Month              int           `gorm:"not null"`
	Year               int           `gorm:"not null"`
	DueDate            time.Time     `gorm:"not null"`
	InstallmentNumber  int           `gorm:"not null;default:1"`
	InstallmentCount   int           `gorm:"not null;default:1"`
	EnrollmentID       *snowflake.ID `gorm:"index"`
	ContractID         *snowflake.ID `gorm:"index"`
	InvoiceID          *snowflake.ID `gorm:"index"`
	CreatedAt          time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// Active reports whether the payment still counts toward an invoice's
// base amount.
func (p Payment) Active() bool {
	return p.Status != PaymentStatusCancelled && p.Status != PaymentStatusRenegotiated
}

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusOpen         InvoiceStatus = "OPEN"
	InvoiceStatusPending      InvoiceStatus = "PENDING"
	InvoiceStatusPaid         InvoiceStatus = "PAID"
	InvoiceStatusOverdue      InvoiceStatus = "OVERDUE"
	InvoiceStatusCancelled    InvoiceStatus = "CANCELLED"
	InvoiceStatusRenegotiated InvoiceStatus = "RENEGOTIATED"
)

// Invoice is the consolidated monthly bill for one student. At most one
// invoice exists per (student, month, year) outside CANCELLED/RENEGOTIATED.
type Invoice struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	SchoolID       snowflake.ID  `gorm:"not null;index"`
	StudentID      snowflake.ID  `gorm:"not null;index:idx_invoices_student_period,priority:1"`
	ContractID     *snowflake.ID `gorm:"index"`
	Month          int           `gorm:"not null;index:idx_invoices_student_period,priority:2"`
	Year           int           `gorm:"not null;index:idx_invoices_student_period,priority:3"`
	DueDate        time.Time     `gorm:"not null"`
	Status         InvoiceStatus `gorm:"type:text;not null;default:'OPEN'"`
	BaseAmount     int64         `gorm:"not null;default:0"`
	DiscountAmount int64         `gorm:"not null;default:0"`
	FineAmount     int64         `gorm:"not null;default:0"`
	InterestAmount int64         `gorm:"not null;default:0"`
	TotalAmount    int64         `gorm:"not null;default:0"`
	PaymentGateway string        `gorm:"type:text"`
	PaymentGatewayID string      `gorm:"type:text;index"`
	InvoiceURL     string        `gorm:"type:text"`
	PaymentMethod  string        `gorm:"type:text"`
	Version        int64         `gorm:"not null;default:0"`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// Recomputable reports whether linked-payment changes may still touch the
// invoice. PAID, CANCELLED and RENEGOTIATED are terminal for recompute.
func (i Invoice) Recomputable() bool {
	switch i.Status {
	case InvoiceStatusPaid, InvoiceStatusCancelled, InvoiceStatusRenegotiated:
		return false
	default:
		return true
	}
}

// ContractPaymentType distinguishes monthly plans from upfront ones.
type ContractPaymentType string

const (
	ContractPaymentTypeMonthly ContractPaymentType = "MONTHLY"
	ContractPaymentTypeUpfront ContractPaymentType = "UPFRONT"
)

// Contract is a read-only billing terms template.
type Contract struct {
	ID               snowflake.ID        `gorm:"primaryKey"`
	SchoolID         snowflake.ID        `gorm:"not null;index"`
	Name             string              `gorm:"type:text;not null"`
	PaymentType      ContractPaymentType `gorm:"type:text;not null;default:'MONTHLY'"`
	InstallmentCount int                 `gorm:"not null;default:1"`
	Amount           int64               `gorm:"not null;default:0"`
	Tiers            []EarlyDiscountTier `gorm:"foreignKey:ContractID"`
	CreatedAt        time.Time           `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Contract) TableName() string { return "contracts" }

// EarlyDiscountTier grants a percentage off when payment happens at least
// DaysBeforeDeadline days ahead of the due date.
type EarlyDiscountTier struct {
	ID                 snowflake.ID `gorm:"primaryKey"`
	ContractID         snowflake.ID `gorm:"not null;index"`
	Percentage         float64      `gorm:"not null"`
	DaysBeforeDeadline int          `gorm:"not null"`
}

// TableName sets the database table name.
func (EarlyDiscountTier) TableName() string { return "early_discount_tiers" }

// Period identifies a billing month.
type Period struct {
	Month int
	Year  int
}

// Actor identifies who triggered a billing mutation. It is passed
// explicitly through every reconciliation call.
type Actor struct {
	UserID   string
	UserName string
	Source   string
}

// SystemActor is used by scheduled sweeps.
func SystemActor(source string) Actor {
	return Actor{UserID: "system", UserName: "system", Source: source}
}
