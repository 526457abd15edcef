// Package domain contains tenant-side models: schools, students, payer
// profiles and enrollments. The billing core reads these; it never
// mutates them except for the cached gateway customer id.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// GatewayStatus is the state of a school's payment-gateway onboarding.
type GatewayStatus string

const (
	GatewayStatusActive   GatewayStatus = "ACTIVE"
	GatewayStatusInactive GatewayStatus = "INACTIVE"
	GatewayStatusPending  GatewayStatus = "PENDING"
)

// School is a tenant.
type School struct {
	ID              snowflake.ID  `gorm:"primaryKey"`
	Name            string        `gorm:"type:text;not null"`
	GatewayProvider string        `gorm:"type:text"`
	GatewayStatus   GatewayStatus `gorm:"type:text;not null;default:'INACTIVE'"`
	GatewayAPIKey   string        `gorm:"type:text"`
	CreatedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (School) TableName() string { return "schools" }

// Student belongs to one school and has one responsible payer.
type Student struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	SchoolID          snowflake.ID `gorm:"not null;index"`
	Name              string       `gorm:"type:text;not null"`
	ResponsibleUserID snowflake.ID `gorm:"not null;index"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Student) TableName() string { return "students" }

// ResponsibleProfile is the payer behind one or more students. TaxID is
// the CPF/CNPJ required by the gateway; GatewayCustomerID caches the
// remote customer record once created.
type ResponsibleProfile struct {
	UserID            snowflake.ID `gorm:"primaryKey;column:user_id"`
	Name              string       `gorm:"type:text;not null"`
	Email             string       `gorm:"type:text"`
	Phone             string       `gorm:"type:text"`
	TaxID             string       `gorm:"type:text"`
	GatewayCustomerID string       `gorm:"type:text"`
	UpdatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ResponsibleProfile) TableName() string { return "responsible_profiles" }

// PaymentMethod is an enrollment's configured billing preference.
type PaymentMethod string

const (
	PaymentMethodBoleto     PaymentMethod = "BOLETO"
	PaymentMethodPix        PaymentMethod = "PIX"
	PaymentMethodCreditCard PaymentMethod = "CREDIT_CARD"
)

// Enrollment records a student's registration and billing preference.
type Enrollment struct {
	ID            snowflake.ID  `gorm:"primaryKey"`
	SchoolID      snowflake.ID  `gorm:"not null;index"`
	StudentID     snowflake.ID  `gorm:"not null;index"`
	PaymentMethod PaymentMethod `gorm:"type:text"`
	Status        string        `gorm:"type:text;not null;default:'ACTIVE'"`
	CreatedAt     time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Enrollment) TableName() string { return "enrollments" }
