package domain

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// StudentLockKey serializes invoice find-or-create per student.
func StudentLockKey(studentID snowflake.ID) string {
	return fmt.Sprintf("billing:student:%s", studentID)
}

// InvoiceLockKey serializes gateway charge sync per invoice.
func InvoiceLockKey(invoiceID snowflake.ID) string {
	return fmt.Sprintf("billing:invoice:%s", invoiceID)
}
