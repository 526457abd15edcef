package charge

import (
	"fmt"
	"strings"

	"github.com/anuaedu/cobranca/internal/billing/domain"
	gatewaydomain "github.com/anuaedu/cobranca/internal/gateway/domain"
)

// Charge descriptions are shown to payers on boletos and gateway pages,
// so the labels are the product's customer-facing Portuguese terms.
var typeLabels = map[domain.PaymentType]string{
	domain.PaymentTypeTuition:     "Mensalidade",
	domain.PaymentTypeEnrollment:  "Matrícula",
	domain.PaymentTypeCourse:      "Curso",
	domain.PaymentTypeStore:       "Loja",
	domain.PaymentTypeCanteen:     "Cantina",
	domain.PaymentTypeExtraClass:  "Aula extra",
	domain.PaymentTypeStudentLoan: "Crédito educativo",
	domain.PaymentTypeOther:       "Outros",
}

// Describe renders the payer-facing description for the invoice's remote
// charge: the school name and billing period, then one line per linked
// payment in listing order. Re-rendering the same invoice must yield the
// same text, since the refresh path compares descriptions.
func Describe(schoolName string, invoice *domain.Invoice, payments []domain.Payment, contractName string) string {
	lines := make([]string, 0, len(payments)+1)
	lines = append(lines, fmt.Sprintf("%s - Fatura %02d/%d", schoolName, invoice.Month, invoice.Year))

	for _, payment := range payments {
		label, ok := typeLabels[payment.Type]
		if !ok {
			label = typeLabels[domain.PaymentTypeOther]
		}
		var b strings.Builder
		b.WriteString(label)
		if payment.Type == domain.PaymentTypeTuition && contractName != "" {
			b.WriteString(" " + contractName)
		}
		if payment.InstallmentCount > 1 {
			fmt.Fprintf(&b, " %d/%d", payment.InstallmentNumber, payment.InstallmentCount)
		}
		fmt.Fprintf(&b, " - R$ %s", gatewaydomain.FromCents(payment.Amount).StringFixed(2))
		lines = append(lines, b.String())
	}
	return strings.Join(lines, "\n")
}

// NormalizeDescription collapses runs of whitespace so that descriptions
// round-tripped through the gateway compare equal to freshly rendered
// ones.
func NormalizeDescription(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
