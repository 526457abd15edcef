package server

import (
	"net/http"
	"strings"
	"time"

	billingdomain "github.com/anuaedu/cobranca/internal/billing/domain"
	"github.com/anuaedu/cobranca/internal/billing/store"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

// actorFrom builds the explicit mutation actor from request headers set
// by the platform's API gateway. Requests without one are attributed to
// the bare API source.
func actorFrom(c *gin.Context) billingdomain.Actor {
	actor := billingdomain.Actor{
		UserID:   strings.TrimSpace(c.GetHeader("X-User-Id")),
		UserName: strings.TrimSpace(c.GetHeader("X-User-Name")),
		Source:   "api",
	}
	if actor.UserID == "" {
		actor.UserID = "anonymous"
	}
	return actor
}

func parseID(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) ReconcilePayment(c *gin.Context) {
	paymentID, ok := parseID(c)
	if !ok {
		return
	}

	if err := s.reconcilerSvc.Reconcile(c.Request.Context(), actorFrom(c), paymentID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reconciled"})
}

type invoiceResponse struct {
	ID             string     `json:"id"`
	SchoolID       string     `json:"school_id"`
	StudentID      string     `json:"student_id"`
	ContractID     string     `json:"contract_id,omitempty"`
	Month          int        `json:"month"`
	Year           int        `json:"year"`
	DueDate        time.Time  `json:"due_date"`
	Status         string     `json:"status"`
	BaseAmount     int64      `json:"base_amount"`
	DiscountAmount int64      `json:"discount_amount"`
	FineAmount     int64      `json:"fine_amount"`
	InterestAmount int64      `json:"interest_amount"`
	TotalAmount    int64      `json:"total_amount"`
	PaymentGateway string     `json:"payment_gateway,omitempty"`
	ChargeID       string     `json:"charge_id,omitempty"`
	InvoiceURL     string     `json:"invoice_url,omitempty"`
	PaymentMethod  string     `json:"payment_method,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toInvoiceResponse(invoice *billingdomain.Invoice) invoiceResponse {
	resp := invoiceResponse{
		ID:             invoice.ID.String(),
		SchoolID:       invoice.SchoolID.String(),
		StudentID:      invoice.StudentID.String(),
		Month:          invoice.Month,
		Year:           invoice.Year,
		DueDate:        invoice.DueDate,
		Status:         string(invoice.Status),
		BaseAmount:     invoice.BaseAmount,
		DiscountAmount: invoice.DiscountAmount,
		FineAmount:     invoice.FineAmount,
		InterestAmount: invoice.InterestAmount,
		TotalAmount:    invoice.TotalAmount,
		PaymentGateway: invoice.PaymentGateway,
		ChargeID:       invoice.PaymentGatewayID,
		InvoiceURL:     invoice.InvoiceURL,
		PaymentMethod:  invoice.PaymentMethod,
		CreatedAt:      invoice.CreatedAt,
		UpdatedAt:      invoice.UpdatedAt,
	}
	if invoice.ContractID != nil {
		resp.ContractID = invoice.ContractID.String()
	}
	return resp
}

func (s *Server) GetInvoice(c *gin.Context) {
	invoiceID, ok := parseID(c)
	if !ok {
		return
	}

	invoice, err := store.FindInvoice(c.Request.Context(), s.db, invoiceID, false)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if invoice == nil {
		AbortWithError(c, billingdomain.ErrInvoiceNotFound)
		return
	}
	c.JSON(http.StatusOK, toInvoiceResponse(invoice))
}

func (s *Server) SyncInvoiceCharge(c *gin.Context) {
	invoiceID, ok := parseID(c)
	if !ok {
		return
	}

	if err := s.chargeSvc.SyncInvoice(c.Request.Context(), actorFrom(c), invoiceID); err != nil {
		AbortWithError(c, err)
		return
	}

	invoice, err := store.FindInvoice(c.Request.Context(), s.db, invoiceID, false)
	if err != nil || invoice == nil {
		c.JSON(http.StatusOK, gin.H{"status": "synced"})
		return
	}
	c.JSON(http.StatusOK, toInvoiceResponse(invoice))
}

type sweepRequest struct {
	Month     int      `json:"month" binding:"required"`
	Year      int      `json:"year" binding:"required"`
	SchoolIDs []string `json:"school_ids"`
}

func (r sweepRequest) schoolIDs(c *gin.Context) ([]snowflake.ID, bool) {
	ids := make([]snowflake.ID, 0, len(r.SchoolIDs))
	for _, raw := range r.SchoolIDs {
		id, err := snowflake.ParseString(strings.TrimSpace(raw))
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

type sweepResponse struct {
	InvoicesCreated    int `json:"invoices_created"`
	InvoicesReconciled int `json:"invoices_reconciled"`
	PaymentsLinked     int `json:"payments_linked"`
	ChargesCreated     int `json:"charges_created"`
	ChargesRefreshed   int `json:"charges_refreshed"`
	Skipped            int `json:"skipped"`
	Errors             int `json:"errors"`
}

func toSweepResponse(summary billingdomain.SweepSummary) sweepResponse {
	return sweepResponse(summary)
}

func (s *Server) RunInvoiceSweep(c *gin.Context) {
	var req sweepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	schoolIDs, ok := req.schoolIDs(c)
	if !ok {
		return
	}

	summary, err := s.generatorSvc.GenerateInvoices(c.Request.Context(), actorFrom(c),
		billingdomain.Period{Month: req.Month, Year: req.Year}, schoolIDs)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSweepResponse(summary))
}

func (s *Server) RunChargeSweep(c *gin.Context) {
	var req sweepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	schoolIDs, ok := req.schoolIDs(c)
	if !ok {
		return
	}

	summary, err := s.chargeSvc.SyncCharges(c.Request.Context(), actorFrom(c),
		billingdomain.Period{Month: req.Month, Year: req.Year}, schoolIDs)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSweepResponse(summary))
}
