package domain

import (
	"context"
	"errors"
	"time"

	paymentdomain "github.com/asterhq/tally/internal/payment/domain"
)

// LineDraft is one not-yet-persisted charge produced by the calculator.
type LineDraft struct {
	Source      string `json:"source"`
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Amount      int64  `json:"amount"`
}

// ChargeBreakdown is the priced output of a monthly calculation, before tax.
type ChargeBreakdown struct {
	Lines    []LineDraft `json:"lines"`
	Subtotal int64       `json:"subtotal"`
}

// Service drives invoice generation and lifecycle.
type Service interface {
	// CalculateMonthlyCharges prices the base plan plus usage overage for
	// one closed period. It reads, never writes.
	CalculateMonthlyCharges(ctx context.Context, organizationID string, periodKey string) (ChargeBreakdown, error)

	// Generate persists a draft invoice for the period, or returns the
	// existing non-cancelled invoice unchanged (idempotent).
	Generate(ctx context.Context, organizationID string, periodKey string) (*Invoice, error)

	// Submit hands a draft invoice to the payment processor. Zero-total
	// drafts go straight to PAID with no processor call.
	Submit(ctx context.Context, invoiceID string) (*Invoice, error)

	GetByID(ctx context.Context, invoiceID string) (*Invoice, error)
	ListLineItems(ctx context.Context, invoiceID string) ([]InvoiceLineItem, error)
	ListPendingWithExternalID(ctx context.Context) ([]Invoice, error)
	ListPendingPastDue(ctx context.Context, now time.Time) ([]Invoice, error)

	MarkPaid(ctx context.Context, invoiceID string, paidAt time.Time) error
	MarkOverdue(ctx context.Context, invoiceID string) error

	// ApplyProcessorEvent ingests a parsed webhook event and drives the
	// matching transition. Events for settled invoices are no-ops.
	ApplyProcessorEvent(ctx context.Context, event *paymentdomain.Event) error
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidInvoice      = errors.New("invalid_invoice")
	ErrNotFound            = errors.New("invoice_not_found")
	ErrInvalidTransition   = errors.New("invalid_status_transition")
	ErrUnknownExternalID   = errors.New("unknown_external_invoice")
)
