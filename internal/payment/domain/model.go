// Package domain defines the external payment processor boundary. The
// processor is the system of record for collecting payment; this core only
// submits invoices to it and ingests its settlement signals.
package domain

import (
	"context"
	"errors"
	"time"
)

// LineItem is one priced entry forwarded to the processor.
type LineItem struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitAmount  int64  `json:"unit_amount"`
	Amount      int64  `json:"amount"`
}

// CreateInvoiceRequest asks the processor to collect payment.
type CreateInvoiceRequest struct {
	CustomerRef string            `json:"customer_ref"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	DueAt       time.Time         `json:"due_at"`
	LineItems   []LineItem        `json:"line_items"`
	Metadata    map[string]string `json:"metadata"`
}

// InvoiceStatus is the processor's view of an invoice.
type InvoiceStatus struct {
	Paid   bool       `json:"paid"`
	PaidAt *time.Time `json:"paid_at,omitempty"`
}

// Processor is the consumed payment-processor API.
type Processor interface {
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (externalInvoiceID string, err error)
	GetInvoiceStatus(ctx context.Context, externalInvoiceID string) (InvoiceStatus, error)
	SendInvoiceNotification(ctx context.Context, externalInvoiceID string) error
}

const (
	EventTypeInvoicePaid    = "invoice.paid"
	EventTypeInvoicePending = "invoice.pending"
)

// Event is the canonical webhook event parsed from the processor.
type Event struct {
	Type              string
	ProviderEventID   string
	ExternalInvoiceID string
	OccurredAt        time.Time
	Metadata          map[string]any
	RawPayload        []byte
}

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrInvalidConfig    = errors.New("invalid_config")
)
