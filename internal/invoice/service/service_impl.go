package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/asterhq/tally/internal/billingperiod"
	"github.com/asterhq/tally/internal/clock"
	"github.com/asterhq/tally/internal/config"
	invoicedomain "github.com/asterhq/tally/internal/invoice/domain"
	"github.com/asterhq/tally/internal/overage"
	paymentdomain "github.com/asterhq/tally/internal/payment/domain"
	"github.com/asterhq/tally/internal/pricing"
	subscriptiondomain "github.com/asterhq/tally/internal/subscription/domain"
	usagedomain "github.com/asterhq/tally/internal/usage/domain"
	pkgdb "github.com/asterhq/tally/pkg/db"
	"github.com/asterhq/tally/pkg/db/option"
	"github.com/asterhq/tally/pkg/repository"
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    config.Config
	Table     *pricing.Table
	SubSvc    subscriptiondomain.Service
	UsageSvc  usagedomain.Service
	Processor paymentdomain.Processor
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	table     *pricing.Table
	subSvc    subscriptiondomain.Service
	usageSvc  usagedomain.Service
	processor paymentdomain.Processor

	invoicerepo repository.Repository[invoicedomain.Invoice]
	linerepo    repository.Repository[invoicedomain.InvoiceLineItem]

	currency    string
	taxRate     decimal.Decimal
	gracePeriod time.Duration
}

func NewService(p ServiceParam) (invoicedomain.Service, error) {
	taxRate, err := decimal.NewFromString(p.Config.TaxRate)
	if err != nil {
		return nil, fmt.Errorf("invalid tax rate %q: %w", p.Config.TaxRate, err)
	}

	return &Service{
		db:          p.DB,
		log:         p.Log.Named("invoice.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		table:       p.Table,
		subSvc:      p.SubSvc,
		usageSvc:    p.UsageSvc,
		processor:   p.Processor,
		invoicerepo: repository.ProvideStore[invoicedomain.Invoice](p.DB),
		linerepo:    repository.ProvideStore[invoicedomain.InvoiceLineItem](p.DB),
		currency:    p.Config.Currency,
		taxRate:     taxRate,
		gracePeriod: time.Duration(p.Config.GracePeriodDays) * 24 * time.Hour,
	}, nil
}

func (s *Service) CalculateMonthlyCharges(ctx context.Context, organizationID string, periodKey string) (invoicedomain.ChargeBreakdown, error) {
	var breakdown invoicedomain.ChargeBreakdown

	if _, err := snowflake.ParseString(organizationID); err != nil {
		return breakdown, invoicedomain.ErrInvalidOrganization
	}
	if _, err := billingperiod.FromKey(periodKey); err != nil {
		return breakdown, err
	}

	// No active subscription still yields a breakdown: any metered usage is
	// billed, and a fully idle org gets a zero-total invoice that settles
	// itself without a processor round trip.
	sub, err := s.subSvc.GetActiveByOrgID(ctx, organizationID)
	switch {
	case err == nil:
		plan, err := s.table.Plan(sub.PlanID)
		if err != nil {
			return breakdown, fmt.Errorf("plan %q: %w", sub.PlanID, err)
		}
		breakdown.Lines = append(breakdown.Lines, basePlanLine(sub, plan))
	case errors.Is(err, subscriptiondomain.ErrNoActiveSubscription):
	default:
		return breakdown, err
	}

	usageByKind, err := s.usageSvc.AggregateByKind(ctx, organizationID, periodKey)
	if err != nil {
		return breakdown, err
	}
	charges, _, err := overage.Compute(usageByKind, s.table)
	if err != nil {
		return breakdown, err
	}
	for _, charge := range charges {
		if charge.Amount == 0 {
			continue
		}
		breakdown.Lines = append(breakdown.Lines, invoicedomain.LineDraft{
			Source:      string(charge.Kind),
			Description: fmt.Sprintf("%s overage (%d over allowance)", charge.Kind, charge.OverageQty),
			Quantity:    charge.OverageQty,
			UnitPrice:   charge.UnitPrice.String(),
			Amount:      charge.Amount,
		})
	}

	for _, line := range breakdown.Lines {
		breakdown.Subtotal += line.Amount
	}
	return breakdown, nil
}

// Generate persists a draft invoice for one closed period. The prior
// existence check keeps re-runs cheap; the unique (org, period) index closes
// the race when two runs generate concurrently.
func (s *Service) Generate(ctx context.Context, organizationID string, periodKey string) (*invoicedomain.Invoice, error) {
	orgID, err := snowflake.ParseString(organizationID)
	if err != nil {
		return nil, invoicedomain.ErrInvalidOrganization
	}
	period, err := billingperiod.FromKey(periodKey)
	if err != nil {
		return nil, err
	}

	existing, err := s.findCurrent(ctx, orgID, periodKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	breakdown, err := s.CalculateMonthlyCharges(ctx, organizationID, periodKey)
	if err != nil {
		return nil, err
	}

	tax := roundTax(breakdown.Subtotal, s.taxRate)
	inv := &invoicedomain.Invoice{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		PeriodKey: periodKey,
		Status:    invoicedomain.InvoiceStatusDraft,
		Subtotal:  breakdown.Subtotal,
		Tax:       tax,
		Total:     breakdown.Subtotal + tax,
		Currency:  s.currency,
		DueAt:     period.End.Add(s.gracePeriod),
	}

	lines := make([]*invoicedomain.InvoiceLineItem, 0, len(breakdown.Lines))
	for _, draft := range breakdown.Lines {
		lines = append(lines, &invoicedomain.InvoiceLineItem{
			ID:          s.genID.Generate(),
			OrgID:       orgID,
			InvoiceID:   inv.ID,
			Source:      draft.Source,
			Description: draft.Description,
			Quantity:    draft.Quantity,
			UnitPrice:   draft.UnitPrice,
			Amount:      draft.Amount,
		})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.invoicerepo.WithTrx(tx).Create(ctx, inv); err != nil {
			return err
		}
		return s.linerepo.WithTrx(tx).BatchCreate(ctx, lines)
	})
	if err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			// A concurrent run won the insert; its invoice is the invoice.
			return s.findCurrent(ctx, orgID, periodKey)
		}
		return nil, err
	}

	s.log.Info("invoice generated",
		zap.String("org_id", orgID.String()),
		zap.String("period", periodKey),
		zap.Int64("total", inv.Total),
	)
	return inv, nil
}

func (s *Service) Submit(ctx context.Context, invoiceID string) (*invoicedomain.Invoice, error) {
	inv, err := s.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != invoicedomain.InvoiceStatusDraft {
		return inv, nil
	}

	now := s.clock.Now()
	if inv.Total == 0 {
		if err := s.transition(ctx, inv, invoicedomain.InvoiceStatusPaid, map[string]any{"paid_at": now}); err != nil {
			return nil, err
		}
		inv.PaidAt = &now
		return inv, nil
	}

	lines, err := s.ListLineItems(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	externalID, err := s.processor.CreateInvoice(ctx, paymentdomain.CreateInvoiceRequest{
		CustomerRef: inv.OrgID.String(),
		Amount:      inv.Total,
		Currency:    inv.Currency,
		DueAt:       inv.DueAt,
		LineItems:   processorLines(lines),
		Metadata: map[string]string{
			"invoice_id": inv.ID.String(),
			"period_key": inv.PeriodKey,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create processor invoice: %w", err)
	}

	if err := s.transition(ctx, inv, invoicedomain.InvoiceStatusPending, map[string]any{"external_id": externalID}); err != nil {
		return nil, err
	}
	inv.ExternalID = &externalID
	return inv, nil
}

func (s *Service) GetByID(ctx context.Context, invoiceID string) (*invoicedomain.Invoice, error) {
	id, err := snowflake.ParseString(invoiceID)
	if err != nil {
		return nil, invoicedomain.ErrInvalidInvoice
	}
	inv, err := s.invoicerepo.FindOne(ctx, &invoicedomain.Invoice{ID: id})
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, invoicedomain.ErrNotFound
	}
	return inv, nil
}

func (s *Service) ListLineItems(ctx context.Context, invoiceID string) ([]invoicedomain.InvoiceLineItem, error) {
	id, err := snowflake.ParseString(invoiceID)
	if err != nil {
		return nil, invoicedomain.ErrInvalidInvoice
	}
	rows, err := s.linerepo.Find(ctx,
		&invoicedomain.InvoiceLineItem{InvoiceID: id},
		option.WithOrder("id ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]invoicedomain.InvoiceLineItem, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return out, nil
}

func (s *Service) ListPendingWithExternalID(ctx context.Context) ([]invoicedomain.Invoice, error) {
	return s.listPending(ctx, option.WithWhere("external_id IS NOT NULL"))
}

func (s *Service) ListPendingPastDue(ctx context.Context, now time.Time) ([]invoicedomain.Invoice, error) {
	return s.listPending(ctx, option.WithWhere("due_at < ?", now.UTC()))
}

func (s *Service) MarkPaid(ctx context.Context, invoiceID string, paidAt time.Time) error {
	inv, err := s.GetByID(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.Status == invoicedomain.InvoiceStatusPaid {
		return nil
	}
	return s.transition(ctx, inv, invoicedomain.InvoiceStatusPaid, map[string]any{"paid_at": paidAt.UTC()})
}

func (s *Service) MarkOverdue(ctx context.Context, invoiceID string) error {
	inv, err := s.GetByID(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.Status == invoicedomain.InvoiceStatusOverdue {
		return nil
	}
	return s.transition(ctx, inv, invoicedomain.InvoiceStatusOverdue, nil)
}

func (s *Service) ApplyProcessorEvent(ctx context.Context, event *paymentdomain.Event) error {
	inv, err := s.invoicerepo.FindOne(ctx, &invoicedomain.Invoice{}, option.WithWhere("external_id = ?", event.ExternalInvoiceID))
	if err != nil {
		return err
	}
	if inv == nil {
		return invoicedomain.ErrUnknownExternalID
	}

	switch event.Type {
	case paymentdomain.EventTypeInvoicePaid:
		return s.MarkPaid(ctx, inv.ID.String(), event.OccurredAt)
	case paymentdomain.EventTypeInvoicePending:
		// Already our local state once submitted; acknowledge.
		return nil
	default:
		return paymentdomain.ErrEventIgnored
	}
}

func (s *Service) listPending(ctx context.Context, opts ...option.QueryOption) ([]invoicedomain.Invoice, error) {
	opts = append(opts, option.WithOrder("due_at ASC"))
	rows, err := s.invoicerepo.Find(ctx, &invoicedomain.Invoice{Status: invoicedomain.InvoiceStatusPending}, opts...)
	if err != nil {
		return nil, err
	}
	out := make([]invoicedomain.Invoice, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return out, nil
}

func (s *Service) findCurrent(ctx context.Context, orgID snowflake.ID, periodKey string) (*invoicedomain.Invoice, error) {
	return s.invoicerepo.FindOne(ctx,
		&invoicedomain.Invoice{OrgID: orgID, PeriodKey: periodKey},
		option.WithWhere("status <> ?", invoicedomain.InvoiceStatusCancelled),
	)
}

func (s *Service) transition(ctx context.Context, inv *invoicedomain.Invoice, to invoicedomain.InvoiceStatus, patch map[string]any) error {
	if !canTransition(inv.Status, to) {
		return fmt.Errorf("%w: %s -> %s", invoicedomain.ErrInvalidTransition, inv.Status, to)
	}
	if patch == nil {
		patch = map[string]any{}
	}
	patch["status"] = to
	patch["updated_at"] = s.clock.Now()
	if err := s.invoicerepo.Update(ctx, inv.ID.String(), patch); err != nil {
		return err
	}
	s.log.Info("invoice transition",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("from", string(inv.Status)),
		zap.String("to", string(to)),
	)
	inv.Status = to
	return nil
}

func canTransition(from, to invoicedomain.InvoiceStatus) bool {
	switch from {
	case invoicedomain.InvoiceStatusDraft:
		return to == invoicedomain.InvoiceStatusPending || to == invoicedomain.InvoiceStatusPaid || to == invoicedomain.InvoiceStatusCancelled
	case invoicedomain.InvoiceStatusPending:
		return to == invoicedomain.InvoiceStatusPaid || to == invoicedomain.InvoiceStatusOverdue || to == invoicedomain.InvoiceStatusCancelled
	case invoicedomain.InvoiceStatusOverdue:
		return to == invoicedomain.InvoiceStatusPaid || to == invoicedomain.InvoiceStatusCancelled
	default:
		return false
	}
}

func basePlanLine(sub subscriptiondomain.Subscription, plan pricing.Plan) invoicedomain.LineDraft {
	if plan.PerSeat {
		seats := int64(sub.SeatCount)
		if seats < 1 {
			seats = 1
		}
		return invoicedomain.LineDraft{
			Source:      invoicedomain.LineSourceBasePlan,
			Description: fmt.Sprintf("%s plan (%d seats)", sub.PlanID, seats),
			Quantity:    seats,
			UnitPrice:   decimal.NewFromInt(plan.BasePrice).String(),
			Amount:      plan.BasePrice * seats,
		}
	}
	return invoicedomain.LineDraft{
		Source:      invoicedomain.LineSourceBasePlan,
		Description: fmt.Sprintf("%s plan", sub.PlanID),
		Quantity:    1,
		UnitPrice:   decimal.NewFromInt(plan.BasePrice).String(),
		Amount:      plan.BasePrice,
	}
}

// roundTax rounds subtotal*rate half away from zero to the nearest minor unit.
func roundTax(subtotal int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(subtotal).Mul(rate).Round(0).IntPart()
}

func processorLines(lines []invoicedomain.InvoiceLineItem) []paymentdomain.LineItem {
	out := make([]paymentdomain.LineItem, 0, len(lines))
	for _, line := range lines {
		unit := int64(0)
		if d, err := decimal.NewFromString(line.UnitPrice); err == nil {
			unit = d.Ceil().IntPart()
		}
		out = append(out, paymentdomain.LineItem{
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitAmount:  unit,
			Amount:      line.Amount,
		})
	}
	return out
}
