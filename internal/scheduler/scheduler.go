// Package scheduler orchestrates the recurring billing jobs. Every job is
// independently idempotent and safe to invoke at any time; cadence gating is
// a convenience on top, not a correctness requirement, so an external
// cron-like trigger can own exact timing.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/asterhq/tally/internal/billingperiod"
	"github.com/asterhq/tally/internal/clock"
	invoicedomain "github.com/asterhq/tally/internal/invoice/domain"
	obsmetrics "github.com/asterhq/tally/internal/observability/metrics"
	paymentdomain "github.com/asterhq/tally/internal/payment/domain"
	subscriptiondomain "github.com/asterhq/tally/internal/subscription/domain"
	"github.com/asterhq/tally/internal/usage/buffer"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Job names, used in results, logs and metrics.
const (
	JobMonthlyInvoices = "monthly_invoices"
	JobHourlySync      = "hourly_sync"
	JobOverdue         = "overdue_reminders"
	JobTrialExpiry     = "trial_expiry"
)

// Result is the structured outcome of one job invocation. Per-organization
// failures land in Errors without aborting the batch.
type Result struct {
	Job            string   `json:"job"`
	Success        bool     `json:"success"`
	ProcessedCount int      `json:"processed_count"`
	Errors         []string `json:"errors,omitempty"`
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) finish() Result {
	r.Success = len(r.Errors) == 0
	return *r
}

// Notifier is the external collaborator that delivers trial-expiry alerts.
type Notifier interface {
	NotifyTrialExpiring(ctx context.Context, sub subscriptiondomain.Subscription, daysRemaining int) error
}

// NopNotifier drops notifications; the default when no delivery channel is wired.
type NopNotifier struct{}

func (NopNotifier) NotifyTrialExpiring(context.Context, subscriptiondomain.Subscription, int) error {
	return nil
}

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	Buffer     *buffer.Buffer
	InvoiceSvc invoicedomain.Service
	SubSvc     subscriptiondomain.Service
	Processor  paymentdomain.Processor
	Notifier   Notifier `optional:"true"`
	Config     Config   `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	buffer     *buffer.Buffer
	invoiceSvc invoicedomain.Service
	subSvc     subscriptiondomain.Service
	processor  paymentdomain.Processor
	notifier   Notifier
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.Buffer == nil || p.InvoiceSvc == nil || p.SubSvc == nil || p.Processor == nil {
		return nil, ErrInvalidConfig
	}
	notifier := p.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		buffer:     p.Buffer,
		invoiceSvc: p.InvoiceSvc,
		subSvc:     p.SubSvc,
		processor:  p.Processor,
		notifier:   notifier,
	}, nil
}

// MonthlyInvoiceRun bills the most recently closed period: it flushes the
// usage buffer, then generates and submits one invoice per organization with
// an active subscription.
func (s *Scheduler) MonthlyInvoiceRun(ctx context.Context) Result {
	return s.runJob(ctx, JobMonthlyInvoices, func(ctx context.Context, result *Result) {
		if err := s.buffer.Flush(ctx); err != nil {
			// Flushed events re-queue; the next run picks them up.
			result.addError("buffer flush: %v", err)
		}

		periodKey := billingperiod.FromTime(s.clock.Now()).Previous().Key
		orgIDs, err := s.subSvc.ListActiveOrgIDs(ctx)
		if err != nil {
			result.addError("list organizations: %v", err)
			return
		}

		for _, orgID := range orgIDs {
			if ctx.Err() != nil {
				result.addError("run interrupted: %v", ctx.Err())
				return
			}
			if err := s.billOrganization(ctx, orgID, periodKey); err != nil {
				result.addError("org %s: %v", orgID, err)
				continue
			}
			result.ProcessedCount++
		}
	})
}

// HourlySyncRun polls the processor for every pending invoice and settles the
// ones it reports paid.
func (s *Scheduler) HourlySyncRun(ctx context.Context) Result {
	return s.runJob(ctx, JobHourlySync, func(ctx context.Context, result *Result) {
		invoices, err := s.invoiceSvc.ListPendingWithExternalID(ctx)
		if err != nil {
			result.addError("list pending invoices: %v", err)
			return
		}

		for _, inv := range invoices {
			status, err := s.processor.GetInvoiceStatus(ctx, *inv.ExternalID)
			if err != nil {
				result.addError("invoice %s: %v", inv.ID, err)
				continue
			}
			if !status.Paid {
				continue
			}
			paidAt := s.clock.Now()
			if status.PaidAt != nil {
				paidAt = *status.PaidAt
			}
			if err := s.invoiceSvc.MarkPaid(ctx, inv.ID.String(), paidAt); err != nil {
				result.addError("invoice %s: %v", inv.ID, err)
				continue
			}
			result.ProcessedCount++
		}
	})
}

// OverdueRun moves pending invoices past their due date to overdue and asks
// the processor to re-notify the customer.
func (s *Scheduler) OverdueRun(ctx context.Context) Result {
	return s.runJob(ctx, JobOverdue, func(ctx context.Context, result *Result) {
		invoices, err := s.invoiceSvc.ListPendingPastDue(ctx, s.clock.Now())
		if err != nil {
			result.addError("list past-due invoices: %v", err)
			return
		}

		for _, inv := range invoices {
			if err := s.invoiceSvc.MarkOverdue(ctx, inv.ID.String()); err != nil {
				result.addError("invoice %s: %v", inv.ID, err)
				continue
			}
			if inv.ExternalID != nil {
				if err := s.processor.SendInvoiceNotification(ctx, *inv.ExternalID); err != nil {
					result.addError("invoice %s notify: %v", inv.ID, err)
				}
			}
			result.ProcessedCount++
		}
	})
}

// TrialExpiryRun flags trialing subscriptions crossing the configured
// look-ahead thresholds. Delivery is the notifier's concern.
func (s *Scheduler) TrialExpiryRun(ctx context.Context) Result {
	return s.runJob(ctx, JobTrialExpiry, func(ctx context.Context, result *Result) {
		subs, err := s.subSvc.ListTrialing(ctx)
		if err != nil {
			result.addError("list trialing subscriptions: %v", err)
			return
		}

		now := s.clock.Now()
		for _, sub := range subs {
			if sub.TrialEndsAt == nil {
				continue
			}
			days, crossed := trialThreshold(now, *sub.TrialEndsAt, s.cfg.TrialThresholdDays)
			if !crossed {
				continue
			}
			if err := s.notifier.NotifyTrialExpiring(ctx, sub, days); err != nil {
				result.addError("subscription %s: %v", sub.ID, err)
				continue
			}
			result.ProcessedCount++
		}
	})
}

// RunDue executes the operations whose cadence matches now: hourly sync on
// every invocation, daily passes at the reminder hour, the monthly run on the
// first calendar day.
func (s *Scheduler) RunDue(ctx context.Context) []Result {
	now := s.clock.Now()
	results := []Result{s.HourlySyncRun(ctx)}

	if now.Hour() == s.cfg.ReminderHour {
		results = append(results, s.OverdueRun(ctx), s.TrialExpiryRun(ctx))
	}
	if now.Day() == 1 {
		results = append(results, s.MonthlyInvoiceRun(ctx))
	}
	return results
}

// RunOnce executes every operation unconditionally. All of them are no-ops
// when there is nothing due, so this is the safe default for ad-hoc triggers.
func (s *Scheduler) RunOnce(ctx context.Context) []Result {
	return []Result{
		s.MonthlyInvoiceRun(ctx),
		s.HourlySyncRun(ctx),
		s.OverdueRun(ctx),
		s.TrialExpiryRun(ctx),
	}
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		for _, result := range s.RunDue(ctx) {
			if !result.Success {
				s.log.Warn("job finished with errors",
					zap.String("job", result.Job),
					zap.Int("processed", result.ProcessedCount),
					zap.Strings("errors", result.Errors),
				)
			}
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)
	}
}

func (s *Scheduler) billOrganization(ctx context.Context, orgID string, periodKey string) error {
	inv, err := s.invoiceSvc.Generate(ctx, orgID, periodKey)
	if err != nil {
		return err
	}
	if _, err := s.invoiceSvc.Submit(ctx, inv.ID.String()); err != nil {
		return err
	}
	return nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context, result *Result)) Result {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))
	log.Info("job started")

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	result := Result{Job: name}
	fn(ctx, &result)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	schedMetrics.AddBatchProcessed(name, result.ProcessedCount)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		schedMetrics.IncJobTimeout(name)
		result.addError("job timed out after %s", s.cfg.JobTimeout)
	}
	for range result.Errors {
		schedMetrics.IncJobError(name, nil)
	}

	log.Info("job finished",
		zap.Int("processed", result.ProcessedCount),
		zap.Int("errors", len(result.Errors)),
	)
	return result.finish()
}

// trialThreshold reports the matching look-ahead mark, if any, for a trial
// ending at end. Days remaining are counted in whole days, rounding up.
func trialThreshold(now, end time.Time, thresholds []int) (int, bool) {
	remaining := end.Sub(now)
	if remaining < 0 {
		return 0, false
	}
	days := int((remaining + 24*time.Hour - time.Nanosecond) / (24 * time.Hour))
	for _, threshold := range thresholds {
		if days == threshold {
			return days, true
		}
	}
	return 0, false
}
