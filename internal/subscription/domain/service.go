package domain

import (
	"context"
	"errors"
)

// Service is the read-only subscription surface consumed by billing.
type Service interface {
	// GetActiveByOrgID returns the organization's active or trialing
	// subscription, or ErrNoActiveSubscription.
	GetActiveByOrgID(ctx context.Context, organizationID string) (Subscription, error)
	// ListActiveOrgIDs enumerates every organization the monthly run must bill.
	ListActiveOrgIDs(ctx context.Context) ([]string, error)
	// ListTrialing returns subscriptions still in their trial window.
	ListTrialing(ctx context.Context) ([]Subscription, error)
}

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrNoActiveSubscription = errors.New("no_active_subscription")
)
