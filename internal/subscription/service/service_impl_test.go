package service

import (
	"context"
	"testing"
	"time"

	subscriptiondomain "github.com/asterhq/tally/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (subscriptiondomain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&subscriptiondomain.Subscription{}))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(ServiceParam{DB: db, Log: zap.NewNop()}), db, node
}

func seed(t *testing.T, db *gorm.DB, node *snowflake.Node, orgID int64, status subscriptiondomain.SubscriptionStatus, createdAt time.Time, trialEndsAt *time.Time) snowflake.ID {
	t.Helper()
	id := node.Generate()
	require.NoError(t, db.Create(&subscriptiondomain.Subscription{
		ID:                 id,
		OrgID:              snowflake.ID(orgID),
		PlanID:             "starter",
		SeatCount:          1,
		Status:             status,
		CurrentPeriodStart: createdAt,
		CurrentPeriodEnd:   createdAt.AddDate(0, 1, 0),
		TrialEndsAt:        trialEndsAt,
		CreatedAt:          createdAt,
	}).Error)
	return id
}

func TestGetActiveByOrgID(t *testing.T) {
	svc, db, node := newTestService(t)
	ctx := context.Background()

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seed(t, db, node, 42, subscriptiondomain.SubscriptionStatusCanceled, old, nil)
	current := seed(t, db, node, 42, subscriptiondomain.SubscriptionStatusActive, old.AddDate(0, 2, 0), nil)

	sub, err := svc.GetActiveByOrgID(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, current, sub.ID)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
}

func TestGetActiveByOrgIDNoSubscription(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.GetActiveByOrgID(context.Background(), "42")
	assert.ErrorIs(t, err, subscriptiondomain.ErrNoActiveSubscription)
}

func TestGetActiveByOrgIDInvalidOrg(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.GetActiveByOrgID(context.Background(), "not-a-snowflake")
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidOrganization)
}

func TestListActiveOrgIDs(t *testing.T) {
	svc, db, node := newTestService(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	seed(t, db, node, 42, subscriptiondomain.SubscriptionStatusActive, now, nil)
	// Two rows for one org collapse to one id.
	seed(t, db, node, 42, subscriptiondomain.SubscriptionStatusTrialing, now, nil)
	seed(t, db, node, 77, subscriptiondomain.SubscriptionStatusTrialing, now, nil)
	seed(t, db, node, 99, subscriptiondomain.SubscriptionStatusCanceled, now, nil)

	orgIDs, err := svc.ListActiveOrgIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"42", "77"}, orgIDs)
}

func TestListTrialing(t *testing.T) {
	svc, db, node := newTestService(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	later := now.AddDate(0, 0, 10)
	sooner := now.AddDate(0, 0, 3)
	seed(t, db, node, 42, subscriptiondomain.SubscriptionStatusTrialing, now, &later)
	seed(t, db, node, 77, subscriptiondomain.SubscriptionStatusTrialing, now, &sooner)
	// Trialing with no end date is excluded.
	seed(t, db, node, 99, subscriptiondomain.SubscriptionStatusTrialing, now, nil)
	seed(t, db, node, 111, subscriptiondomain.SubscriptionStatusActive, now, &later)

	subs, err := svc.ListTrialing(context.Background())
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, snowflake.ID(77), subs[0].OrgID)
	assert.Equal(t, snowflake.ID(42), subs[1].OrgID)
}
