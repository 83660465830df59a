package service

import (
	"context"

	subscriptiondomain "github.com/asterhq/tally/internal/subscription/domain"
	"github.com/asterhq/tally/pkg/db/option"
	"github.com/asterhq/tally/pkg/repository"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	subrepo repository.Repository[subscriptiondomain.Subscription]
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("subscription.service"),
		subrepo: repository.ProvideStore[subscriptiondomain.Subscription](p.DB),
	}
}

func (s *Service) GetActiveByOrgID(ctx context.Context, organizationID string) (subscriptiondomain.Subscription, error) {
	orgID, err := snowflake.ParseString(organizationID)
	if err != nil || orgID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidOrganization
	}

	sub, err := s.subrepo.FindOne(ctx,
		&subscriptiondomain.Subscription{OrgID: orgID},
		option.WithWhere("status IN ?", []subscriptiondomain.SubscriptionStatus{
			subscriptiondomain.SubscriptionStatusActive,
			subscriptiondomain.SubscriptionStatusTrialing,
		}),
		option.WithOrder("created_at DESC"),
	)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if sub == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrNoActiveSubscription
	}
	return *sub, nil
}

func (s *Service) ListActiveOrgIDs(ctx context.Context) ([]string, error) {
	var orgIDs []int64
	err := s.db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Distinct("org_id").
		Where("status IN ?", []subscriptiondomain.SubscriptionStatus{
			subscriptiondomain.SubscriptionStatusActive,
			subscriptiondomain.SubscriptionStatusTrialing,
		}).
		Order("org_id ASC").
		Pluck("org_id", &orgIDs).Error
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(orgIDs))
	for _, id := range orgIDs {
		out = append(out, snowflake.ID(id).String())
	}
	return out, nil
}

func (s *Service) ListTrialing(ctx context.Context) ([]subscriptiondomain.Subscription, error) {
	subs, err := s.subrepo.Find(ctx,
		&subscriptiondomain.Subscription{Status: subscriptiondomain.SubscriptionStatusTrialing},
		option.WithWhere("trial_ends_at IS NOT NULL"),
		option.WithOrder("trial_ends_at ASC"),
	)
	if err != nil {
		return nil, err
	}

	out := make([]subscriptiondomain.Subscription, 0, len(subs))
	for _, sub := range subs {
		out = append(out, *sub)
	}
	return out, nil
}
