package service

import (
	"context"

	"github.com/asterhq/tally/internal/billingperiod"
	"github.com/asterhq/tally/internal/clock"
	"github.com/asterhq/tally/internal/pricing"
	usagedomain "github.com/asterhq/tally/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type ServiceParam struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Table *pricing.Table
	Repo  usagedomain.Repository
}

type Service struct {
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	table *pricing.Table
	repo  usagedomain.Repository
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		log:   p.Log.Named("usage.service"),
		genID: p.GenID,
		clock: p.Clock,
		table: p.Table,
		repo:  p.Repo,
	}
}

func (s *Service) Insert(ctx context.Context, req usagedomain.TrackRequest) (*usagedomain.UsageRecord, error) {
	record, err := s.build(req)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Insert(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Service) InsertBatch(ctx context.Context, reqs []usagedomain.TrackRequest) error {
	if len(reqs) == 0 {
		return nil
	}
	records := make([]*usagedomain.UsageRecord, 0, len(reqs))
	for _, req := range reqs {
		record, err := s.build(req)
		if err != nil {
			return err
		}
		records = append(records, record)
	}
	return s.repo.InsertBatch(ctx, records)
}

func (s *Service) AggregateByKind(ctx context.Context, organizationID string, periodKey string) (map[usagedomain.Kind]int64, error) {
	orgID, err := snowflake.ParseString(organizationID)
	if err != nil {
		return nil, usagedomain.ErrInvalidOrganization
	}
	if _, err := billingperiod.FromKey(periodKey); err != nil {
		return nil, err
	}
	return s.repo.AggregateByKind(ctx, int64(orgID), periodKey)
}

func (s *Service) DailyBreakdown(ctx context.Context, organizationID string, periodKey string) ([]usagedomain.DayUsage, error) {
	orgID, err := snowflake.ParseString(organizationID)
	if err != nil {
		return nil, usagedomain.ErrInvalidOrganization
	}
	if _, err := billingperiod.FromKey(periodKey); err != nil {
		return nil, err
	}
	return s.repo.DailyBreakdown(ctx, int64(orgID), periodKey)
}

// build validates the request and freezes the current table price into the
// record so later pricing changes leave history untouched.
func (s *Service) build(req usagedomain.TrackRequest) (*usagedomain.UsageRecord, error) {
	orgID, err := snowflake.ParseString(req.OrganizationID)
	if err != nil || orgID == 0 {
		return nil, usagedomain.ErrInvalidOrganization
	}
	if !req.Kind.Valid() {
		return nil, usagedomain.ErrInvalidKind
	}
	if req.Quantity < 0 {
		return nil, usagedomain.ErrInvalidQuantity
	}

	entry, err := s.table.Entry(req.Kind)
	if err != nil {
		return nil, err
	}

	recordedAt := req.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = s.clock.Now()
	}
	recordedAt = recordedAt.UTC()

	record := &usagedomain.UsageRecord{
		ID:             s.genID.Generate(),
		OrgID:          orgID,
		Kind:           req.Kind,
		Quantity:       req.Quantity,
		UnitPrice:      entry.UnitPrice.String(),
		Amount:         ceilAmount(req.Quantity, entry),
		PeriodKey:      billingperiod.KeyFor(recordedAt),
		IdempotencyKey: normalizeIdempotencyKey(req.IdempotencyKey),
		RecordedAt:     recordedAt,
	}
	if req.UserID != "" {
		userID, err := snowflake.ParseString(req.UserID)
		if err == nil {
			record.UserID = &userID
		}
	}
	if len(req.Metadata) > 0 {
		record.Metadata = datatypes.JSONMap(req.Metadata)
	}
	return record, nil
}

func ceilAmount(quantity int64, entry pricing.Entry) int64 {
	if quantity <= 0 {
		return 0
	}
	return entry.UnitPrice.Mul(decimalFromInt(quantity)).Ceil().IntPart()
}
