package task

import (
	"context"
	"encoding/json"
	"time"

	asynqtype "license-controlplane/pkg/asynq"
	"license-controlplane/pkg/config"
	"license-controlplane/pkg/taskname"
	"license-controlplane/services/subscriptions"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	cfg   *config.Config
	node  *snowflake.Node
	asynq *asynq.Client

	subscriptions *subscriptions.Service
}

type Params struct {
	fx.In
	DB            *gorm.DB
	Config        *config.Config
	Node          *snowflake.Node
	Asynq         *asynq.Client
	Subscriptions *subscriptions.Service
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		cfg:   p.Config,
		node:  p.Node,
		asynq: p.Asynq,

		subscriptions: p.Subscriptions,
	}
}

func (s *Service) enqueue(ctx context.Context, name, referenceID string, payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	job := Job{
		ID:          s.node.Generate().String(),
		TaskName:    name,
		ReferenceID: referenceID,
		Status:      "pending",
		CreatedAt:   time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		return err
	}

	if _, err := s.asynq.EnqueueContext(ctx, asynq.NewTask(name, b)); err != nil {
		s.db.Model(&job).Update("status", "failed")
		return err
	}

	zap.L().Info("enqueued job",
		zap.String("task", name),
		zap.String("reference_id", referenceID))

	return nil
}

// EnqueueUpcomingRenewals fans one task out per renewal whose effective
// date falls inside the processing window.
func (s *Service) EnqueueUpcomingRenewals(ctx context.Context) error {
	window := time.Duration(s.cfg.Subscriptions.RenewalWindowHours) * time.Hour

	ids, err := s.subscriptions.UnprocessedRenewalIDsWithin(ctx, window)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(5)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return s.enqueue(ctx, taskname.SubscriptionProcessRenewal, id,
				asynqtype.ProcessRenewalPayload{RenewalID: id})
		})
	}

	return g.Wait()
}

// EnqueueAutoScalingPasses fans one task out per auto-scaling agreement.
func (s *Service) EnqueueAutoScalingPasses(ctx context.Context) error {
	ids, err := s.subscriptions.AutoScalingAgreementIDs(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(5)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return s.enqueue(ctx, taskname.SubscriptionAutoScale, id,
				asynqtype.AutoScalePayload{AgreementID: id})
		})
	}

	return g.Wait()
}

func (s *Service) EnqueueRetirementRun(ctx context.Context) error {
	return s.enqueue(ctx, taskname.LicenseRetirementRun, "", struct{}{})
}

func (s *Service) EnqueueReminderRun(ctx context.Context) error {
	return s.enqueue(ctx, taskname.LicenseReminderRun, "", struct{}{})
}
