package notifications

import (
	"context"
	"time"

	"license-controlplane/pkg/repository"
	"license-controlplane/services/subscriptions"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	node     *snowflake.Node
	notifier Notifier

	subscriptions *subscriptions.Service
	notifications repository.Repository[Notification]
}

type Params struct {
	fx.In
	DB            *gorm.DB
	Node          *snowflake.Node
	Notifier      Notifier
	Subscriptions *subscriptions.Service
}

func NewService(p Params) *Service {
	return &Service{
		node:     p.Node,
		notifier: p.Notifier,

		subscriptions: p.Subscriptions,
		notifications: repository.ProvideStore[Notification](p.DB),
	}
}

func (s *Service) record(ctx context.Context, planID string, emails []string, notificationType NotificationType) {
	now := time.Now().UTC()
	rows := make([]*Notification, 0, len(emails))
	for _, email := range emails {
		rows = append(rows, &Notification{
			ID:     s.node.Generate().String(),
			PlanID: planID,
			Email:  email,
			Type:   notificationType,
			SentAt: now,
		})
	}

	if err := s.notifications.BatchCreate(ctx, rows, 100); err != nil {
		zap.L().Error("failed to record notifications", zap.Error(err))
	}
}

// recipients resolves each email's activation link from its live license.
func (s *Service) recipients(ctx context.Context, plan *subscriptions.SubscriptionPlan, agreement *subscriptions.CustomerAgreement, emails []string) []Recipient {
	out := make([]Recipient, 0, len(emails))
	for _, email := range emails {
		recipient := Recipient{Email: email}

		lic, err := s.subscriptions.LicenseForEmail(ctx, plan.ID, email)
		if err == nil && lic != nil && lic.ActivationKey != nil {
			recipient.ActivationLink = s.subscriptions.ActivationLink(agreement, *lic.ActivationKey)
		}

		out = append(out, recipient)
	}

	return out
}

func (s *Service) SendAssignmentEmails(ctx context.Context, planID string, emails []string, customMessage string) error {
	plan, err := s.subscriptions.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	agreement, err := s.subscriptions.GetAgreement(ctx, plan.AgreementID)
	if err != nil {
		return err
	}

	if err := s.notifier.SendAssignmentEmail(ctx, s.recipients(ctx, plan, agreement, emails), customMessage); err != nil {
		return err
	}

	s.record(ctx, planID, emails, AssignmentNotice)
	return nil
}

func (s *Service) SendReminderEmails(ctx context.Context, planID string, emails []string) error {
	plan, err := s.subscriptions.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	agreement, err := s.subscriptions.GetAgreement(ctx, plan.AgreementID)
	if err != nil {
		return err
	}

	if err := s.notifier.SendReminderEmail(ctx, s.recipients(ctx, plan, agreement, emails)); err != nil {
		return err
	}

	s.record(ctx, planID, emails, ReminderNotice)
	return nil
}

func (s *Service) SendOnboardingEmail(ctx context.Context, agreementID, email string) error {
	if err := s.notifier.SendOnboardingEmail(ctx, email); err != nil {
		return err
	}

	s.record(ctx, "", []string{email}, OnboardingNotice)
	return nil
}

func (s *Service) SendRevocationCapNotice(ctx context.Context, planID string) error {
	plan, err := s.subscriptions.GetPlan(ctx, planID)
	if err != nil {
		return err
	}

	if err := s.notifier.SendRevocationCapNotice(ctx, plan.Title); err != nil {
		return err
	}

	s.record(ctx, planID, nil, RevocationCapNotice)
	return nil
}
