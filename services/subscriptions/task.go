package subscriptions

import (
	"context"
	"encoding/json"

	asynqtype "license-controlplane/pkg/asynq"
	"license-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Outbox enqueues the best-effort side effects of committed license
// mutations. Enqueue failures are logged, never propagated: the state
// change is authoritative, the notification is not.
type Outbox struct {
	client *asynq.Client
}

type OutboxParams struct {
	fx.In
	Client *asynq.Client `optional:"true"`
}

func NewOutbox(p OutboxParams) *Outbox {
	return &Outbox{client: p.Client}
}

func (o *Outbox) enqueue(ctx context.Context, name string, payload interface{}, opts ...asynq.Option) {
	if o == nil || o.client == nil {
		return
	}

	b, err := json.Marshal(payload)
	if err != nil {
		zap.L().Error("failed to marshal task payload", zap.String("task", name), zap.Error(err))
		return
	}

	if _, err := o.client.EnqueueContext(ctx, asynq.NewTask(name, b), opts...); err != nil {
		zap.L().Error("failed to enqueue task", zap.String("task", name), zap.Error(err))
	}
}

func (o *Outbox) NotifyAssignment(ctx context.Context, planID string, emails []string, customMessage string) {
	o.enqueue(ctx, taskname.LicenseNotifyAssignment, asynqtype.NotifyAssignmentPayload{
		PlanID:        planID,
		Emails:        emails,
		CustomMessage: customMessage,
	}, asynq.Queue("notifications"))
}

func (o *Outbox) NotifyReminder(ctx context.Context, planID string, emails []string) {
	o.enqueue(ctx, taskname.LicenseNotifyReminder, asynqtype.NotifyReminderPayload{
		PlanID: planID,
		Emails: emails,
	}, asynq.Queue("notifications"))
}

func (o *Outbox) NotifyOnboarding(ctx context.Context, agreementID, email string) {
	o.enqueue(ctx, taskname.LicenseNotifyOnboarding, asynqtype.NotifyOnboardingPayload{
		AgreementID: agreementID,
		Email:       email,
	}, asynq.Queue("notifications"))
}

func (o *Outbox) NotifyCapReached(ctx context.Context, planID string) {
	o.enqueue(ctx, taskname.LicenseNotifyCapReached, asynqtype.CapReachedPayload{
		PlanID: planID,
	}, asynq.Queue("notifications"))
}

func (o *Outbox) LinkPendingLearners(ctx context.Context, enterpriseID string, emails []string) {
	o.enqueue(ctx, taskname.EnterpriseLinkLearners, asynqtype.LinkLearnersPayload{
		EnterpriseID: enterpriseID,
		Emails:       emails,
	})
}

func (o *Outbox) RevokeEnrollments(ctx context.Context, enterpriseID, licenseID, email string) {
	o.enqueue(ctx, taskname.EnterpriseRevokeEnrollments, asynqtype.RevokeEnrollmentsPayload{
		EnterpriseID: enterpriseID,
		LicenseID:    licenseID,
		Email:        email,
	}, asynq.Queue("critical"))
}

func (o *Outbox) TrackEvent(ctx context.Context, eventName, licenseID string, properties map[string]string) {
	o.enqueue(ctx, taskname.LicenseTrackEvent, asynqtype.TrackEventPayload{
		EventName:  eventName,
		LicenseID:  licenseID,
		Properties: properties,
	}, asynq.Queue("low"))
}
