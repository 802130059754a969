package notifications

import (
	"context"
	"encoding/json"

	asynqtype "license-controlplane/pkg/asynq"
	"license-controlplane/services/subscriptions"

	"github.com/hibiken/asynq"
)

func HandleAssignmentNotice(svc *Service) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload asynqtype.NotifyAssignmentPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return err
		}

		return svc.SendAssignmentEmails(ctx, payload.PlanID, payload.Emails, payload.CustomMessage)
	}
}

func HandleReminderNotice(svc *Service) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload asynqtype.NotifyReminderPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return err
		}

		return svc.SendReminderEmails(ctx, payload.PlanID, payload.Emails)
	}
}

func HandleOnboardingNotice(svc *Service) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload asynqtype.NotifyOnboardingPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return err
		}

		return svc.SendOnboardingEmail(ctx, payload.AgreementID, payload.Email)
	}
}

func HandleCapReachedNotice(svc *Service) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload asynqtype.CapReachedPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return err
		}

		return svc.SendRevocationCapNotice(ctx, payload.PlanID)
	}
}

// HandleReminderRun scans for pending assignments and fans reminder
// notices back out through the queue.
func HandleReminderRun(subs *subscriptions.Service) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		_, err := subs.RemindPendingLicenses(ctx)
		return err
	}
}
