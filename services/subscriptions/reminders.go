package subscriptions

import (
	"context"
	"time"

	"license-controlplane/pkg/db/option"
	"license-controlplane/pkg/errutil"

	"go.uber.org/zap"
)

// RemindPendingLicenses nudges learners who were assigned a license but
// never activated it. A license is re-reminded only after the configured
// interval since the last nudge.
func (s *Service) RemindPendingLicenses(ctx context.Context) (int, error) {
	intervalDays := 7
	if s.cfg != nil && s.cfg.Subscriptions.ReminderIntervalDays > 0 {
		intervalDays = s.cfg.Subscriptions.ReminderIntervalDays
	}

	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, -intervalDays)

	plans, err := s.plans.Find(ctx, &SubscriptionPlan{IsActive: true},
		option.ApplyOperator(option.Condition{Field: "start_date", Operator: option.LTE, Value: now}),
		option.ApplyOperator(option.Condition{Field: "expiration_date", Operator: option.GTE, Value: now}),
	)
	if err != nil {
		return 0, errutil.Internal("failed to query active plans", err)
	}

	total := 0
	for _, plan := range plans {
		pending, err := s.licenses.Find(ctx, &License{SubscriptionPlanID: plan.ID, Status: Assigned})
		if err != nil {
			return total, errutil.Internal("failed to query assigned licenses", err)
		}

		emails := make([]string, 0, len(pending))
		ids := make([]string, 0, len(pending))
		for _, lic := range pending {
			if lic.UserEmail == nil {
				continue
			}
			if lic.LastRemindDate != nil && lic.LastRemindDate.After(cutoff) {
				continue
			}
			emails = append(emails, *lic.UserEmail)
			ids = append(ids, lic.ID)
		}
		if len(emails) == 0 {
			continue
		}

		if err := s.db.WithContext(ctx).Model(&License{}).Where("id IN ?", ids).
			Update("last_remind_date", now).Error; err != nil {
			return total, errutil.Internal("failed to record reminder dates", err)
		}

		s.outbox.NotifyReminder(ctx, plan.ID, emails)
		total += len(emails)
	}

	if total > 0 {
		zap.L().Info("assignment reminders queued", zap.Int("num_reminders", total))
	}

	return total, nil
}
