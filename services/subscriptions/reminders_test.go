package subscriptions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRemindPendingLicenses(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)
	plan := seedPlan(t, svc, agreement, planOptions{numLicenses: 3})

	ctx := context.Background()
	_, err := svc.Assign(ctx, plan.ID, AssignRequest{Emails: []string{"never@x.com", "recent@x.com"}})
	require.NoError(t, err)

	// One learner was nudged yesterday and is still inside the interval.
	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	require.NoError(t, svc.db.Model(&License{}).
		Where("subscription_plan_id = ? AND user_email = ?", plan.ID, "recent@x.com").
		Update("last_remind_date", yesterday).Error)

	reminded, err := svc.RemindPendingLicenses(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, reminded)

	lic, err := svc.LicenseForEmail(ctx, plan.ID, "never@x.com")
	require.NoError(t, err)
	require.NotNil(t, lic.LastRemindDate)

	// Nothing is due on an immediate rerun.
	reminded, err = svc.RemindPendingLicenses(ctx)
	require.NoError(t, err)
	require.Zero(t, reminded)
}

func TestRemindPendingLicensesReRemindsAfterInterval(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)
	plan := seedPlan(t, svc, agreement, planOptions{numLicenses: 1})

	ctx := context.Background()
	_, err := svc.Assign(ctx, plan.ID, AssignRequest{Emails: []string{"slow@x.com"}})
	require.NoError(t, err)

	lastMonth := time.Now().UTC().AddDate(0, -1, 0)
	require.NoError(t, svc.db.Model(&License{}).
		Where("subscription_plan_id = ?", plan.ID).
		Update("last_remind_date", lastMonth).Error)

	reminded, err := svc.RemindPendingLicenses(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, reminded)
}
