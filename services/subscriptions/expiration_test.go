package subscriptions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func expiredPlan(t *testing.T, svc *Service, agreement *CustomerAgreement, numLicenses int) *SubscriptionPlan {
	t.Helper()

	return seedPlan(t, svc, agreement, planOptions{
		numLicenses:    numLicenses,
		startDate:      time.Now().UTC().AddDate(-1, 0, 0),
		expirationDate: time.Now().UTC().AddDate(0, 0, -1),
	})
}

func TestExpirePlanPostRenewal(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)
	plan := expiredPlan(t, svc, agreement, 2)

	ctx := context.Background()

	// A license left behind by a renewal that did not carry it forward.
	now := time.Now().UTC()
	var stranded License
	require.NoError(t, svc.db.First(&stranded, "subscription_plan_id = ? AND status = ?", plan.ID, Unassigned).Error)
	email := "left-behind@x.com"
	stranded.Status = Assigned
	stranded.UserEmail = &email
	stranded.AssignedDate = &now
	require.NoError(t, svc.db.Save(&stranded).Error)

	renewal := seedRenewal(t, svc, plan, 2, CopyNothing)
	renewal.Processed = true
	renewal.ProcessedDatetime = &now
	require.NoError(t, svc.db.Save(renewal).Error)

	require.NoError(t, svc.ExpirePlanPostRenewal(ctx, plan.ID))

	updated, err := svc.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.True(t, updated.ExpirationProcessed)

	// Reprocessing is rejected.
	err = svc.ExpirePlanPostRenewal(ctx, plan.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "The plan's expiration is already marked as processed.")
}

func TestExpirePlanRejectsFutureExpiration(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)
	plan := seedPlan(t, svc, agreement, planOptions{numLicenses: 1})

	err := svc.ExpirePlanPostRenewal(context.Background(), plan.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "The plan's expiration date is in the future.")
}

func TestExpirePlanRequiresRenewalRecord(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)
	plan := expiredPlan(t, svc, agreement, 1)

	err := svc.ExpirePlanPostRenewal(context.Background(), plan.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "The plan has no associated renewal record.")
}

func TestExpirePlanRequiresProcessedRenewal(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)
	plan := expiredPlan(t, svc, agreement, 1)
	seedRenewal(t, svc, plan, 1, CopyNothing)

	err := svc.ExpirePlanPostRenewal(context.Background(), plan.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "The plan's renewal has not been processed.")
}
