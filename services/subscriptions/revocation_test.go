package subscriptions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"license-controlplane/pkg/errutil"
)

func TestRevokeActivatedConsumesCapAndSignalsCrossing(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)
	// n=3 at 50% gives a cap of ceil(1.5) = 2.
	plan := seedPlan(t, svc, agreement, planOptions{numLicenses: 3, capEnabled: true, revokeMaxPercentage: 50})

	ctx := context.Background()
	assignAndActivate(t, svc, plan, "a@x.com", 101)
	assignAndActivate(t, svc, plan, "b@x.com", 102)
	assignAndActivate(t, svc, plan, "c@x.com", 103)

	first, err := svc.Revoke(ctx, plan.ID, "a@x.com")
	require.NoError(t, err)
	require.Equal(t, Activated, first.OriginalStatus)
	require.False(t, first.CapReached)

	second, err := svc.Revoke(ctx, plan.ID, "b@x.com")
	require.NoError(t, err)
	require.True(t, second.CapReached)

	_, err = svc.Revoke(ctx, plan.ID, "c@x.com")
	require.Error(t, err)
	require.Equal(t, errutil.StatusExhausted, errutil.StatusOf(err))
	require.Contains(t, err.Error(), "revocation limit reached for this plan")

	updated, err := svc.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Equal(t, 2, updated.NumRevocationsApplied)

	// The blocked license is untouched.
	lic, err := svc.LicenseForEmail(ctx, plan.ID, "c@x.com")
	require.NoError(t, err)
	require.Equal(t, Activated, lic.Status)
}

func TestRevokeAssignedDoesNotConsumeCap(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)
	plan := seedPlan(t, svc, agreement, planOptions{numLicenses: 3, capEnabled: true, revokeMaxPercentage: 50})

	ctx := context.Background()
	_, err := svc.Assign(ctx, plan.ID, AssignRequest{Emails: []string{"a@x.com"}})
	require.NoError(t, err)

	result, err := svc.Revoke(ctx, plan.ID, "a@x.com")
	require.NoError(t, err)
	require.Equal(t, Assigned, result.OriginalStatus)
	require.False(t, result.CapReached)

	updated, err := svc.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Zero(t, updated.NumRevocationsApplied)
}

func TestRevokeUncappedPlanLeavesCapCounterUntouched(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)
	plan := seedPlan(t, svc, agreement, planOptions{numLicenses: 2})

	ctx := context.Background()
	assignAndActivate(t, svc, plan, "a@x.com", 101)

	result, err := svc.Revoke(ctx, plan.ID, "a@x.com")
	require.NoError(t, err)
	require.Equal(t, Activated, result.OriginalStatus)
	require.False(t, result.CapReached)

	// Without the cap the counter must stay at zero, otherwise enabling
	// the cap later would start from an inflated count.
	updated, err := svc.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Zero(t, updated.NumRevocationsApplied)
}

func TestRevokeReplenishesPool(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)
	plan := seedPlan(t, svc, agreement, planOptions{numLicenses: 2})

	ctx := context.Background()
	assignAndActivate(t, svc, plan, "a@x.com", 101)

	result, err := svc.Revoke(ctx, plan.ID, "a@x.com")
	require.NoError(t, err)
	require.Equal(t, Revoked, result.License.Status)
	require.NotNil(t, result.License.RevokedDate)

	numLicenses, err := svc.NumLicenses(ctx, plan.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, numLicenses)

	unassigned, err := svc.UnassignedLicenseCount(ctx, plan.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, unassigned)
}

func TestRevokeUnknownEmailFails(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)
	plan := seedPlan(t, svc, agreement, planOptions{numLicenses: 2})

	_, err := svc.Revoke(context.Background(), plan.ID, "ghost@x.com")
	require.Error(t, err)
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}

func TestRevokeAllRejectedWhileCapEnabled(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)
	plan := seedPlan(t, svc, agreement, planOptions{numLicenses: 3, capEnabled: true, revokeMaxPercentage: 50})

	_, err := svc.RevokeAll(context.Background(), plan.ID)
	require.Error(t, err)
	require.Equal(t, errutil.StatusUnprocessableEntity, errutil.StatusOf(err))
}

func TestRevokeAllUncappedPlan(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)
	plan := seedPlan(t, svc, agreement, planOptions{numLicenses: 4})

	ctx := context.Background()
	assignAndActivate(t, svc, plan, "a@x.com", 101)
	_, err := svc.Assign(ctx, plan.ID, AssignRequest{Emails: []string{"b@x.com"}})
	require.NoError(t, err)

	revoked, err := svc.RevokeAll(ctx, plan.ID)
	require.NoError(t, err)
	require.Equal(t, 2, revoked)

	allocated, err := svc.NumAllocatedLicenses(ctx, plan.ID)
	require.NoError(t, err)
	require.Zero(t, allocated)

	// Replenishment rows keep the pool at full size.
	numLicenses, err := svc.NumLicenses(ctx, plan.ID)
	require.NoError(t, err)
	require.EqualValues(t, 4, numLicenses)
}
