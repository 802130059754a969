package subscriptions

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"license-controlplane/pkg/errutil"
	"license-controlplane/pkg/locking"
)

type stubLocker struct {
	err      error
	acquired int
	released int
}

func (s *stubLocker) Acquire(ctx context.Context, planID string) (func(), error) {
	if s.err != nil {
		return nil, s.err
	}
	s.acquired++
	return func() { s.released++ }, nil
}

func TestAssignFillsPool(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)
	plan := seedPlan(t, svc, agreement, planOptions{numLicenses: 3})

	ctx := context.Background()
	result, err := svc.Assign(ctx, plan.ID, AssignRequest{
		Emails: []string{"a@x.com", "b@x.com", "c@x.com"},
	})
	require.NoError(t, err)
	require.Equal(t, 3, result.NumAssigned)
	require.Zero(t, result.NumAlreadyAssociated)
	require.Len(t, result.ActivationLinks, 3)
	require.Contains(t, result.ActivationLinks["a@x.com"], "/test-enterprise/licenses/")

	unassigned, err := svc.UnassignedLicenseCount(ctx, plan.ID)
	require.NoError(t, err)
	require.Zero(t, unassigned)

	lic, err := svc.LicenseForEmail(ctx, plan.ID, "a@x.com")
	require.NoError(t, err)
	require.Equal(t, Assigned, lic.Status)
	require.NotNil(t, lic.ActivationKey)
	require.NotNil(t, lic.AssignedDate)
}

func TestAssignExhaustedPoolFailsWithoutMutation(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)
	plan := seedPlan(t, svc, agreement, planOptions{numLicenses: 3})

	ctx := context.Background()
	_, err := svc.Assign(ctx, plan.ID, AssignRequest{Emails: []string{"a@x.com", "b@x.com", "c@x.com"}})
	require.NoError(t, err)

	_, err = svc.Assign(ctx, plan.ID, AssignRequest{Emails: []string{"d@x.com"}})
	require.Error(t, err)
	require.Equal(t, errutil.StatusExhausted, errutil.StatusOf(err))

	lic, err := svc.LicenseForEmail(ctx, plan.ID, "d@x.com")
	require.NoError(t, err)
	require.Nil(t, lic)
}

func TestAssignMissingAgreementFailsBeforeMutation(t *testing.T) {
	svc := newTestService(t)

	// The agreement row was never written, as if deleted out from under
	// the plan. Assign must fail up front rather than after committing.
	orphan := &CustomerAgreement{ID: uuid.NewString()}
	plan := seedPlan(t, svc, orphan, planOptions{numLicenses: 2})

	ctx := context.Background()
	_, err := svc.Assign(ctx, plan.ID, AssignRequest{Emails: []string{"a@x.com"}})
	require.Error(t, err)
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))

	unassigned, err := svc.UnassignedLicenseCount(ctx, plan.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, unassigned)

	lic, err := svc.LicenseForEmail(ctx, plan.ID, "a@x.com")
	require.NoError(t, err)
	require.Nil(t, lic)
}

func TestAssignDeduplicatesAndReportsAlreadyAssociated(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)
	plan := seedPlan(t, svc, agreement, planOptions{numLicenses: 5})

	ctx := context.Background()
	_, err := svc.Assign(ctx, plan.ID, AssignRequest{Emails: []string{"a@x.com"}})
	require.NoError(t, err)

	result, err := svc.Assign(ctx, plan.ID, AssignRequest{
		Emails: []string{"A@X.com", "a@x.com", "b@x.com"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.NumAssigned)
	require.Equal(t, 1, result.NumAlreadyAssociated)
	require.Equal(t, []string{"a@x.com"}, result.AlreadyAssociatedEmails)
}

func TestAssignRecyclesRevokedRowForReturningEmail(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)
	plan := seedPlan(t, svc, agreement, planOptions{numLicenses: 3})

	ctx := context.Background()
	assignAndActivate(t, svc, plan, "a@x.com", 101)

	revoked, err := svc.Revoke(ctx, plan.ID, "a@x.com")
	require.NoError(t, err)
	revokedID := revoked.License.ID

	// The returning learner gets the same row back, reset and re-keyed,
	// instead of consuming a fresh unassigned row.
	result, err := svc.Assign(ctx, plan.ID, AssignRequest{Emails: []string{"a@x.com"}})
	require.NoError(t, err)
	require.Equal(t, 1, result.NumAssigned)

	lic, err := svc.LicenseForEmail(ctx, plan.ID, "a@x.com")
	require.NoError(t, err)
	require.Equal(t, revokedID, lic.ID)
	require.Equal(t, Assigned, lic.Status)
	require.Nil(t, lic.ActivationDate)
	require.Nil(t, lic.RevokedDate)

	// The replenishment row created at revoke time is still unassigned.
	unassigned, err := svc.UnassignedLicenseCount(ctx, plan.ID)
	require.NoError(t, err)
	require.EqualValues(t, 3, unassigned)
}

func TestAssignHeldLockFailsFastWithoutMutation(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)
	plan := seedPlan(t, svc, agreement, planOptions{numLicenses: 2})

	svc.locker = &stubLocker{err: locking.ErrLockHeld}

	_, err := svc.Assign(context.Background(), plan.ID, AssignRequest{Emails: []string{"a@x.com"}})
	require.Error(t, err)
	require.Equal(t, errutil.StatusLocked, errutil.StatusOf(err))

	unassigned, err := svc.UnassignedLicenseCount(context.Background(), plan.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, unassigned)
}

func TestAssignReleasesLock(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)
	plan := seedPlan(t, svc, agreement, planOptions{numLicenses: 2})

	locker := &stubLocker{}
	svc.locker = locker

	_, err := svc.Assign(context.Background(), plan.ID, AssignRequest{Emails: []string{"a@x.com"}})
	require.NoError(t, err)
	require.Equal(t, 1, locker.acquired)
	require.Equal(t, 1, locker.released)
}

func TestAssignMidBatchFailureRollsBackEverything(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)
	plan := seedPlan(t, svc, agreement, planOptions{numLicenses: 3})

	boom := errors.New("boom")
	updates := 0
	require.NoError(t, svc.db.Callback().Update().Before("gorm:update").Register("fail_mid_batch", func(tx *gorm.DB) {
		if tx.Statement.Table == "licenses" {
			updates++
			if updates == 2 {
				tx.AddError(boom)
			}
		}
	}))
	defer func() {
		require.NoError(t, svc.db.Callback().Update().Remove("fail_mid_batch"))
	}()

	_, err := svc.Assign(context.Background(), plan.ID, AssignRequest{
		Emails: []string{"a@x.com", "b@x.com", "c@x.com"},
	})
	require.Error(t, err)

	// No license in the batch changed status.
	var assigned int64
	require.NoError(t, svc.db.Model(&License{}).
		Where("subscription_plan_id = ? AND status <> ?", plan.ID, Unassigned).
		Count(&assigned).Error)
	require.Zero(t, assigned)
}

func TestAssignEnforcesUniquenessPerPlan(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)
	plan := seedPlan(t, svc, agreement, planOptions{numLicenses: 3})

	ctx := context.Background()
	_, err := svc.Assign(ctx, plan.ID, AssignRequest{Emails: []string{"a@x.com"}})
	require.NoError(t, err)

	var live int64
	require.NoError(t, svc.db.Model(&License{}).
		Where("subscription_plan_id = ? AND user_email = ? AND status <> ?", plan.ID, "a@x.com", Revoked).
		Count(&live).Error)
	require.EqualValues(t, 1, live)

	// A second unassigned row can never take the same email: the partial
	// unique index rejects the write outright.
	email := "a@x.com"
	dup := NewUnassignedLicense(plan.ID)
	dup.Status = Assigned
	dup.UserEmail = &email
	require.Error(t, svc.db.Create(dup).Error)
}

func TestActivateIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)
	plan := seedPlan(t, svc, agreement, planOptions{numLicenses: 2})

	ctx := context.Background()
	lic := assignAndActivate(t, svc, plan, "a@x.com", 101)
	require.Equal(t, Activated, lic.Status)
	require.NotNil(t, lic.ActivationDate)
	firstActivation := *lic.ActivationDate

	again, err := svc.Activate(ctx, *lic.ActivationKey, "a@x.com", 101)
	require.NoError(t, err)
	require.Equal(t, lic.ID, again.ID)
	require.Equal(t, Activated, again.Status)
	require.Equal(t, firstActivation, *again.ActivationDate)
}

func TestActivateMismatchedKeyFailsWithoutMutation(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)
	plan := seedPlan(t, svc, agreement, planOptions{numLicenses: 2})

	ctx := context.Background()
	_, err := svc.Assign(ctx, plan.ID, AssignRequest{Emails: []string{"a@x.com"}})
	require.NoError(t, err)

	lic, err := svc.LicenseForEmail(ctx, plan.ID, "a@x.com")
	require.NoError(t, err)

	_, err = svc.Activate(ctx, *lic.ActivationKey, "wrong@x.com", 101)
	require.Error(t, err)
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))

	_, err = svc.Activate(ctx, "not-a-uuid", "a@x.com", 101)
	require.Error(t, err)
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	lic, err = svc.LicenseForEmail(ctx, plan.ID, "a@x.com")
	require.NoError(t, err)
	require.Equal(t, Assigned, lic.Status)
}

func TestActivateRevokedLicenseFails(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)
	plan := seedPlan(t, svc, agreement, planOptions{numLicenses: 2})

	ctx := context.Background()
	lic := assignAndActivate(t, svc, plan, "a@x.com", 101)
	key := *lic.ActivationKey

	_, err := svc.Revoke(ctx, plan.ID, "a@x.com")
	require.NoError(t, err)

	_, err = svc.Activate(ctx, key, "a@x.com", 101)
	require.Error(t, err)
	require.Equal(t, errutil.StatusUnprocessableEntity, errutil.StatusOf(err))
}
