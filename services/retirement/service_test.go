package retirement

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"license-controlplane/services/subscriptions"
	"license-controlplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestSetup(t *testing.T) (*Service, *gorm.DB, *subscriptions.SubscriptionPlan) {
	t.Helper()

	db := testutil.NewTestDB(t)
	require.NoError(t, subscriptions.Migrate(db))

	agreement := &subscriptions.CustomerAgreement{
		ID:                             uuid.NewString(),
		EnterpriseCustomerUUID:         uuid.NewString(),
		EnterpriseCustomerSlug:         "test-enterprise",
		LicenseDurationBeforePurgeDays: 90,
	}
	require.NoError(t, db.Create(agreement).Error)

	now := time.Now().UTC()
	plan := &subscriptions.SubscriptionPlan{
		ID:             uuid.NewString(),
		Title:          "Test Plan",
		AgreementID:    agreement.ID,
		StartDate:      now.AddDate(-1, 0, 0),
		ExpirationDate: now.AddDate(1, 0, 0),
		IsActive:       true,
	}
	require.NoError(t, db.Create(plan).Error)

	svc := NewService(Params{DB: db})

	return svc, db, plan
}

var nextLmsUserID int64

func seedLicense(t *testing.T, db *gorm.DB, planID, email string, status subscriptions.LicenseStatus, mutate func(*subscriptions.License)) *subscriptions.License {
	t.Helper()

	nextLmsUserID++
	lmsUserID := nextLmsUserID
	lic := subscriptions.NewUnassignedLicense(planID)
	lic.Status = status
	lic.UserEmail = &email
	lic.LmsUserID = &lmsUserID
	if mutate != nil {
		mutate(lic)
	}
	require.NoError(t, db.Create(lic).Error)

	return lic
}

func TestRetireOldLicensesScrubsOnlyOutOfWindowRows(t *testing.T) {
	svc, db, plan := newTestSetup(t)

	now := time.Now().UTC()
	longAgo := now.AddDate(0, 0, -100)
	recently := now.AddDate(0, 0, -10)

	oldRevoked := seedLicense(t, db, plan.ID, "old-revoked@x.com", subscriptions.Revoked, func(l *subscriptions.License) {
		l.RevokedDate = &longAgo
	})
	recentRevoked := seedLicense(t, db, plan.ID, "recent-revoked@x.com", subscriptions.Revoked, func(l *subscriptions.License) {
		l.RevokedDate = &recently
	})
	staleAssigned := seedLicense(t, db, plan.ID, "stale-assigned@x.com", subscriptions.Assigned, func(l *subscriptions.License) {
		l.AssignedDate = &longAgo
	})
	activeLearner := seedLicense(t, db, plan.ID, "active@x.com", subscriptions.Activated, func(l *subscriptions.License) {
		l.AssignedDate = &longAgo
		l.ActivationDate = &longAgo
	})

	scrubbed, err := svc.RetireOldLicenses(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, scrubbed)

	for _, id := range []string{oldRevoked.ID, staleAssigned.ID} {
		var lic subscriptions.License
		require.NoError(t, db.First(&lic, "id = ?", id).Error)
		require.Equal(t, subscriptions.Unassigned, lic.Status)
		require.Nil(t, lic.UserEmail)
		require.Nil(t, lic.LmsUserID)
		require.Nil(t, lic.RevokedDate)
	}

	var kept subscriptions.License
	require.NoError(t, db.First(&kept, "id = ?", recentRevoked.ID).Error)
	require.Equal(t, subscriptions.Revoked, kept.Status)
	require.NotNil(t, kept.UserEmail)

	var keptActive subscriptions.License
	require.NoError(t, db.First(&keptActive, "id = ?", activeLearner.ID).Error)
	require.Equal(t, subscriptions.Activated, keptActive.Status)
	require.NotNil(t, keptActive.UserEmail)
}

func TestRetireOldLicensesScrubsExpiredPlans(t *testing.T) {
	svc, db, plan := newTestSetup(t)

	// Push the plan's expiration past the purge window. Even an activated
	// learner loses identity data once the plan itself is long gone.
	expiredAt := time.Now().UTC().AddDate(0, 0, -120)
	require.NoError(t, db.Model(plan).Update("expiration_date", expiredAt).Error)

	activated := seedLicense(t, db, plan.ID, "learner@x.com", subscriptions.Activated, func(l *subscriptions.License) {
		l.ActivationDate = &expiredAt
	})

	scrubbed, err := svc.RetireOldLicenses(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, scrubbed)

	var lic subscriptions.License
	require.NoError(t, db.First(&lic, "id = ?", activated.ID).Error)
	require.Equal(t, activated.ID, lic.ID)
	require.Equal(t, subscriptions.Unassigned, lic.Status)
	require.Nil(t, lic.UserEmail)
	require.Nil(t, lic.ActivationDate)
}

func TestRetireOldLicensesIgnoresRowsWithoutPII(t *testing.T) {
	svc, db, plan := newTestSetup(t)

	longAgo := time.Now().UTC().AddDate(0, 0, -100)
	bare := subscriptions.NewUnassignedLicense(plan.ID)
	bare.Status = subscriptions.Revoked
	bare.RevokedDate = &longAgo
	require.NoError(t, db.Create(bare).Error)

	scrubbed, err := svc.RetireOldLicenses(context.Background())
	require.NoError(t, err)
	require.Zero(t, scrubbed)
}
