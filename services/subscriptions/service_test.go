package subscriptions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"license-controlplane/pkg/config"
	"license-controlplane/pkg/db/pagination"
	"license-controlplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t)
	require.NoError(t, Migrate(db))

	cfg := &config.Config{}
	cfg.LearnerPortalBaseURL = "http://learner.example.com"

	return NewService(ServiceParams{DB: db, Config: cfg})
}

func seedAgreement(t *testing.T, svc *Service) *CustomerAgreement {
	t.Helper()

	agreement := &CustomerAgreement{
		ID:                     uuid.NewString(),
		EnterpriseCustomerUUID: uuid.NewString(),
		EnterpriseCustomerSlug: "test-enterprise",
		EnterpriseCustomerName: "Test Enterprise",
	}
	require.NoError(t, svc.db.Create(agreement).Error)

	return agreement
}

type planOptions struct {
	numLicenses         int
	capEnabled          bool
	revokeMaxPercentage int
	startDate           time.Time
	expirationDate      time.Time
}

func seedPlan(t *testing.T, svc *Service, agreement *CustomerAgreement, opts planOptions) *SubscriptionPlan {
	t.Helper()

	if opts.startDate.IsZero() {
		opts.startDate = time.Now().UTC().AddDate(0, 0, -1)
	}
	if opts.expirationDate.IsZero() {
		opts.expirationDate = time.Now().UTC().AddDate(1, 0, 0)
	}
	if opts.revokeMaxPercentage == 0 {
		opts.revokeMaxPercentage = 5
	}

	plan := &SubscriptionPlan{
		ID:                     uuid.NewString(),
		Title:                  "Test Plan",
		AgreementID:            agreement.ID,
		StartDate:              opts.startDate,
		ExpirationDate:         opts.expirationDate,
		IsActive:               true,
		IsRevocationCapEnabled: opts.capEnabled,
		RevokeMaxPercentage:    opts.revokeMaxPercentage,
		DesiredNumLicenses:     opts.numLicenses,
	}
	require.NoError(t, svc.db.Create(plan).Error)
	require.NoError(t, svc.IncreaseNumLicenses(context.Background(), nil, plan.ID, opts.numLicenses))

	return plan
}

// assignAndActivate walks a license through assignment and activation so
// tests exercise the same paths callers do.
func assignAndActivate(t *testing.T, svc *Service, plan *SubscriptionPlan, email string, lmsUserID int64) *License {
	t.Helper()

	ctx := context.Background()
	_, err := svc.Assign(ctx, plan.ID, AssignRequest{Emails: []string{email}})
	require.NoError(t, err)

	lic, err := svc.LicenseForEmail(ctx, plan.ID, email)
	require.NoError(t, err)
	require.NotNil(t, lic)

	activated, err := svc.Activate(ctx, *lic.ActivationKey, email, lmsUserID)
	require.NoError(t, err)

	return activated
}

func TestCreateAgreementDerivesSlug(t *testing.T) {
	svc := newTestService(t)

	agreement, err := svc.CreateAgreement(context.Background(), CreateAgreementInput{
		EnterpriseCustomerUUID: uuid.NewString(),
		EnterpriseCustomerName: "Pied Piper GmbH",
	})
	require.NoError(t, err)
	require.Equal(t, "pied-piper-gmbh", agreement.EnterpriseCustomerSlug)

	fetched, err := svc.GetAgreement(context.Background(), agreement.ID)
	require.NoError(t, err)
	require.Equal(t, agreement.EnterpriseCustomerSlug, fetched.EnterpriseCustomerSlug)
}

func TestIncreaseNumLicenses(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)
	plan := seedPlan(t, svc, agreement, planOptions{numLicenses: 0})

	ctx := context.Background()
	require.NoError(t, svc.IncreaseNumLicenses(ctx, nil, plan.ID, 250))

	count, err := svc.NumLicenses(ctx, plan.ID)
	require.NoError(t, err)
	require.EqualValues(t, 250, count)

	unassigned, err := svc.UnassignedLicenseCount(ctx, plan.ID)
	require.NoError(t, err)
	require.EqualValues(t, 250, unassigned)
}

func TestCreatePlanProvisionsPool(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)

	ctx := context.Background()
	now := time.Now().UTC()
	plan, err := svc.CreatePlan(ctx, CreatePlanInput{
		AgreementID:        agreement.ID,
		Title:              "Annual",
		StartDate:          now,
		ExpirationDate:     now.AddDate(1, 0, 0),
		DesiredNumLicenses: 10,
		IsActive:           true,
	})
	require.NoError(t, err)
	require.Equal(t, 5, plan.RevokeMaxPercentage)

	count, err := svc.NumLicenses(ctx, plan.ID)
	require.NoError(t, err)
	require.EqualValues(t, 10, count)
}

func TestDerivedCountsExcludeRevoked(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)
	plan := seedPlan(t, svc, agreement, planOptions{numLicenses: 3})

	ctx := context.Background()
	assignAndActivate(t, svc, plan, "a@example.com", 101)

	_, err := svc.Revoke(ctx, plan.ID, "a@example.com")
	require.NoError(t, err)

	// The revoked row leaves the pool count, the replenishment row
	// restores it.
	numLicenses, err := svc.NumLicenses(ctx, plan.ID)
	require.NoError(t, err)
	require.EqualValues(t, 3, numLicenses)

	var total int64
	require.NoError(t, svc.db.Model(&License{}).Where("subscription_plan_id = ?", plan.ID).Count(&total).Error)
	require.EqualValues(t, 4, total)

	allocated, err := svc.NumAllocatedLicenses(ctx, plan.ID)
	require.NoError(t, err)
	require.Zero(t, allocated)
}

func TestRevocationCapRounding(t *testing.T) {
	plan := &SubscriptionPlan{RevokeMaxPercentage: 50}
	require.Equal(t, 2, plan.RevocationCap(3))

	plan.RevokeMaxPercentage = 5
	require.Equal(t, 1, plan.RevocationCap(10))
	require.Equal(t, 5, plan.RevocationCap(100))
}

func TestCurrentPlanPicksNewestWindow(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)

	now := time.Now().UTC()
	seedPlan(t, svc, agreement, planOptions{
		numLicenses: 1,
		startDate:   now.AddDate(-1, 0, 0),
		expirationDate: now.AddDate(0, 6, 0),
	})
	newer := seedPlan(t, svc, agreement, planOptions{
		numLicenses: 1,
		startDate:   now.AddDate(0, -1, 0),
		expirationDate: now.AddDate(1, 0, 0),
	})

	current, err := svc.CurrentPlan(context.Background(), agreement.ID)
	require.NoError(t, err)
	require.NotNil(t, current)
	require.Equal(t, newer.ID, current.ID)
}

func TestListLicensesPaginates(t *testing.T) {
	svc := newTestService(t)
	agreement := seedAgreement(t, svc)
	plan := seedPlan(t, svc, agreement, planOptions{numLicenses: 15})

	rows, pageInfo, err := svc.ListLicenses(context.Background(), plan.ID, pagination.Pagination{Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 10)
	require.True(t, pageInfo.HasMore)
	require.NotEmpty(t, pageInfo.NextCursor)
}
