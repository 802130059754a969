package subscriptions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"license-controlplane/pkg/config"
	"license-controlplane/pkg/db/option"
	"license-controlplane/pkg/db/pagination"
	"license-controlplane/pkg/errutil"
	"license-controlplane/pkg/locking"
	"license-controlplane/pkg/repository"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// provisionBatchSize bounds each bulk-insert so pool growth stays inside
// ordinary transaction limits.
const provisionBatchSize = 100

type Service struct {
	db     *gorm.DB
	cfg    *config.Config
	locker locking.PlanLocker
	outbox *Outbox

	agreements repository.Repository[CustomerAgreement]
	plans      repository.Repository[SubscriptionPlan]
	licenses   repository.Repository[License]
	renewals   repository.Repository[SubscriptionPlanRenewal]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config     `optional:"true"`
	Locker locking.PlanLocker `optional:"true"`
	Outbox *Outbox            `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		cfg:    p.Config,
		locker: p.Locker,
		outbox: p.Outbox,

		agreements: repository.ProvideStore[CustomerAgreement](p.DB),
		plans:      repository.ProvideStore[SubscriptionPlan](p.DB),
		licenses:   repository.ProvideStore[License](p.DB),
		renewals:   repository.ProvideStore[SubscriptionPlanRenewal](p.DB),
	}
}

func (s *Service) GetPlan(ctx context.Context, planID string) (*SubscriptionPlan, error) {
	plan, err := s.plans.FindOne(ctx, &SubscriptionPlan{ID: planID})
	if err != nil {
		return nil, errutil.Internal("failed to query subscription plan", err)
	}
	if plan == nil {
		return nil, errutil.NotFound("subscription plan not found", nil)
	}

	return plan, nil
}

func (s *Service) GetAgreement(ctx context.Context, agreementID string) (*CustomerAgreement, error) {
	agreement, err := s.agreements.FindOne(ctx, &CustomerAgreement{ID: agreementID})
	if err != nil {
		return nil, errutil.Internal("failed to query customer agreement", err)
	}
	if agreement == nil {
		return nil, errutil.NotFound("customer agreement not found", nil)
	}

	return agreement, nil
}

// CurrentPlan returns the agreement's active plan whose window contains
// today, preferring the most recently started one.
func (s *Service) CurrentPlan(ctx context.Context, agreementID string) (*SubscriptionPlan, error) {
	now := time.Now().UTC()

	return s.plans.FindOne(ctx, &SubscriptionPlan{AgreementID: agreementID, IsActive: true},
		option.ApplyOperator(option.Condition{Field: "start_date", Operator: option.LTE, Value: now}),
		option.ApplyOperator(option.Condition{Field: "expiration_date", Operator: option.GTE, Value: now}),
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "start_date",
			OrderBy: "desc",
			Allow:   map[string]bool{"start_date": true},
		}),
	)
}

// NumLicenses is the plan's pool size: every row except REVOKED ones.
// Computed on read, never stored.
func (s *Service) NumLicenses(ctx context.Context, planID string) (int64, error) {
	return s.licenses.Count(ctx, &License{SubscriptionPlanID: planID},
		option.ApplyOperator(option.Condition{Field: "status", Operator: option.NEQ, Value: Revoked}),
	)
}

// NumAllocatedLicenses counts ASSIGNED plus ACTIVATED rows.
func (s *Service) NumAllocatedLicenses(ctx context.Context, planID string) (int64, error) {
	return s.licenses.Count(ctx, &License{SubscriptionPlanID: planID},
		option.In("status", []LicenseStatus{Assigned, Activated}),
	)
}

func (s *Service) UnassignedLicenseCount(ctx context.Context, planID string) (int64, error) {
	return s.licenses.Count(ctx, &License{SubscriptionPlanID: planID, Status: Unassigned})
}

// NumRevocationsRemaining recomputes the cap headroom from live counts.
func (s *Service) NumRevocationsRemaining(ctx context.Context, plan *SubscriptionPlan) (int, error) {
	numLicenses, err := s.NumLicenses(ctx, plan.ID)
	if err != nil {
		return 0, err
	}

	return plan.RevocationCap(numLicenses) - plan.NumRevocationsApplied, nil
}

// IncreaseNumLicenses grows a plan's UNASSIGNED pool by n rows, inserting
// in fixed-size batches. Passing a transaction keeps growth atomic with the
// caller's surrounding mutation.
func (s *Service) IncreaseNumLicenses(ctx context.Context, tx *gorm.DB, planID string, n int) error {
	if n <= 0 {
		return nil
	}

	rows := make([]*License, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, NewUnassignedLicense(planID))
	}

	repo := s.licenses
	if tx != nil {
		repo = s.licenses.WithTrx(tx)
	}

	if err := repo.BatchCreate(ctx, rows, provisionBatchSize); err != nil {
		return errutil.Internal("failed to provision licenses", err)
	}

	return nil
}

type CreateAgreementInput struct {
	EnterpriseCustomerUUID   string
	EnterpriseCustomerName   string
	EnterpriseCustomerSlug   string
	DefaultCatalogUUID       string
	DisableOnboardingNotices bool
}

// CreateAgreement registers an enterprise customer. A missing slug is
// derived from the customer name.
func (s *Service) CreateAgreement(ctx context.Context, in CreateAgreementInput) (*CustomerAgreement, error) {
	customerSlug := in.EnterpriseCustomerSlug
	if customerSlug == "" {
		customerSlug = slug.Make(in.EnterpriseCustomerName)
	}

	agreement := &CustomerAgreement{
		ID:                       uuid.NewString(),
		EnterpriseCustomerUUID:   in.EnterpriseCustomerUUID,
		EnterpriseCustomerSlug:   customerSlug,
		EnterpriseCustomerName:   in.EnterpriseCustomerName,
		DefaultCatalogUUID:       in.DefaultCatalogUUID,
		DisableOnboardingNotices: in.DisableOnboardingNotices,
	}

	if err := s.agreements.Create(ctx, agreement); err != nil {
		return nil, errutil.Internal("failed to create customer agreement", err)
	}

	zap.L().Info("customer agreement created",
		zap.String("agreement_id", agreement.ID),
		zap.String("enterprise_customer_slug", customerSlug))

	return agreement, nil
}

type CreatePlanInput struct {
	AgreementID           string
	Title                 string
	StartDate             time.Time
	ExpirationDate        time.Time
	DesiredNumLicenses    int
	EnterpriseCatalogUUID string
	IsActive              bool
	ForInternalUseOnly    bool
	IsRevocationCapEnabled bool
	RevokeMaxPercentage   int
}

// CreatePlan creates a plan and provisions its initial pool in one
// transaction.
func (s *Service) CreatePlan(ctx context.Context, in CreatePlanInput) (*SubscriptionPlan, error) {
	agreement, err := s.GetAgreement(ctx, in.AgreementID)
	if err != nil {
		return nil, err
	}

	catalogUUID := in.EnterpriseCatalogUUID
	if catalogUUID == "" {
		catalogUUID = agreement.DefaultCatalogUUID
	}

	revokeMaxPercentage := in.RevokeMaxPercentage
	if revokeMaxPercentage == 0 {
		revokeMaxPercentage = 5
	}

	plan := &SubscriptionPlan{
		ID:                     uuid.NewString(),
		Title:                  in.Title,
		AgreementID:            agreement.ID,
		StartDate:              in.StartDate,
		ExpirationDate:         in.ExpirationDate,
		IsActive:               in.IsActive,
		EnterpriseCatalogUUID:  catalogUUID,
		ForInternalUseOnly:     in.ForInternalUseOnly,
		IsRevocationCapEnabled: in.IsRevocationCapEnabled,
		RevokeMaxPercentage:    revokeMaxPercentage,
		DesiredNumLicenses:     in.DesiredNumLicenses,
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.plans.WithTrx(tx).Create(ctx, plan); err != nil {
			return err
		}
		return s.IncreaseNumLicenses(ctx, tx, plan.ID, in.DesiredNumLicenses)
	}); err != nil {
		return nil, errutil.Internal("failed to create subscription plan", err)
	}

	zap.L().Info("subscription plan created",
		zap.String("plan_id", plan.ID),
		zap.String("agreement_id", agreement.ID),
		zap.Int("num_licenses", in.DesiredNumLicenses))

	return plan, nil
}

// ActivationLink builds the learner-facing activation URL for a license.
func (s *Service) ActivationLink(agreement *CustomerAgreement, activationKey string) string {
	base := ""
	if s.cfg != nil {
		base = s.cfg.LearnerPortalBaseURL
	}

	return fmt.Sprintf("%s/%s/licenses/%s/activate", base, agreement.EnterpriseCustomerSlug, activationKey)
}

// ListLicenses pages through a plan's licenses with a created_at cursor.
func (s *Service) ListLicenses(ctx context.Context, planID string, p pagination.Pagination) ([]*License, *pagination.PageInfo, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.licenses.Find(ctx, &License{SubscriptionPlanID: planID},
		option.ApplyPagination(p),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc", Allow: map[string]bool{"created_at": true}}),
	)
	if err != nil {
		return nil, nil, errutil.Internal("failed to list licenses", err)
	}

	rows, pageInfo := pagination.BuildCursorPageInfo(rows, limit, func(l *License) string {
		cursor, _ := pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: l.CreatedAt.Format(time.RFC3339Nano),
			ID:        l.ID,
		})
		return cursor
	})

	return rows, pageInfo, nil
}

// LicenseForEmail returns the non-revoked license bound to the email in
// the plan, or nil when the email holds none.
func (s *Service) LicenseForEmail(ctx context.Context, planID, email string) (*License, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	lic, err := s.licenses.FindOne(ctx, &License{SubscriptionPlanID: planID, UserEmail: &email},
		option.ApplyOperator(option.Condition{Field: "status", Operator: option.NEQ, Value: Revoked}),
	)
	if err != nil {
		return nil, errutil.Internal("failed to query license", err)
	}

	return lic, nil
}

// unassignedRows selects up to limit UNASSIGNED rows in ascending UUID
// order so repeated allocations are reproducible.
func (s *Service) unassignedRows(ctx context.Context, tx *gorm.DB, planID string, limit int) ([]*License, error) {
	repo := s.licenses
	if tx != nil {
		repo = s.licenses.WithTrx(tx)
	}

	return repo.Find(ctx, &License{SubscriptionPlanID: planID, Status: Unassigned},
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "asc", Allow: map[string]bool{"id": true}}),
		option.WithLimit(limit),
	)
}
