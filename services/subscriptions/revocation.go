package subscriptions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"license-controlplane/pkg/db/option"
	"license-controlplane/pkg/errutil"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RevocationResult reports what a revoke changed so callers can decide
// which side effects to fire. Batch callers aggregate these instead of
// firing per-item mid-transaction.
type RevocationResult struct {
	License        *License
	OriginalStatus LicenseStatus
	// CapReached is true exactly when this revocation consumed the last
	// unit of cap headroom.
	CapReached bool
}

// Revoke revokes the non-revoked license bound to the email in the plan
// and fires the revocation side effects.
func (s *Service) Revoke(ctx context.Context, planID, email string) (*RevocationResult, error) {
	plan, err := s.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	email = strings.ToLower(strings.TrimSpace(email))
	lic, err := s.licenses.FindOne(ctx, &License{SubscriptionPlanID: plan.ID, UserEmail: &email},
		option.ApplyOperator(option.Condition{Field: "status", Operator: option.NEQ, Value: Revoked}),
	)
	if err != nil {
		return nil, errutil.Internal("failed to query license", err)
	}
	if lic == nil {
		return nil, errutil.NotFound("no license found for email", nil)
	}

	result, err := s.revokeLicense(ctx, plan, lic)
	if err != nil {
		return nil, err
	}

	s.fireRevocationSideEffects(ctx, plan, []*RevocationResult{result})

	return result, nil
}

// revokeLicense performs the core transition. The status flip, the cap
// counter increment and the replenishment row are committed together; a
// crash between them would otherwise break either the pool-size invariant
// or the cap accounting.
func (s *Service) revokeLicense(ctx context.Context, plan *SubscriptionPlan, lic *License) (*RevocationResult, error) {
	originalStatus := lic.Status

	switch originalStatus {
	case Assigned, Activated:
	default:
		return nil, errutil.UnprocessableEntity(
			fmt.Sprintf("cannot revoke license in state %s", originalStatus), nil)
	}

	// Only activated revocations consume cap headroom: a learner who never
	// activated incurred no enrollment cost.
	capReached := false
	if originalStatus == Activated && plan.IsRevocationCapEnabled {
		remaining, err := s.NumRevocationsRemaining(ctx, plan)
		if err != nil {
			return nil, errutil.Internal("failed to compute revocation headroom", err)
		}
		if remaining <= 0 {
			return nil, errutil.Exhausted("revocation limit reached for this plan", nil,
				errutil.WithDetails(
					errutil.Detail{Field: "num_revocations_applied", Message: fmt.Sprint(plan.NumRevocationsApplied)},
				))
		}
		capReached = remaining == 1
	}

	now := time.Now().UTC()

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if originalStatus == Activated && plan.IsRevocationCapEnabled {
			plan.NumRevocationsApplied++
			if err := tx.Model(&SubscriptionPlan{}).Where("id = ?", plan.ID).
				Update("num_revocations_applied", plan.NumRevocationsApplied).Error; err != nil {
				return err
			}
		}

		lic.Status = Revoked
		lic.RevokedDate = &now
		if err := tx.Save(lic).Error; err != nil {
			return err
		}

		// Pool replenishment: the revoked row leaves the pool count, the
		// fresh UNASSIGNED row restores it, so num_licenses is unchanged.
		return s.licenses.WithTrx(tx).Create(ctx, NewUnassignedLicense(plan.ID))
	}); err != nil {
		return nil, errutil.Internal("failed to revoke license", err)
	}

	zap.L().Info("license revoked",
		zap.String("plan_id", plan.ID),
		zap.String("license_id", lic.ID),
		zap.String("original_status", originalStatus.String()))

	return &RevocationResult{License: lic, OriginalStatus: originalStatus, CapReached: capReached}, nil
}

func (s *Service) fireRevocationSideEffects(ctx context.Context, plan *SubscriptionPlan, results []*RevocationResult) {
	agreement, err := s.GetAgreement(ctx, plan.AgreementID)
	if err != nil {
		zap.L().Error("failed to load agreement for revocation side effects",
			zap.String("plan_id", plan.ID), zap.Error(err))
		return
	}

	capReached := false
	for _, r := range results {
		if r.OriginalStatus == Activated && r.License.UserEmail != nil {
			s.outbox.RevokeEnrollments(ctx, agreement.EnterpriseCustomerUUID, r.License.ID, *r.License.UserEmail)
		}
		s.outbox.TrackEvent(ctx, EventLicenseRevoked, r.License.ID, TrackingProperties(plan, r.License))
		capReached = capReached || r.CapReached
	}

	// One-time-per-crossing signal, even when a batch crosses the cap.
	if capReached {
		s.outbox.NotifyCapReached(ctx, plan.ID)
	}
}

// RevokeAll revokes every assigned or activated license in the plan. Only
// defined for uncapped plans: cap semantics assume case-by-case accounting.
func (s *Service) RevokeAll(ctx context.Context, planID string) (int, error) {
	plan, err := s.GetPlan(ctx, planID)
	if err != nil {
		return 0, err
	}

	if plan.IsRevocationCapEnabled {
		return 0, errutil.UnprocessableEntity("cannot revoke all licenses while the revocation cap is enabled", nil)
	}

	eligible, err := s.licenses.Find(ctx, &License{SubscriptionPlanID: plan.ID},
		option.In("status", []LicenseStatus{Assigned, Activated}),
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "asc", Allow: map[string]bool{"id": true}}),
	)
	if err != nil {
		return 0, errutil.Internal("failed to query licenses", err)
	}

	results := make([]*RevocationResult, 0, len(eligible))
	for _, lic := range eligible {
		result, err := s.revokeLicense(ctx, plan, lic)
		if err != nil {
			return len(results), err
		}
		results = append(results, result)
	}

	s.fireRevocationSideEffects(ctx, plan, results)

	return len(results), nil
}
