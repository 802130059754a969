package subscriptions

import (
	"context"
	"time"

	"license-controlplane/pkg/db/option"
	"license-controlplane/pkg/errutil"

	"go.uber.org/zap"
)

// ExpirePlanPostRenewal marks an expired, renewed plan as fully processed
// and emits expiration events for the licenses its renewal left behind.
func (s *Service) ExpirePlanPostRenewal(ctx context.Context, planID string) error {
	plan, err := s.GetPlan(ctx, planID)
	if err != nil {
		return err
	}

	if plan.ExpirationProcessed {
		return errutil.UnprocessableEntity("The plan's expiration is already marked as processed.", nil)
	}
	if time.Now().UTC().Before(plan.ExpirationDate) {
		return errutil.UnprocessableEntity("The plan's expiration date is in the future.", nil)
	}

	renewal, err := s.renewals.FindOne(ctx, &SubscriptionPlanRenewal{PriorPlanID: plan.ID})
	if err != nil {
		return errutil.Internal("failed to query renewal", err)
	}
	if renewal == nil {
		return errutil.UnprocessableEntity("The plan has no associated renewal record.", nil)
	}
	if !renewal.Processed {
		return errutil.UnprocessableEntity("The plan's renewal has not been processed.", nil)
	}

	// Licenses the renewal did not carry forward lose access at the
	// expiration boundary.
	expired, err := s.licenses.Find(ctx, &License{SubscriptionPlanID: plan.ID},
		option.In("status", []LicenseStatus{Assigned, Activated}),
		option.IsNull("renewed_to_id"),
	)
	if err != nil {
		return errutil.Internal("failed to query expired licenses", err)
	}

	plan.ExpirationProcessed = true
	if err := s.plans.Update(ctx, plan.ID, map[string]interface{}{"expiration_processed": true}); err != nil {
		return errutil.Internal("failed to mark plan expiration processed", err)
	}

	for _, lic := range expired {
		s.outbox.TrackEvent(ctx, EventLicenseExpired, lic.ID, TrackingProperties(plan, lic))
	}

	zap.L().Info("plan expiration processed",
		zap.String("plan_id", plan.ID),
		zap.Int("licenses_expired", len(expired)))

	return nil
}
