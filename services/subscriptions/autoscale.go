package subscriptions

import (
	"context"
	"math"

	"license-controlplane/pkg/errutil"

	"go.uber.org/zap"
)

// AutoScaleAgreement runs one control-loop pass for the agreement's current
// plan: when allocation pressure crosses the configured threshold, the pool
// grows by the configured increment, clamped to the hard maximum. The loop
// keeps no cooldown state; a rerun right after a scale-up is a no-op
// because the fresh headroom puts the plan back above threshold.
func (s *Service) AutoScaleAgreement(ctx context.Context, agreementID string) (int64, error) {
	agreement, err := s.GetAgreement(ctx, agreementID)
	if err != nil {
		return 0, err
	}
	if !agreement.EnableAutoScaling {
		return 0, errutil.UnprocessableEntity("auto-scaling is not enabled for this agreement", nil)
	}

	plan, err := s.CurrentPlan(ctx, agreement.ID)
	if err != nil {
		return 0, errutil.Internal("failed to locate current plan", err)
	}
	if plan == nil {
		return 0, nil
	}

	numLicenses, err := s.NumLicenses(ctx, plan.ID)
	if err != nil {
		return 0, errutil.Internal("failed to count licenses", err)
	}
	if numLicenses == 0 {
		return 0, nil
	}

	numAllocated, err := s.NumAllocatedLicenses(ctx, plan.ID)
	if err != nil {
		return 0, errutil.Internal("failed to count allocated licenses", err)
	}

	unallocatedPercentage := float64(numLicenses-numAllocated) / float64(numLicenses) * 100
	if unallocatedPercentage >= float64(100-agreement.AutoScalingThresholdPercentage) {
		return numLicenses, nil
	}

	increment := int(math.Floor(float64(numLicenses) * float64(agreement.AutoScalingIncrementPercentage) / 100))
	if max := int64(agreement.AutoScalingMaxLicenses); numLicenses+int64(increment) > max {
		increment = int(max - numLicenses)
	}
	if increment <= 0 {
		return numLicenses, nil
	}

	if err := s.IncreaseNumLicenses(ctx, nil, plan.ID, increment); err != nil {
		return numLicenses, err
	}

	zap.L().Info("plan auto-scaled",
		zap.String("agreement_id", agreement.ID),
		zap.String("plan_id", plan.ID),
		zap.Int64("previous_size", numLicenses),
		zap.Int("increment", increment))

	return numLicenses + int64(increment), nil
}

// AutoScalingAgreementIDs lists the agreements with auto-scaling enabled,
// for the scheduled pass to fan out over.
func (s *Service) AutoScalingAgreementIDs(ctx context.Context) ([]string, error) {
	agreements, err := s.agreements.Find(ctx, &CustomerAgreement{EnableAutoScaling: true})
	if err != nil {
		return nil, errutil.Internal("failed to query agreements", err)
	}

	ids := make([]string, 0, len(agreements))
	for _, a := range agreements {
		ids = append(ids, a.ID)
	}

	return ids, nil
}
