package subscriptions

import (
	"context"
	"fmt"
	"time"

	"license-controlplane/pkg/db/option"
	"license-controlplane/pkg/errutil"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ProcessRenewal consumes a renewal record exactly once: it creates or
// tops up the future plan and carries the selected license state across in
// a single transaction. Any precondition violation aborts with no mutation.
func (s *Service) ProcessRenewal(ctx context.Context, renewalID string) error {
	renewal, err := s.renewals.FindOne(ctx, &SubscriptionPlanRenewal{ID: renewalID})
	if err != nil {
		return errutil.Internal("failed to query renewal", err)
	}
	if renewal == nil {
		return errutil.NotFound("renewal not found", nil)
	}
	if renewal.Processed {
		return errutil.Conflict("the renewal has already been processed", nil)
	}

	priorPlan, err := s.GetPlan(ctx, renewal.PriorPlanID)
	if err != nil {
		return err
	}

	originals, err := s.selectOriginals(ctx, priorPlan.ID, renewal.LicenseTypesToCopy)
	if err != nil {
		return errutil.Internal("failed to query original licenses", err)
	}

	if renewal.NumberOfLicenses < len(originals) {
		return errutil.UnprocessableEntity(
			"Cannot renew for fewer than the number of original activated licenses.", nil,
			errutil.WithDetails(
				errutil.Detail{Field: "number_of_licenses", Message: fmt.Sprint(renewal.NumberOfLicenses)},
				errutil.Detail{Field: "originals", Message: fmt.Sprint(len(originals))},
			))
	}

	var futurePlan *SubscriptionPlan
	if renewal.RenewedPlanID != nil {
		futurePlan, err = s.GetPlan(ctx, *renewal.RenewedPlanID)
		if err != nil {
			return err
		}

		// A pre-seeded target is only mergeable while every row in it is
		// still untouched.
		nonUnassigned, err := s.licenses.Count(ctx, &License{SubscriptionPlanID: futurePlan.ID},
			option.ApplyOperator(option.Condition{Field: "status", Operator: option.NEQ, Value: Unassigned}),
		)
		if err != nil {
			return errutil.Internal("failed to count renewed plan licenses", err)
		}
		if nonUnassigned > 0 {
			return errutil.UnprocessableEntity("there are existing licenses in the renewed plan that are activated", nil)
		}

		existing, err := s.licenses.Count(ctx, &License{SubscriptionPlanID: futurePlan.ID})
		if err != nil {
			return errutil.Internal("failed to count renewed plan licenses", err)
		}
		if existing > int64(renewal.NumberOfLicenses) {
			return errutil.UnprocessableEntity("More licenses exist than were requested to be renewed", nil)
		}
	}

	now := time.Now().UTC()

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if futurePlan == nil {
			futurePlan = s.buildRenewedPlan(priorPlan, renewal)
			if err := s.plans.WithTrx(tx).Create(ctx, futurePlan); err != nil {
				return err
			}
			renewal.RenewedPlanID = &futurePlan.ID
		}

		existing, err := s.licenses.WithTrx(tx).Count(ctx, &License{SubscriptionPlanID: futurePlan.ID})
		if err != nil {
			return err
		}
		if err := s.IncreaseNumLicenses(ctx, tx, futurePlan.ID, renewal.NumberOfLicenses-int(existing)); err != nil {
			return err
		}

		futures, err := s.unassignedRows(ctx, tx, futurePlan.ID, len(originals))
		if err != nil {
			return err
		}
		if len(futures) < len(originals) {
			return gorm.ErrInvalidData
		}

		// Stable ascending-UUID pairing on both sides keeps repeated runs
		// reproducible.
		for i, original := range originals {
			future := futures[i]
			future.Status = original.Status
			future.UserEmail = original.UserEmail
			future.LmsUserID = original.LmsUserID
			future.AssignedDate = &now

			if original.Status == Assigned {
				key := uuid.NewString()
				future.ActivationKey = &key
			}
			if original.Status == Activated {
				// Continuity of "when access began": the activation clock
				// restarts at the renewed plan's start, not at transfer time.
				start := futurePlan.StartDate
				future.ActivationDate = &start
				future.ActivationKey = original.ActivationKey
			}

			if err := tx.Save(future).Error; err != nil {
				return err
			}

			original.RenewedToID = &future.ID
			if err := tx.Save(original).Error; err != nil {
				return err
			}
		}

		renewal.Processed = true
		renewal.ProcessedDatetime = &now
		return tx.Save(renewal).Error
	}); err != nil {
		return errutil.Internal("failed to process renewal", err)
	}

	for _, original := range originals {
		s.outbox.TrackEvent(ctx, EventLicenseRenewed, original.ID, TrackingProperties(priorPlan, original))
	}

	zap.L().Info("renewal processed",
		zap.String("renewal_id", renewal.ID),
		zap.String("prior_plan_id", priorPlan.ID),
		zap.Stringp("renewed_plan_id", renewal.RenewedPlanID),
		zap.Int("licenses_transferred", len(originals)))

	return nil
}

// UnprocessedRenewalIDsWithin lists renewals whose effective date falls
// inside the upcoming window, for the scheduled processor to consume.
func (s *Service) UnprocessedRenewalIDsWithin(ctx context.Context, window time.Duration) ([]string, error) {
	renewals, err := s.renewals.Find(ctx, &SubscriptionPlanRenewal{},
		option.ApplyOperator(option.Condition{Field: "processed", Operator: option.EQ, Value: false}),
		option.ApplyOperator(option.Condition{Field: "effective_date", Operator: option.LTE, Value: time.Now().UTC().Add(window)}),
	)
	if err != nil {
		return nil, errutil.Internal("failed to query renewals", err)
	}

	ids := make([]string, 0, len(renewals))
	for _, r := range renewals {
		ids = append(ids, r.ID)
	}

	return ids, nil
}

func (s *Service) selectOriginals(ctx context.Context, planID string, copyTypes LicenseTypesToCopy) ([]*License, error) {
	var statuses []LicenseStatus
	switch copyTypes {
	case CopyNothing:
		return nil, nil
	case CopyActivated:
		statuses = []LicenseStatus{Activated}
	default:
		statuses = []LicenseStatus{Assigned, Activated}
	}

	return s.licenses.Find(ctx, &License{SubscriptionPlanID: planID},
		option.In("status", statuses),
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "asc", Allow: map[string]bool{"id": true}}),
	)
}

func (s *Service) buildRenewedPlan(prior *SubscriptionPlan, renewal *SubscriptionPlanRenewal) *SubscriptionPlan {
	title := renewal.RenewedPlanTitle
	if title == "" {
		title = fmt.Sprintf("%s - Renewal %d", prior.Title, renewal.EffectiveDate.Year())
	}

	return &SubscriptionPlan{
		ID:                     uuid.NewString(),
		Title:                  title,
		AgreementID:            prior.AgreementID,
		StartDate:              renewal.EffectiveDate,
		ExpirationDate:         renewal.RenewedExpirationDate,
		IsActive:               prior.IsActive,
		EnterpriseCatalogUUID:  prior.EnterpriseCatalogUUID,
		NetsuiteProductID:      prior.NetsuiteProductID,
		ForInternalUseOnly:     prior.ForInternalUseOnly,
		IsRevocationCapEnabled: prior.IsRevocationCapEnabled,
		RevokeMaxPercentage:    prior.RevokeMaxPercentage,
		DesiredNumLicenses:     renewal.NumberOfLicenses,
	}
}
