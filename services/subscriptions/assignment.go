package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"license-controlplane/pkg/db/option"
	"license-controlplane/pkg/errutil"
	"license-controlplane/pkg/locking"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type AssignRequest struct {
	Emails        []string
	CustomMessage string
	// NotifyUsers opts into the assignment email. The agreement-level
	// onboarding switch can still suppress it.
	NotifyUsers bool
}

type AssignResult struct {
	NumAssigned             int
	NumAlreadyAssociated    int
	AlreadyAssociatedEmails []string
	// ActivationLinks maps each newly assigned email to its activation URL.
	ActivationLinks map[string]string
}

// Assign binds each email to a license in the plan's pool. The whole
// request succeeds or fails as a unit: if the pool cannot cover every new
// email, nothing is assigned.
func (s *Service) Assign(ctx context.Context, planID string, req AssignRequest) (*AssignResult, error) {
	plan, err := s.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	emails := dedupeEmails(req.Emails)
	if len(emails) == 0 {
		return nil, errutil.ValidationFailed("no emails provided", nil)
	}

	// Loaded up front for the activation links and the onboarding gate. A
	// failure here precedes any mutation; a failure after the commit would
	// report a completed assignment as failed.
	agreement, err := s.GetAgreement(ctx, plan.AgreementID)
	if err != nil {
		return nil, err
	}

	// Assignment is the only read-then-reserve path over the shared pool,
	// so it runs under the plan mutex. Acquisition never blocks; a held
	// lock surfaces as a retryable "locked" failure with no mutation.
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, plan.ID)
		if err != nil {
			if errors.Is(err, locking.ErrLockHeld) {
				return nil, errutil.Locked("another assignment is in progress for this plan", err)
			}
			return nil, errutil.Internal("failed to acquire plan lock", err)
		}
		defer release()
	}

	// Partition: already bound to a live row, bound to a revoked row
	// (recyclable), or unbound.
	existing, err := s.licenses.Find(ctx, &License{SubscriptionPlanID: plan.ID},
		option.In("user_email", emails),
	)
	if err != nil {
		return nil, errutil.Internal("failed to query existing licenses", err)
	}

	alreadyAssociated := make(map[string]bool)
	recyclable := make(map[string]*License)
	for _, lic := range existing {
		if lic.UserEmail == nil {
			continue
		}
		email := *lic.UserEmail
		if lic.Status != Revoked {
			alreadyAssociated[email] = true
		} else if _, ok := recyclable[email]; !ok {
			recyclable[email] = lic
		}
	}

	var toRecycle, toAssign []string
	for _, email := range emails {
		switch {
		case alreadyAssociated[email]:
		case recyclable[email] != nil:
			toRecycle = append(toRecycle, email)
		default:
			toAssign = append(toAssign, email)
		}
	}

	// All-or-nothing capacity check: recycled emails consume their own
	// revoked slot, every other email needs an unassigned row.
	unassignedCount, err := s.UnassignedLicenseCount(ctx, plan.ID)
	if err != nil {
		return nil, errutil.Internal("failed to count unassigned licenses", err)
	}
	if int64(len(toAssign)) > unassignedCount {
		return nil, errutil.Exhausted(
			fmt.Sprintf("not enough licenses: %d requested, %d available", len(toAssign), unassignedCount),
			nil,
			errutil.WithDetails(
				errutil.Detail{Field: "requested", Message: fmt.Sprint(len(toAssign))},
				errutil.Detail{Field: "available", Message: fmt.Sprint(unassignedCount)},
			),
		)
	}

	assigned := make([]*License, 0, len(toRecycle)+len(toAssign))

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		// Recycle revoked rows for returning emails: the same row UUID is
		// reset and rebound so the learner keeps a stable license identity.
		for _, email := range toRecycle {
			lic := recyclable[email]
			lic.ResetToUnassigned()
			assignLicense(lic, email, now)
			if err := tx.Save(lic).Error; err != nil {
				return err
			}
			assigned = append(assigned, lic)
		}

		pool, err := s.unassignedRows(ctx, tx, plan.ID, len(toAssign))
		if err != nil {
			return err
		}
		if len(pool) < len(toAssign) {
			return gorm.ErrInvalidData
		}

		for i, email := range toAssign {
			lic := pool[i]
			assignLicense(lic, email, now)
			if err := tx.Save(lic).Error; err != nil {
				return err
			}
			assigned = append(assigned, lic)
		}

		return nil
	}); err != nil {
		return nil, errutil.Internal("failed to assign licenses", err)
	}

	result := &AssignResult{
		NumAssigned:          len(assigned),
		NumAlreadyAssociated: len(alreadyAssociated),
		ActivationLinks:      make(map[string]string, len(assigned)),
	}
	for email := range alreadyAssociated {
		result.AlreadyAssociatedEmails = append(result.AlreadyAssociatedEmails, email)
	}

	assignedEmails := make([]string, 0, len(assigned))
	for _, lic := range assigned {
		assignedEmails = append(assignedEmails, *lic.UserEmail)
		result.ActivationLinks[*lic.UserEmail] = s.ActivationLink(agreement, *lic.ActivationKey)
		s.outbox.TrackEvent(ctx, EventLicenseAssigned, lic.ID, TrackingProperties(plan, lic))
	}

	// Post-commit side effects only; none of these can unwind the
	// assignment.
	if len(assignedEmails) > 0 {
		s.outbox.LinkPendingLearners(ctx, agreement.EnterpriseCustomerUUID, assignedEmails)

		if req.NotifyUsers && !agreement.DisableOnboardingNotices {
			s.outbox.NotifyAssignment(ctx, plan.ID, assignedEmails, req.CustomMessage)
		}
	}

	zap.L().Info("licenses assigned",
		zap.String("plan_id", plan.ID),
		zap.Int("num_assigned", result.NumAssigned),
		zap.Int("num_already_associated", result.NumAlreadyAssociated))

	return result, nil
}

// Activate transitions an ASSIGNED license to ACTIVATED for the learner
// presenting its activation key. Re-activating an already ACTIVATED license
// with the same key is a no-op success.
func (s *Service) Activate(ctx context.Context, activationKey, email string, lmsUserID int64) (*License, error) {
	if _, err := uuid.Parse(activationKey); err != nil {
		return nil, errutil.ValidationFailed("malformed activation key", err)
	}

	email = strings.ToLower(strings.TrimSpace(email))

	key := activationKey
	lic, err := s.licenses.FindOne(ctx, &License{ActivationKey: &key, UserEmail: &email})
	if err != nil {
		return nil, errutil.Internal("failed to query license", err)
	}
	if lic == nil {
		return nil, errutil.NotFound("no license found for activation key", nil)
	}

	plan, err := s.GetPlan(ctx, lic.SubscriptionPlanID)
	if err != nil {
		return nil, err
	}
	if !plan.IsCurrent(time.Now().UTC()) {
		return nil, errutil.UnprocessableEntity("the subscription plan is not currently active", nil)
	}

	switch lic.Status {
	case Activated:
		return lic, nil
	case Assigned:
	default:
		return nil, errutil.UnprocessableEntity(
			fmt.Sprintf("cannot activate license in state %s", lic.Status), nil)
	}

	now := time.Now().UTC()
	lic.Status = Activated
	lic.LmsUserID = &lmsUserID
	lic.ActivationDate = &now

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(lic).Error; err != nil {
			return err
		}
		return s.resetDuplicateLicenses(ctx, tx, lic)
	}); err != nil {
		return nil, errutil.Internal("failed to activate license", err)
	}

	agreement, err := s.GetAgreement(ctx, plan.AgreementID)
	if err != nil {
		return nil, err
	}

	if !agreement.DisableOnboardingNotices {
		s.outbox.NotifyOnboarding(ctx, agreement.ID, email)
	}
	s.outbox.TrackEvent(ctx, EventLicenseActivated, lic.ID, TrackingProperties(plan, lic))

	return lic, nil
}

// resetDuplicateLicenses releases any other non-revoked rows the email
// still holds in the same plan, keeping only the activated one.
func (s *Service) resetDuplicateLicenses(ctx context.Context, tx *gorm.DB, keep *License) error {
	others, err := s.licenses.WithTrx(tx).Find(ctx, &License{
		SubscriptionPlanID: keep.SubscriptionPlanID,
		UserEmail:          keep.UserEmail,
	})
	if err != nil {
		return err
	}

	for _, other := range others {
		if other.ID == keep.ID || other.Status == Revoked {
			continue
		}

		other.ResetToUnassigned()
		if err := tx.Save(other).Error; err != nil {
			return err
		}
	}

	return nil
}

func assignLicense(lic *License, email string, now time.Time) {
	key := uuid.NewString()
	lic.Status = Assigned
	lic.UserEmail = &email
	lic.ActivationKey = &key
	lic.AssignedDate = &now
	lic.ActivationDate = nil
}

// dedupeEmails lower-cases and de-duplicates while preserving first-seen
// order, so allocation order follows the request.
func dedupeEmails(emails []string) []string {
	seen := make(map[string]bool, len(emails))
	out := make([]string, 0, len(emails))

	for _, email := range emails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true
		out = append(out, email)
	}

	return out
}
