package retirement

import (
	"context"
	"time"

	"license-controlplane/pkg/config"
	"license-controlplane/pkg/errutil"
	"license-controlplane/services/subscriptions"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// retireBatchSize bounds each scrub pass so a large backlog never runs as
// one unbounded transaction.
const retireBatchSize = 1000

// Service scrubs PII from licenses whose data-retention window has
// elapsed. Rows are reset in place: the license UUID survives, the
// learner's identity does not.
type Service struct {
	db  *gorm.DB
	cfg *config.Config
}

type Params struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config `optional:"true"`
}

func NewService(p Params) *Service {
	return &Service{
		db:  p.DB,
		cfg: p.Config,
	}
}

// RetireOldLicenses walks every agreement and scrubs its out-of-window
// licenses in pk-ordered batches. Returns the number of rows scrubbed.
func (s *Service) RetireOldLicenses(ctx context.Context) (int, error) {
	defaultDays := 90
	if s.cfg != nil && s.cfg.Subscriptions.DefaultDaysBeforePurge > 0 {
		defaultDays = s.cfg.Subscriptions.DefaultDaysBeforePurge
	}

	var agreements []subscriptions.CustomerAgreement
	if err := s.db.WithContext(ctx).Find(&agreements).Error; err != nil {
		return 0, errutil.Internal("failed to query agreements", err)
	}

	total := 0
	for _, agreement := range agreements {
		days := agreement.LicenseDurationBeforePurgeDays
		if days <= 0 {
			days = defaultDays
		}
		cutoff := time.Now().UTC().AddDate(0, 0, -days)

		n, err := s.retireAgreementLicenses(ctx, agreement.ID, cutoff)
		if err != nil {
			return total, err
		}
		total += n
	}

	if total > 0 {
		zap.L().Info("licenses retired", zap.Int("num_retired", total))
	}

	return total, nil
}

func (s *Service) retireAgreementLicenses(ctx context.Context, agreementID string, cutoff time.Time) (int, error) {
	total := 0

	for {
		var batch []subscriptions.License

		// A license exceeds its purge window once it was revoked, or
		// assigned but never activated, before the cutoff, or once its
		// plan expired before the cutoff.
		err := s.db.WithContext(ctx).
			Joins("JOIN subscription_plans ON subscription_plans.id = licenses.subscription_plan_id").
			Where("subscription_plans.agreement_id = ?", agreementID).
			Where(s.db.
				Where("licenses.revoked_date IS NOT NULL AND licenses.revoked_date < ?", cutoff).
				Or("licenses.status = ? AND licenses.assigned_date IS NOT NULL AND licenses.assigned_date < ?", subscriptions.Assigned, cutoff).
				Or("subscription_plans.expiration_date < ?", cutoff)).
			Where("licenses.user_email IS NOT NULL OR licenses.lms_user_id IS NOT NULL").
			Order("licenses.id asc").
			Limit(retireBatchSize).
			Find(&batch).Error
		if err != nil {
			return total, errutil.Internal("failed to query retirable licenses", err)
		}
		if len(batch) == 0 {
			return total, nil
		}

		if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for i := range batch {
				batch[i].ResetToUnassigned()
				if err := tx.Save(&batch[i]).Error; err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return total, errutil.Internal("failed to scrub licenses", err)
		}

		total += len(batch)

		if len(batch) < retireBatchSize {
			return total, nil
		}
	}
}

var Module = fx.Module("retirement", fx.Provide(NewService))
