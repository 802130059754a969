package subscriptions

import (
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type LicenseStatus string

// 'unassigned', 'assigned', 'activated', 'revoked'
var (
	Unassigned LicenseStatus = "unassigned"
	Assigned   LicenseStatus = "assigned"
	Activated  LicenseStatus = "activated"
	Revoked    LicenseStatus = "revoked"
)

func (s LicenseStatus) String() string {
	switch s {
	case Unassigned, Assigned, Activated, Revoked:
		return string(s)
	default:
		return ""
	}
}

type LicenseTypesToCopy string

// which license states a renewal carries into the future plan
var (
	CopyNothing              LicenseTypesToCopy = "nothing"
	CopyActivated            LicenseTypesToCopy = "activated"
	CopyAssignedAndActivated LicenseTypesToCopy = "assigned_and_activated"
)

// CustomerAgreement groups the subscription plans of one enterprise
// customer and carries the auto-scaling and notification configuration the
// batch jobs consume.
type CustomerAgreement struct {
	ID                       string     `gorm:"column:id;primaryKey"`
	EnterpriseCustomerUUID   string     `gorm:"column:enterprise_customer_uuid;index;not null"`
	EnterpriseCustomerSlug   string     `gorm:"column:enterprise_customer_slug;index"`
	EnterpriseCustomerName   string     `gorm:"column:enterprise_customer_name"`
	DefaultCatalogUUID       string     `gorm:"column:default_enterprise_catalog_uuid"`
	DisableOnboardingNotices bool       `gorm:"column:disable_onboarding_notifications;default:false"`
	LicenseDurationBeforePurgeDays int  `gorm:"column:license_duration_before_purge_days;default:90"`

	EnableAutoScaling     bool `gorm:"column:enable_auto_scaling;default:false"`
	AutoScalingMaxLicenses int `gorm:"column:auto_scaling_max_licenses;default:0"`
	AutoScalingThresholdPercentage int `gorm:"column:auto_scaling_threshold_percentage;default:0"`
	AutoScalingIncrementPercentage int `gorm:"column:auto_scaling_increment_percentage;default:0"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`

	// Relations
	Plans []SubscriptionPlan `gorm:"foreignKey:AgreementID;constraint:OnDelete:CASCADE"`
}

func (CustomerAgreement) TableName() string { return "customer_agreements" }

type SubscriptionPlan struct {
	ID          string    `gorm:"column:id;primaryKey"`
	Title       string    `gorm:"column:title;not null"`
	AgreementID string    `gorm:"column:agreement_id;index;not null"`
	StartDate   time.Time `gorm:"column:start_date;not null"`
	ExpirationDate time.Time `gorm:"column:expiration_date;not null"`
	IsActive    bool      `gorm:"column:is_active;default:false"`
	ExpirationProcessed bool `gorm:"column:expiration_processed;default:false"`

	IsRevocationCapEnabled  bool `gorm:"column:is_revocation_cap_enabled;default:false"`
	RevokeMaxPercentage     int  `gorm:"column:revoke_max_percentage;default:5"`
	NumRevocationsApplied   int  `gorm:"column:num_revocations_applied;default:0"`

	EnterpriseCatalogUUID string `gorm:"column:enterprise_catalog_uuid;index"`
	SalesforceOpportunityLineItem string `gorm:"column:salesforce_opportunity_line_item"`
	NetsuiteProductID     string `gorm:"column:netsuite_product_id"`
	ForInternalUseOnly    bool   `gorm:"column:for_internal_use_only;default:false"`
	DesiredNumLicenses    int    `gorm:"column:desired_num_licenses;default:0"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`

	// Relations
	Agreement *CustomerAgreement `gorm:"foreignKey:AgreementID;references:ID"`
	Licenses  []License          `gorm:"foreignKey:SubscriptionPlanID;constraint:OnDelete:CASCADE"`
}

func (SubscriptionPlan) TableName() string { return "subscription_plans" }

// IsCurrent reports whether today falls inside the plan's date window.
func (p *SubscriptionPlan) IsCurrent(now time.Time) bool {
	return p.IsActive && !now.Before(p.StartDate) && !now.After(p.ExpirationDate)
}

// RevocationCap is the maximum number of activated-license revocations the
// plan permits for a pool of numLicenses. Ceiling division rounds in the
// customer's favor.
func (p *SubscriptionPlan) RevocationCap(numLicenses int64) int {
	return int(math.Ceil(float64(numLicenses) * float64(p.RevokeMaxPercentage) / 100))
}

type License struct {
	ID                 string        `gorm:"column:id;primaryKey"`
	SubscriptionPlanID string        `gorm:"column:subscription_plan_id;index:idx_licenses_plan_status;not null"`
	Status             LicenseStatus `gorm:"column:status;index:idx_licenses_plan_status;not null;default:'unassigned'"`

	UserEmail     *string    `gorm:"column:user_email;index"`
	LmsUserID     *int64     `gorm:"column:lms_user_id;index"`
	ActivationKey *string    `gorm:"column:activation_key"`

	AssignedDate   *time.Time `gorm:"column:assigned_date"`
	ActivationDate *time.Time `gorm:"column:activation_date"`
	RevokedDate    *time.Time `gorm:"column:revoked_date"`
	LastRemindDate *time.Time `gorm:"column:last_remind_date"`

	// RenewedToID links a license to its successor in the renewed plan.
	RenewedToID *string `gorm:"column:renewed_to_id;index"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`

	// Relations
	SubscriptionPlan *SubscriptionPlan `gorm:"foreignKey:SubscriptionPlanID;references:ID"`
	RenewedTo        *License          `gorm:"foreignKey:RenewedToID;references:ID"`
}

func (License) TableName() string { return "licenses" }

// NewUnassignedLicense returns a fresh pool row for a plan.
func NewUnassignedLicense(planID string) *License {
	return &License{
		ID:                 uuid.NewString(),
		SubscriptionPlanID: planID,
		Status:             Unassigned,
	}
}

// ResetToUnassigned clears every identity and lifecycle field while keeping
// the row UUID stable. Used when recycling a revoked row and by retirement.
func (l *License) ResetToUnassigned() {
	l.Status = Unassigned
	l.UserEmail = nil
	l.LmsUserID = nil
	l.ActivationKey = nil
	l.AssignedDate = nil
	l.ActivationDate = nil
	l.RevokedDate = nil
	l.LastRemindDate = nil
}

type SubscriptionPlanRenewal struct {
	ID                    string             `gorm:"column:id;primaryKey"`
	PriorPlanID           string             `gorm:"column:prior_plan_id;index;not null"`
	RenewedPlanID         *string            `gorm:"column:renewed_plan_id;index"`
	NumberOfLicenses      int                `gorm:"column:number_of_licenses;not null"`
	LicenseTypesToCopy    LicenseTypesToCopy `gorm:"column:license_types_to_copy;not null;default:'assigned_and_activated'"`
	EffectiveDate         time.Time          `gorm:"column:effective_date;not null"`
	RenewedExpirationDate time.Time          `gorm:"column:renewed_expiration_date;not null"`
	RenewedPlanTitle      string             `gorm:"column:renewed_plan_title"`
	Processed             bool               `gorm:"column:processed;default:false"`
	ProcessedDatetime     *time.Time         `gorm:"column:processed_datetime"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`

	// Relations
	PriorPlan   *SubscriptionPlan `gorm:"foreignKey:PriorPlanID;references:ID"`
	RenewedPlan *SubscriptionPlan `gorm:"foreignKey:RenewedPlanID;references:ID"`
}

func (SubscriptionPlanRenewal) TableName() string { return "subscription_plan_renewals" }

// Migrate creates the schema plus the partial unique indexes that back the
// per-plan email and lms-user uniqueness of non-revoked licenses.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&CustomerAgreement{},
		&SubscriptionPlan{},
		&License{},
		&SubscriptionPlanRenewal{},
	); err != nil {
		return err
	}

	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uniq_licenses_plan_email
		ON licenses (subscription_plan_id, user_email)
		WHERE status <> 'revoked' AND user_email IS NOT NULL`).Error; err != nil {
		return err
	}

	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uniq_licenses_plan_lms_user
		ON licenses (subscription_plan_id, lms_user_id)
		WHERE status <> 'revoked' AND lms_user_id IS NOT NULL`).Error
}
