package taskname

const (
	// Notification tasks
	LicenseNotifyAssignment = "license:notify:assignment"
	LicenseNotifyReminder   = "license:notify:reminder"
	LicenseNotifyOnboarding = "license:notify:onboarding"
	LicenseNotifyCapReached = "license:notify:cap_reached"

	// Enterprise tasks
	EnterpriseLinkLearners      = "enterprise:link:pending_learners"
	EnterpriseRevokeEnrollments = "enterprise:revoke:enrollments"

	// Lifecycle batch tasks
	SubscriptionProcessRenewal = "subscription:renewal:process"
	SubscriptionAutoScale      = "subscription:autoscale:run"
	LicenseRetirementRun       = "license:retirement:run"
	LicenseReminderRun         = "license:reminder:run"

	// Analytics tasks
	LicenseTrackEvent = "license:track:event"
)
