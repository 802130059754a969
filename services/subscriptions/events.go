package subscriptions

// License lifecycle event names emitted to tracking and the event bus.
const (
	EventLicenseCreated   = "license-lifecycle.created"
	EventLicenseAssigned  = "license-lifecycle.assigned"
	EventLicenseActivated = "license-lifecycle.activated"
	EventLicenseRevoked   = "license-lifecycle.revoked"
	EventLicenseRenewed   = "license-lifecycle.renewed"
	EventLicenseExpired   = "license-lifecycle.expired"
)

// TrackingProperties flattens the license context sent with every lifecycle
// event.
func TrackingProperties(plan *SubscriptionPlan, lic *License) map[string]string {
	props := map[string]string{
		"license_uuid":           lic.ID,
		"license_status":         lic.Status.String(),
		"subscription_plan_uuid": plan.ID,
		"subscription_plan":      plan.Title,
	}

	if lic.UserEmail != nil {
		props["assigned_email"] = *lic.UserEmail
	}

	return props
}
