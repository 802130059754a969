package asynq

// NotifyAssignmentPayload carries the fan-out for assignment emails after a
// successful allocation commit.
type NotifyAssignmentPayload struct {
	PlanID        string   `json:"plan_id"`
	Emails        []string `json:"emails"`
	CustomMessage string   `json:"custom_message,omitempty"`
}

type NotifyReminderPayload struct {
	PlanID string   `json:"plan_id"`
	Emails []string `json:"emails"`
}

type NotifyOnboardingPayload struct {
	AgreementID string `json:"agreement_id"`
	Email       string `json:"email"`
}

type LinkLearnersPayload struct {
	EnterpriseID string   `json:"enterprise_id"`
	Emails       []string `json:"emails"`
}

type RevokeEnrollmentsPayload struct {
	EnterpriseID string `json:"enterprise_id"`
	LicenseID    string `json:"license_id"`
	Email        string `json:"email"`
}

type CapReachedPayload struct {
	PlanID string `json:"plan_id"`
}

type ProcessRenewalPayload struct {
	RenewalID string `json:"renewal_id"`
}

type AutoScalePayload struct {
	AgreementID string `json:"agreement_id"`
}

type TrackEventPayload struct {
	EventName  string            `json:"event_name"`
	LicenseID  string            `json:"license_id"`
	Properties map[string]string `json:"properties,omitempty"`
}
