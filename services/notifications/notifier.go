package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"license-controlplane/pkg/config"
	"license-controlplane/pkg/errutil"

	"go.uber.org/zap"
)

// Notifier is the transactional mail vendor contract. The implementation
// is chosen once at startup from config rather than branched on per call.
type Notifier interface {
	SendAssignmentEmail(ctx context.Context, recipients []Recipient, customMessage string) error
	SendReminderEmail(ctx context.Context, recipients []Recipient) error
	SendOnboardingEmail(ctx context.Context, email string) error
	SendRevocationCapNotice(ctx context.Context, planTitle string) error
}

// Recipient pairs an address with its personalised activation link.
type Recipient struct {
	Email          string `json:"email"`
	ActivationLink string `json:"activation_link,omitempty"`
}

// NewNotifier selects the vendor implementation from config. Unknown or
// empty values fall back to a logging no-op so environments without mail
// credentials still run.
func NewNotifier(cfg *config.Config) Notifier {
	client := &http.Client{Timeout: 15 * time.Second}
	base := strings.TrimRight(cfg.Mail.BaseURL, "/")

	switch strings.ToLower(cfg.Mail.Service) {
	case "braze":
		return &brazeNotifier{http: client, baseURL: base, apiKey: cfg.Mail.APIKey, senderAlias: cfg.Mail.SenderAlias}
	case "mailchimp":
		return &mailchimpNotifier{http: client, baseURL: base, apiKey: cfg.Mail.APIKey, senderAlias: cfg.Mail.SenderAlias}
	default:
		zap.L().Warn("no transactional mail service configured, emails disabled")
		return &nopNotifier{}
	}
}

type brazeNotifier struct {
	http        *http.Client
	baseURL     string
	apiKey      string
	senderAlias string
}

const (
	brazeAssignmentCampaign = "license-assignment"
	brazeReminderCampaign   = "license-reminder"
	brazeOnboardingCampaign = "license-onboarding"
	brazeCapNoticeCampaign  = "revocation-cap-reached"
)

func (b *brazeNotifier) trigger(ctx context.Context, campaign string, recipients []Recipient, properties map[string]interface{}) error {
	payload := map[string]interface{}{
		"campaign_id":        campaign,
		"recipients":         recipients,
		"trigger_properties": properties,
	}
	if b.senderAlias != "" {
		payload["sender_alias"] = b.senderAlias
	}

	return postJSON(ctx, b.http, b.baseURL+"/campaigns/trigger/send", "Bearer "+b.apiKey, payload)
}

func (b *brazeNotifier) SendAssignmentEmail(ctx context.Context, recipients []Recipient, customMessage string) error {
	return b.trigger(ctx, brazeAssignmentCampaign, recipients, map[string]interface{}{
		"custom_message": customMessage,
	})
}

func (b *brazeNotifier) SendReminderEmail(ctx context.Context, recipients []Recipient) error {
	return b.trigger(ctx, brazeReminderCampaign, recipients, nil)
}

func (b *brazeNotifier) SendOnboardingEmail(ctx context.Context, email string) error {
	return b.trigger(ctx, brazeOnboardingCampaign, []Recipient{{Email: email}}, nil)
}

func (b *brazeNotifier) SendRevocationCapNotice(ctx context.Context, planTitle string) error {
	return b.trigger(ctx, brazeCapNoticeCampaign, nil, map[string]interface{}{
		"subscription_plan": planTitle,
	})
}

type mailchimpNotifier struct {
	http        *http.Client
	baseURL     string
	apiKey      string
	senderAlias string
}

func (m *mailchimpNotifier) send(ctx context.Context, template string, recipients []Recipient, vars map[string]interface{}) error {
	to := make([]map[string]string, 0, len(recipients))
	for _, r := range recipients {
		to = append(to, map[string]string{"email": r.Email})
	}

	payload := map[string]interface{}{
		"key":           m.apiKey,
		"template_name": template,
		"message": map[string]interface{}{
			"from_name":  m.senderAlias,
			"to":         to,
			"merge_vars": vars,
		},
	}

	return postJSON(ctx, m.http, m.baseURL+"/messages/send-template", "", payload)
}

func (m *mailchimpNotifier) SendAssignmentEmail(ctx context.Context, recipients []Recipient, customMessage string) error {
	return m.send(ctx, "license-assignment", recipients, map[string]interface{}{
		"custom_message": customMessage,
		"recipients":     recipients,
	})
}

func (m *mailchimpNotifier) SendReminderEmail(ctx context.Context, recipients []Recipient) error {
	return m.send(ctx, "license-reminder", recipients, map[string]interface{}{
		"recipients": recipients,
	})
}

func (m *mailchimpNotifier) SendOnboardingEmail(ctx context.Context, email string) error {
	return m.send(ctx, "license-onboarding", []Recipient{{Email: email}}, nil)
}

func (m *mailchimpNotifier) SendRevocationCapNotice(ctx context.Context, planTitle string) error {
	return m.send(ctx, "revocation-cap-reached", nil, map[string]interface{}{
		"subscription_plan": planTitle,
	})
}

type nopNotifier struct{}

func (nopNotifier) SendAssignmentEmail(ctx context.Context, recipients []Recipient, customMessage string) error {
	zap.L().Info("assignment email skipped (no mail service)", zap.Int("recipients", len(recipients)))
	return nil
}

func (nopNotifier) SendReminderEmail(ctx context.Context, recipients []Recipient) error {
	zap.L().Info("reminder email skipped (no mail service)", zap.Int("recipients", len(recipients)))
	return nil
}

func (nopNotifier) SendOnboardingEmail(ctx context.Context, email string) error {
	return nil
}

func (nopNotifier) SendRevocationCapNotice(ctx context.Context, planTitle string) error {
	zap.L().Info("revocation cap notice skipped (no mail service)", zap.String("plan", planTitle))
	return nil
}

func postJSON(ctx context.Context, client *http.Client, endpoint, authorization string, payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return errutil.Internal("failed to marshal mail payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return errutil.Internal("failed to build mail request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := client.Do(req)
	if err != nil {
		return errutil.BadGateway("mail service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return errutil.BadGateway(fmt.Sprintf("mail service returned status %d", resp.StatusCode), nil)
	}

	return nil
}
