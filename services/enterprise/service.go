package enterprise

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

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Service is the client for the enterprise system of record: it links
// pending learners to their enterprise and cancels course enrollments when
// a license is revoked. Both calls are best-effort and idempotent on the
// remote side.
type Service struct {
	baseURL string
	http    *http.Client
}

type Params struct {
	fx.In
	Config *config.Config
}

func NewService(p Params) *Service {
	return &Service{
		baseURL: strings.TrimRight(p.Config.Enterprise.BaseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *Service) post(ctx context.Context, endpoint string, payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return errutil.Internal("failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return errutil.Internal("failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return errutil.BadGateway("enterprise service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return errutil.BadGateway(
			fmt.Sprintf("enterprise service returned status %d", resp.StatusCode), nil)
	}

	return nil
}

// LinkPendingLearners registers newly assigned emails with the enterprise
// so their accounts attach on first login.
func (s *Service) LinkPendingLearners(ctx context.Context, enterpriseID string, emails []string) error {
	endpoint := fmt.Sprintf("%s/enterprise/api/v1/enterprise-customer/%s/link_pending_learners/",
		s.baseURL, enterpriseID)

	if err := s.post(ctx, endpoint, map[string]interface{}{"user_emails": emails}); err != nil {
		return err
	}

	zap.L().Info("pending learners linked",
		zap.String("enterprise_id", enterpriseID),
		zap.Int("num_learners", len(emails)))

	return nil
}

// RevokeEnrollments cancels the learner's course enrollments tied to a
// revoked license.
func (s *Service) RevokeEnrollments(ctx context.Context, enterpriseID, email string) error {
	endpoint := fmt.Sprintf("%s/enterprise/api/v1/enterprise-customer/%s/revoke_enrollments/",
		s.baseURL, enterpriseID)

	return s.post(ctx, endpoint, map[string]interface{}{"user_email": email})
}

var Module = fx.Module("enterprise", fx.Provide(NewService))
