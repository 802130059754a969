package enterprise

import (
	"context"
	"encoding/json"

	asynqtype "license-controlplane/pkg/asynq"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// HandleLinkLearners retries until the enterprise accepts the linkage;
// returning the error lets asynq apply its backoff.
func HandleLinkLearners(svc *Service) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload asynqtype.LinkLearnersPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return err
		}

		return svc.LinkPendingLearners(ctx, payload.EnterpriseID, payload.Emails)
	}
}

func HandleRevokeEnrollments(svc *Service) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload asynqtype.RevokeEnrollmentsPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return err
		}

		if err := svc.RevokeEnrollments(ctx, payload.EnterpriseID, payload.Email); err != nil {
			zap.L().Warn("enrollment revocation failed, will retry",
				zap.String("license_id", payload.LicenseID),
				zap.Error(err))
			return err
		}

		return nil
	}
}
