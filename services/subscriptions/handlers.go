package subscriptions

import (
	"context"
	"encoding/json"

	asynqtype "license-controlplane/pkg/asynq"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// HandleProcessRenewal consumes one renewal record per task.
func HandleProcessRenewal(svc *Service) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload asynqtype.ProcessRenewalPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return err
		}

		return svc.ProcessRenewal(ctx, payload.RenewalID)
	}
}

// HandleAutoScale runs one control-loop pass per agreement per task.
func HandleAutoScale(svc *Service) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload asynqtype.AutoScalePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return err
		}

		size, err := svc.AutoScaleAgreement(ctx, payload.AgreementID)
		if err != nil {
			return err
		}

		zap.L().Info("auto-scale pass finished",
			zap.String("agreement_id", payload.AgreementID),
			zap.Int64("pool_size", size))

		return nil
	}
}
