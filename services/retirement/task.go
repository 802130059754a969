package retirement

import (
	"context"

	"github.com/hibiken/asynq"
)

func HandleRetirementRun(svc *Service) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		_, err := svc.RetireOldLicenses(ctx)
		return err
	}
}
