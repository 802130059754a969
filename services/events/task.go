package events

import (
	"context"
	"encoding/json"

	asynqtype "license-controlplane/pkg/asynq"

	"github.com/hibiken/asynq"
)

// HandleTrackEvent drains the tracking outbox written by the domain
// services after their transactions commit.
func HandleTrackEvent(svc *Service) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload asynqtype.TrackEventPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return err
		}

		svc.Track(ctx, payload.EventName, payload.LicenseID, payload.Properties)
		return nil
	}
}
