package locking

import (
	"context"
	"errors"
	"time"

	"license-controlplane/pkg/config"
	"license-controlplane/pkg/rediskey"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrLockHeld is returned when the plan lock is already held by another
// request. Callers surface it without mutating any state.
var ErrLockHeld = errors.New("lock already held")

var Module = fx.Module("locking", fx.Provide(NewPlanLocker))

// PlanLocker is a non-blocking per-plan mutex. Acquire either takes the
// lock immediately or fails; there is no queueing.
type PlanLocker interface {
	Acquire(ctx context.Context, planID string) (release func(), err error)
}

type planLocker struct {
	redis *redis.Client
	ttl   time.Duration
}

type PlanLockerParams struct {
	fx.In
	Redis  *redis.Client
	Config *config.Config `optional:"true"`
}

func NewPlanLocker(p PlanLockerParams) PlanLocker {
	ttl := 60 * time.Second
	if p.Config != nil && p.Config.Subscriptions.AssignmentLockTTLSeconds > 0 {
		ttl = time.Duration(p.Config.Subscriptions.AssignmentLockTTLSeconds) * time.Second
	}
	return &planLocker{redis: p.Redis, ttl: ttl}
}

// releaseScript deletes the lock only when it still holds our token, so an
// expired lock reacquired by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *planLocker) Acquire(ctx context.Context, planID string) (func(), error) {
	key := rediskey.BuildPlanLockKey(planID)
	token := uuid.NewString()

	ok, err := l.redis.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}

	release := func() {
		if _, err := releaseScript.Run(context.Background(), l.redis, []string{key}, token).Result(); err != nil {
			zap.L().Warn("failed to release plan lock", zap.String("plan_id", planID), zap.Error(err))
		}
	}

	return release, nil
}
