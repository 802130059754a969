package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"license-controlplane/pkg/config"
	"license-controlplane/pkg/errutil"
	"license-controlplane/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const containsContentCacheTTL = time.Hour

// Service asks the enterprise-catalog system whether a catalog covers
// given content. It sits outside the lifecycle state machine and only
// validates coverage before a subsidy is advertised.
type Service struct {
	baseURL string
	http    *http.Client
	redis   *redis.Client
}

type Params struct {
	fx.In
	Config *config.Config
	Redis  *redis.Client `optional:"true"`
}

func NewService(p Params) *Service {
	return &Service{
		baseURL: strings.TrimRight(p.Config.Catalog.BaseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		redis:   p.Redis,
	}
}

type containsContentResponse struct {
	ContainsContentItems bool `json:"contains_content_items"`
}

// ContainsContent reports whether the catalog contains every one of the
// content keys. Results are cached for an hour keyed by the sorted key set.
func (s *Service) ContainsContent(ctx context.Context, catalogUUID string, contentKeys []string) (bool, error) {
	if len(contentKeys) == 0 {
		return false, errutil.ValidationFailed("no content keys provided", nil)
	}

	cacheKey := rediskey.BuildContainsContentKey(catalogUUID, contentKeys)
	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, cacheKey).Result(); err == nil {
			return cached == "1", nil
		}
	}

	query := url.Values{}
	for _, key := range contentKeys {
		query.Add("course_run_ids", key)
	}

	endpoint := fmt.Sprintf("%s/api/v1/enterprise-catalogs/%s/contains_content_items/?%s",
		s.baseURL, catalogUUID, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, errutil.Internal("failed to build catalog request", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return false, errutil.BadGateway("catalog service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, errutil.BadGateway(
			fmt.Sprintf("catalog service returned status %d", resp.StatusCode), nil)
	}

	var body containsContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, errutil.BadGateway("failed to decode catalog response", err)
	}

	if s.redis != nil {
		value := "0"
		if body.ContainsContentItems {
			value = "1"
		}
		if err := s.redis.Set(ctx, cacheKey, value, containsContentCacheTTL).Err(); err != nil {
			zap.L().Warn("failed to cache contains-content result", zap.Error(err))
		}
	}

	return body.ContainsContentItems, nil
}

var Module = fx.Module("catalog", fx.Provide(NewService))
