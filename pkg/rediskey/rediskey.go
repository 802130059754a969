package rediskey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Key namespaces (global convention across services)
const (
	PlanLockPrefix        = "subscriptions:plan:lock"
	ContainsContentPrefix = "catalog:contains_content"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildPlanLockKey returns "subscriptions:plan:lock:{planID}"
func BuildPlanLockKey(planID string) string {
	return NamespaceKey(PlanLockPrefix, planID)
}

// BuildContainsContentKey returns a cache key for a catalog containment
// check. Content keys are sorted and hashed so the key is stable for the
// same set regardless of request order.
func BuildContainsContentKey(catalogID string, contentKeys []string) string {
	sorted := make([]string, len(contentKeys))
	copy(sorted, contentKeys)
	sort.Strings(sorted)

	sum := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return NamespaceKey(ContainsContentPrefix, fmt.Sprintf("%s:%s", catalogID, hex.EncodeToString(sum[:])))
}
