package rediskey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPlanLockKey(t *testing.T) {
	require.Equal(t, "subscriptions:plan:lock:abc", BuildPlanLockKey("abc"))
}

func TestBuildContainsContentKeyIsOrderInsensitive(t *testing.T) {
	a := BuildContainsContentKey("cat-1", []string{"course-a", "course-b"})
	b := BuildContainsContentKey("cat-1", []string{"course-b", "course-a"})
	require.Equal(t, a, b)

	other := BuildContainsContentKey("cat-1", []string{"course-c"})
	require.NotEqual(t, a, other)
}
