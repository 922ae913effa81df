package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixed_AlwaysReturnsSameInstant(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f := Fixed{At: at}
	assert.Equal(t, at, f.Now())
	assert.Equal(t, at, f.Now())
}

func TestSystem_ReturnsUTC(t *testing.T) {
	now := System{}.Now()
	assert.Equal(t, time.UTC, now.Location())
}

func TestNewID_IsLexicographicallySortableByTime(t *testing.T) {
	early := Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	late := Fixed{At: time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC)}

	a := NewID(early)
	b := NewID(late)
	assert.Less(t, a, b)
}

func TestNewID_NeverCollidesWithinSameMillisecond(t *testing.T) {
	fixed := Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID(fixed)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestStableEnv_ExcludesPerBuildVaryingKeys(t *testing.T) {
	in := map[string]string{
		"BUILD_ID":     "123",
		"BUILD_NUMBER": "45",
		"WORKSPACE":    "/tmp/x",
		"JOB_NAME":     "deploy",
		"REGION":       "us-east-1",
	}
	out := StableEnv(in)
	assert.Equal(t, map[string]string{"REGION": "us-east-1"}, out)
}

func TestFingerprint_IsStableAcrossKeyOrderAndMapEquivalence(t *testing.T) {
	stepsA := []map[string]string{{"name": "build", "command": "make"}}
	envA := map[string]string{"A": "1", "B": "2"}
	envB := map[string]string{"B": "2", "A": "1"}

	fpA, err := Fingerprint("abc123", stepsA, envA)
	require.NoError(t, err)
	fpB, err := Fingerprint("abc123", stepsA, envB)
	require.NoError(t, err)

	assert.Equal(t, fpA, fpB)
}

func TestFingerprint_DiffersWhenGitCommitDiffers(t *testing.T) {
	steps := []map[string]string{{"name": "build"}}
	env := map[string]string{}

	fpA, err := Fingerprint("commit-a", steps, env)
	require.NoError(t, err)
	fpB, err := Fingerprint("commit-b", steps, env)
	require.NoError(t, err)

	assert.NotEqual(t, fpA, fpB)
}

func TestSHA256Hex_IsDeterministic(t *testing.T) {
	a := SHA256Hex([]byte("hello"))
	b := SHA256Hex([]byte("hello"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, SHA256Hex([]byte("world")))
}

func TestCanonicalJSON_SortsMapKeys(t *testing.T) {
	a, err := CanonicalJSON(map[string]any{"z": 1, "a": 2})
	require.NoError(t, err)
	b, err := CanonicalJSON(map[string]any{"a": 2, "z": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, `{"a":2,"z":1}`, string(a))
}
