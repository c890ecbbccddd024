package preflight

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanOnlySkipsAllChecks(t *testing.T) {
	rec := Run(context.Background(), Spec{Mode: ModePlanOnly, LLMAPIKeyEnv: "DOES_NOT_EXIST_VAR"})
	assert.Empty(t, rec.Results)
	assert.True(t, rec.Passed())
}

func TestCheckFailsWhenAPIKeyMissing(t *testing.T) {
	t.Setenv("BLAULICHT_TEST_MISSING_KEY", "")
	rec := Run(context.Background(), Spec{Mode: ModeCheck, LLMAPIKeyEnv: "BLAULICHT_TEST_MISSING_KEY_UNSET"})
	require.Len(t, rec.Results, 1)
	assert.False(t, rec.Results[0].Allowed)
	assert.False(t, rec.Passed())
}

func TestCheckPassesWhenAPIKeyPresent(t *testing.T) {
	t.Setenv("BLAULICHT_TEST_KEY", "secret")
	rec := Run(context.Background(), Spec{Mode: ModeCheck, LLMAPIKeyEnv: "BLAULICHT_TEST_KEY"})
	require.Len(t, rec.Results, 1)
	assert.True(t, rec.Results[0].Allowed)
}

func TestCheckDirWritableCreatesAndCleansUpProbe(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	rec := Run(context.Background(), Spec{Mode: ModeCheck, CacheDir: dir})
	require.Len(t, rec.Results, 1)
	assert.True(t, rec.Results[0].Allowed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "probe file should be removed after the check")
}

func TestCheckLockAcquirableDetectsContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "liveloop.lock")

	rec := Run(context.Background(), Spec{Mode: ModeCheck, LockPath: path})
	require.Len(t, rec.Results, 1)
	assert.True(t, rec.Results[0].Allowed)

	held := flock.New(path)
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Unlock()

	rec = Run(context.Background(), Spec{Mode: ModeCheck, LockPath: path})
	require.Len(t, rec.Results, 1)
	assert.False(t, rec.Results[0].Allowed)
}

func TestRecordPassedFalseOnAnyFailure(t *testing.T) {
	rec := &Record{Results: []CheckResult{{Capability: "a", Allowed: true}, {Capability: "b", Allowed: false}}}
	assert.False(t, rec.Passed())
}
