package workspace

import (
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"mace-freeze/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRunID(t *testing.T) {
	valid := []string{"abc", "run-1", "3f2b6c1e-8c1d-4a55-9a0e-2f6f3f1d9b10", "A-Z-09"}
	for _, id := range valid {
		got, err := ValidateRunID(id)
		require.NoError(t, err, id)
		assert.Equal(t, id, got)
	}

	invalid := []string{"", "../etc", "a/b", "run_1", "run.1", "run 1", "a\x00b", "ünïcode", `a\b`, "..", string(make([]byte, 129))}
	for _, id := range invalid {
		_, err := ValidateRunID(id)
		require.Error(t, err, "%q", id)
		assert.True(t, errors.Is(err, apperr.ErrInvalidIdentifier), "%q", id)
	}
}

func TestValidateRunName(t *testing.T) {
	for _, name := range []string{"c0", "web_train_1", "run-a"} {
		_, err := ValidateRunName(name)
		assert.NoError(t, err, name)
	}
	for _, name := range []string{"", "c0/..", "c 0", "c.0"} {
		_, err := ValidateRunName(name)
		assert.ErrorIs(t, err, apperr.ErrInvalidIdentifier, name)
	}
}

func TestInvalidRunIDNeverBuildsPath(t *testing.T) {
	l := NewLayout("/ws")
	for _, id := range []string{"../x", "x/y", ""} {
		p, err := l.IterationPath(id, 0)
		assert.ErrorIs(t, err, apperr.ErrInvalidIdentifier)
		assert.Empty(t, p)

		p, err = l.CheckpointsDir(id, "c0", nil)
		assert.ErrorIs(t, err, apperr.ErrInvalidIdentifier)
		assert.Empty(t, p)
	}
}

func TestIterationPath(t *testing.T) {
	l := NewLayout("/ws")

	p, err := l.IterationPath("run-1", 3)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/ws", "runs_web", "run-1", "iter_03"), p)

	again, err := l.IterationPath("run-1", 3)
	require.NoError(t, err)
	assert.Equal(t, p, again)

	seen := map[string]int{}
	for i := 0; i < 250; i++ {
		p, err := l.IterationPath("run-1", i)
		require.NoError(t, err)
		prev, dup := seen[p]
		assert.False(t, dup, "iter %d collides with %d", i, prev)
		seen[p] = i
	}

	wide, err := l.IterationPath("run-1", 123)
	require.NoError(t, err)
	assert.Equal(t, "iter_123", filepath.Base(wide))

	_, err = l.IterationPath("run-1", -1)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestIterationDirNamesSortWithinWidth(t *testing.T) {
	// 同宽度内字典序与数值序一致
	names := []string{IterationDirName(12), IterationDirName(3), IterationDirName(0), IterationDirName(99)}
	sort.Strings(names)
	assert.Equal(t, []string{"iter_00", "iter_03", "iter_12", "iter_99"}, names)

	wide := []string{IterationDirName(250), IterationDirName(100), IterationDirName(101)}
	sort.Strings(wide)
	assert.Equal(t, []string{"iter_100", "iter_101", "iter_250"}, wide)
}

func TestParseIterationDirName(t *testing.T) {
	v, ok := ParseIterationDirName("iter_07")
	assert.True(t, ok)
	assert.Equal(t, 7, v)

	v, ok = ParseIterationDirName("iter_120")
	assert.True(t, ok)
	assert.Equal(t, 120, v)

	for _, bad := range []string{"iter_", "iter_x1", "c0", "iter_01.bak"} {
		_, ok := ParseIterationDirName(bad)
		assert.False(t, ok, bad)
	}
}

func TestCheckpointsDir(t *testing.T) {
	l := NewLayout("/ws")

	p, err := l.CheckpointsDir("run-1", "c1", nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/ws", "runs_web", "run-1", "c1", "checkpoints"), p)

	iter := 2
	p, err = l.CheckpointsDir("run-1", "", &iter)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/ws", "runs_web", "run-1", "iter_02", "c0", "checkpoints"), p)

	_, err = l.CheckpointsDir("run-1", "../c0", &iter)
	assert.ErrorIs(t, err, apperr.ErrInvalidIdentifier)
}

func TestArtifactPaths(t *testing.T) {
	l := NewLayout("/ws/")

	c, err := l.CandidatePath("r", 1)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/ws", "runs_web", "r", "iter_01", "to_label.xyz"), c)

	o, err := l.LabeledPath("r", 1)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/ws", "runs_web", "r", "iter_01", "labeled_new.xyz"), o)

	log, err := l.CommitteeLogPath("r", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/ws", "runs_web", "r", "iter_01", "c1", "logs", "c1_run-1.log"), log)
}
