package service

import (
	"os"
	"path/filepath"
	"testing"

	"mace-freeze/internal/apperr"
	"mace-freeze/internal/checkpoint"
	"mace-freeze/internal/workspace"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunService(t *testing.T) (*RunService, *workspace.Layout) {
	t.Helper()
	layout := workspace.NewLayout(t.TempDir())
	return NewRunService(layout, checkpoint.NewResolver(layout, "", ""), nil), layout
}

func TestCreateRun(t *testing.T) {
	svc, layout := newRunService(t)

	runID, err := svc.CreateRun()
	require.NoError(t, err)
	_, err = uuid.Parse(runID)
	require.NoError(t, err)

	dir, err := layout.RunDir(runID)
	require.NoError(t, err)
	assert.DirExists(t, dir)

	other, err := svc.CreateRun()
	require.NoError(t, err)
	assert.NotEqual(t, runID, other)
}

func TestEnsureIteration_Idempotent(t *testing.T) {
	svc, _ := newRunService(t)
	runID, err := svc.CreateRun()
	require.NoError(t, err)

	first, err := svc.EnsureIteration(runID, 3)
	require.NoError(t, err)
	second, err := svc.EnsureIteration(runID, 3)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, "iter_03", filepath.Base(first))

	_, err = svc.EnsureIteration(runID, -1)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = svc.EnsureIteration("../x", 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidIdentifier)
}

func TestListIterations_NumericOrder(t *testing.T) {
	svc, layout := newRunService(t)
	runID, err := svc.CreateRun()
	require.NoError(t, err)

	for _, n := range []int{100, 2, 99, 0} {
		_, err := svc.EnsureIteration(runID, n)
		require.NoError(t, err)
	}
	runDir, _ := layout.RunDir(runID)
	require.NoError(t, os.Mkdir(filepath.Join(runDir, "web_train"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(runDir, "iter_x"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "iter_05"), []byte("not a dir"), 0o644))

	iters, err := svc.ListIterations(runID)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 99, 100}, iters)
}

func TestListIterations_Empty(t *testing.T) {
	svc, _ := newRunService(t)
	runID, err := svc.CreateRun()
	require.NoError(t, err)

	iters, err := svc.ListIterations(runID)
	require.NoError(t, err)
	assert.Empty(t, iters)
	assert.NotNil(t, iters)
}

func TestListIterations_UnknownRun(t *testing.T) {
	svc, _ := newRunService(t)
	_, err := svc.ListIterations("no-such-run")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

const c0Log = "INFO: Epoch 3: head: Default, loss=0.001, MAE_E_per_atom= 4.20 meV, MAE_F= 30.5 meV / A\n"

func TestIterationStatus(t *testing.T) {
	svc, layout := newRunService(t)
	runID, err := svc.CreateRun()
	require.NoError(t, err)
	iter := 1
	dir, err := svc.EnsureIteration(runID, iter)
	require.NoError(t, err)

	cand, _ := layout.CandidatePath(runID, iter)
	require.NoError(t, os.WriteFile(cand, []byte("2\n\n"), 0o644))

	ckptDir, _ := layout.CheckpointsDir(runID, "c0", &iter)
	require.NoError(t, os.MkdirAll(ckptDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ckptDir, "c0_run-0_epoch-3.pt"), []byte("x"), 0o644))
	logPath, _ := layout.CommitteeLogPath(runID, iter, 0)
	require.NoError(t, os.MkdirAll(filepath.Dir(logPath), 0o755))
	require.NoError(t, os.WriteFile(logPath, []byte(c0Log), 0o644))

	// 只有 checkpoints 目录、还没有检查点的子运行
	emptyDir, _ := layout.CheckpointsDir(runID, "c1", &iter)
	require.NoError(t, os.MkdirAll(emptyDir, 0o755))
	// 不是子运行
	require.NoError(t, os.Mkdir(filepath.Join(dir, "scratch"), 0o755))

	st, err := svc.IterationStatus(runID, iter)
	require.NoError(t, err)
	assert.True(t, st.HasCandidate)
	assert.False(t, st.HasLabeled)
	assert.False(t, st.HasDisagree)
	require.Len(t, st.SubRuns, 2)

	c0 := st.SubRuns[0]
	assert.Equal(t, "c0", c0.Name)
	require.NotNil(t, c0.Checkpoint)
	assert.Equal(t, 3, c0.Checkpoint.Epoch)
	require.NotNil(t, c0.Validation)
	assert.InDelta(t, 4.2, c0.Validation.EnergyMAE, 1e-9)

	c1 := st.SubRuns[1]
	assert.Equal(t, "c1", c1.Name)
	assert.Nil(t, c1.Checkpoint)
	assert.Nil(t, c1.Validation)

	_, err = svc.IterationStatus(runID, 7)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
