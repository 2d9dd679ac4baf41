package labeling

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mace-freeze/internal/apperr"
	"mace-freeze/internal/workspace"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner 记录启动次数，可选地模拟写出输出文件
type fakeRunner struct {
	mu       sync.Mutex
	calls    []Command
	outcome  Outcome
	err      error
	writeOut bool
}

func (f *fakeRunner) Run(ctx context.Context, cmd Command) (Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()
	if f.writeOut && f.err == nil && f.outcome.ExitCode == 0 {
		out := argValue(cmd.Args, "--output")
		if err := os.WriteFile(out, []byte("1\nLattice=...\nO 0 0 0\n"), 0o644); err != nil {
			return Outcome{}, err
		}
	}
	return f.outcome, f.err
}

func (f *fakeRunner) launches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func setupIteration(t *testing.T, withCandidate bool) (*workspace.Layout, string) {
	t.Helper()
	root := t.TempDir()
	layout := workspace.NewLayout(root)
	dir, err := layout.IterationPath("run-1", 0)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	if withCandidate {
		require.NoError(t, os.WriteFile(filepath.Join(dir, workspace.CandidateFileName), []byte("cand"), 0o644))
	}
	return layout, dir
}

func newInvoker(layout *workspace.Layout, r Runner, verify bool) *Invoker {
	return NewInvoker(layout, r, Config{
		Python:        "python3",
		Script:        "label_with_reference.py",
		MaxConcurrent: 2,
		VerifyOutput:  verify,
	}, nil)
}

func TestLabel_PrecursorMissingLaunchesNothing(t *testing.T) {
	layout, _ := setupIteration(t, false)
	runner := &fakeRunner{writeOut: true}
	inv := newInvoker(layout, runner, true)

	_, err := inv.Label(context.Background(), "run-1", 0, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrPrecursorMissing))
	assert.Equal(t, 0, runner.launches())

	// 迭代目录都不存在时同样是 PrecursorMissing
	_, err = inv.Label(context.Background(), "run-1", 7, Options{})
	assert.ErrorIs(t, err, apperr.ErrPrecursorMissing)
	assert.Equal(t, 0, runner.launches())
}

func TestLabel_InvalidInputsLaunchNothing(t *testing.T) {
	layout, _ := setupIteration(t, true)
	runner := &fakeRunner{writeOut: true}
	inv := newInvoker(layout, runner, true)

	_, err := inv.Label(context.Background(), "../run-1", 0, Options{})
	assert.ErrorIs(t, err, apperr.ErrInvalidIdentifier)

	_, err = inv.Label(context.Background(), "run-1", -1, Options{})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = inv.Label(context.Background(), "run-1", 0, Options{ReferenceMethod: "vasp"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	assert.Equal(t, 0, runner.launches())
}

func TestLabel_SuccessEchoesDefaults(t *testing.T) {
	layout, dir := setupIteration(t, true)
	runner := &fakeRunner{writeOut: true}
	inv := newInvoker(layout, runner, true)

	res, err := inv.Label(context.Background(), "run-1", 0, Options{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, workspace.LabeledFileName), res.OutputPath)
	assert.Equal(t, MethodMACEMP, res.ReferenceMethod)
	assert.Equal(t, "cpu", res.Device)

	require.Equal(t, 1, runner.launches())
	cmd := runner.calls[0]
	assert.Equal(t, "python3", cmd.Name)
	assert.Equal(t, []string{
		"label_with_reference.py",
		"--input", filepath.Join(dir, workspace.CandidateFileName),
		"--output", filepath.Join(dir, workspace.LabeledFileName),
		"--reference", "mace-mp",
		"--device", "cpu",
	}, cmd.Args)
	assert.Empty(t, cmd.Env)
}

func TestLabel_ForwardsOnlyProvidedOptions(t *testing.T) {
	layout, _ := setupIteration(t, true)
	runner := &fakeRunner{writeOut: true}
	inv := newInvoker(layout, runner, true)

	ecut := 45.5
	res, err := inv.Label(context.Background(), "run-1", 0, Options{
		ReferenceMethod: " QE ",
		Device:          "cuda",
		PseudoDir:       "/pseudo",
		Kpts:            "2,2,2",
		Ecutwfc:         &ecut,
	})
	require.NoError(t, err)
	assert.Equal(t, "qe", res.ReferenceMethod)

	args := runner.calls[0].Args
	assert.Equal(t, "qe", argValue(args, "--reference"))
	assert.Equal(t, "cuda", argValue(args, "--device"))
	assert.Equal(t, "/pseudo", argValue(args, "--pseudo_dir"))
	assert.Equal(t, "2,2,2", argValue(args, "--kpts"))
	assert.Equal(t, "45.5", argValue(args, "--ecutwfc"))
	for _, absent := range []string{"--pseudos_json", "--input_template", "--qe_command", "--ecutrho", "--qe_workdir"} {
		assert.NotContains(t, args, absent)
	}
}

func TestLabel_NonZeroExitSurfacesStderr(t *testing.T) {
	layout, _ := setupIteration(t, true)
	runner := &fakeRunner{outcome: Outcome{
		ExitCode: 1,
		Stderr:   "\n  RuntimeError: QE labeling failed for structure index 0 (3 atoms).\n",
	}}
	inv := newInvoker(layout, runner, true)

	_, err := inv.Label(context.Background(), "run-1", 0, Options{ReferenceMethod: "qe"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrLabelingFailed)
	assert.Equal(t, "RuntimeError: QE labeling failed for structure index 0 (3 atoms).", apperr.DetailOf(err))
	assert.Equal(t, 1, runner.launches())
}

func TestLabel_NonZeroExitWithoutStderr(t *testing.T) {
	layout, _ := setupIteration(t, true)
	inv := newInvoker(layout, &fakeRunner{outcome: Outcome{ExitCode: 3}}, true)

	_, err := inv.Label(context.Background(), "run-1", 0, Options{})
	assert.ErrorIs(t, err, apperr.ErrLabelingFailed)
	assert.Contains(t, err.Error(), "3")
}

func TestLabel_LaunchFailure(t *testing.T) {
	layout, _ := setupIteration(t, true)
	inv := newInvoker(layout, &fakeRunner{err: errors.New("exec: \"python3\": executable file not found in $PATH")}, true)

	_, err := inv.Label(context.Background(), "run-1", 0, Options{})
	assert.ErrorIs(t, err, apperr.ErrLabelingFailed)
	assert.Contains(t, err.Error(), "executable file not found")
}

func TestLabel_VerifyOutput(t *testing.T) {
	layout, _ := setupIteration(t, true)

	// 退出码 0 但没有写输出
	inv := newInvoker(layout, &fakeRunner{}, true)
	_, err := inv.Label(context.Background(), "run-1", 0, Options{})
	assert.ErrorIs(t, err, apperr.ErrLabelingFailed)

	// 关闭校验时信任退出码
	inv = newInvoker(layout, &fakeRunner{}, false)
	res, err := inv.Label(context.Background(), "run-1", 0, Options{})
	require.NoError(t, err)
	assert.Equal(t, MethodMACEMP, res.ReferenceMethod)
}

func TestLabel_HighFidelitySetsThreadEnv(t *testing.T) {
	layout, _ := setupIteration(t, true)
	runner := &fakeRunner{writeOut: true}
	inv := newInvoker(layout, runner, true)

	_, err := inv.Label(context.Background(), "run-1", 0, Options{ReferenceMethod: "quantum-espresso"})
	require.NoError(t, err)
	for _, kv := range runner.calls[0].Env {
		assert.Regexp(t, `^[A-Z_]+=1$`, kv)
	}
}

func TestLabel_CanceledWhileWaitingForSlot(t *testing.T) {
	layout, _ := setupIteration(t, true)
	runner := &fakeRunner{writeOut: true}
	inv := NewInvoker(layout, runner, Config{Python: "python3", Script: "s.py", MaxConcurrent: 1}, nil)

	require.NoError(t, inv.sem.Acquire(context.Background(), 1))
	defer inv.sem.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := inv.Label(ctx, "run-1", 0, Options{})
	assert.ErrorIs(t, err, apperr.ErrLabelingFailed)
	assert.Equal(t, 0, runner.launches())
}

// deadlineRunner 记录进程启动时剩余的限时
type deadlineRunner struct {
	fakeRunner
	remaining time.Duration
}

func (d *deadlineRunner) Run(ctx context.Context, cmd Command) (Outcome, error) {
	if deadline, ok := ctx.Deadline(); ok {
		d.remaining = time.Until(deadline)
	}
	return d.fakeRunner.Run(ctx, cmd)
}

func TestLabel_TimeoutExcludesQueueWait(t *testing.T) {
	layout, _ := setupIteration(t, true)
	runner := &deadlineRunner{fakeRunner: fakeRunner{writeOut: true}}
	inv := NewInvoker(layout, runner, Config{
		Python:        "python3",
		Script:        "s.py",
		MaxConcurrent: 1,
		Timeout:       time.Second,
	}, nil)

	require.NoError(t, inv.sem.Acquire(context.Background(), 1))
	released := make(chan struct{})
	go func() {
		defer close(released)
		time.Sleep(1500 * time.Millisecond)
		inv.sem.Release(1)
	}()

	_, err := inv.Label(context.Background(), "run-1", 0, Options{})
	<-released
	require.NoError(t, err)
	assert.Equal(t, 1, runner.launches())
	assert.Greater(t, runner.remaining, 500*time.Millisecond)
}

func TestNormalizeMethod(t *testing.T) {
	m, err := NormalizeMethod("")
	require.NoError(t, err)
	assert.Equal(t, DefaultMethod, m)

	m, err = NormalizeMethod("EMT")
	require.NoError(t, err)
	assert.Equal(t, "emt", m)

	assert.True(t, IsHighFidelity("Quantum_Espresso"))
	assert.False(t, IsHighFidelity("mace-mp"))

	_, err = NormalizeMethod("dftb")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestBuildArgsFormatsCutoffs(t *testing.T) {
	wfc, rho := 60.0, 480.25
	args := BuildArgs("s.py", "in", "out", "qe", "cpu", Options{Ecutwfc: &wfc, Ecutrho: &rho, QEWorkdir: "/tmp/qe"})
	assert.Equal(t, []string{
		"s.py", "--input", "in", "--output", "out", "--reference", "qe", "--device", "cpu",
		"--ecutwfc", "60", "--ecutrho", "480.25", "--qe_workdir", "/tmp/qe",
	}, args)
}
