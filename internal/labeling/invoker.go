// Package labeling 调用外部参考计算进程（MACE-MP/EMT 代理模型或 QE）为一轮迭代的候选结构打标签。
//
// 调用是同步阻塞的：QE 可能运行数小时。同一迭代的并发标注不在这里协调，
// 调用方需要自行保证同一 (runId, iter) 同时只有一个标注在跑。
package labeling

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"mace-freeze/internal/apperr"
	"mace-freeze/internal/workspace"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

type Config struct {
	// 解释器与脚本：进程以 Python Script --input ... 的形式启动
	Python        string
	Script        string
	WorkDir       string
	MaxConcurrent int
	// 0 表示不限时
	Timeout      time.Duration
	VerifyOutput bool
}

// Result 成功时返回输出路径和实际使用的参考方法（方法有默认值，调用方可能没指定）
type Result struct {
	OutputPath      string        `json:"output_path"`
	ReferenceMethod string        `json:"reference_method"`
	Device          string        `json:"device"`
	Duration        time.Duration `json:"duration"`
}

type Invoker struct {
	layout *workspace.Layout
	runner Runner
	cfg    Config
	sem    *semaphore.Weighted
	log    *zap.Logger
}

func NewInvoker(layout *workspace.Layout, runner Runner, cfg Config, log *zap.Logger) *Invoker {
	if runner == nil {
		runner = ExecRunner{}
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Invoker{
		layout: layout,
		runner: runner,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		log:    log,
	}
}

// Plan 通过前置检查后的一次标注调用
type Plan struct {
	RunID  string
	Iter   int
	Input  string
	Output string
	Method string
	Device string
}

// Prepare 只做校验和路径解析，不启动进程：标识符、迭代序号、参考方法、候选文件是否存在
func (inv *Invoker) Prepare(runID string, iter int, opts Options) (*Plan, error) {
	input, err := inv.layout.CandidatePath(runID, iter)
	if err != nil {
		return nil, err
	}
	output, err := inv.layout.LabeledPath(runID, iter)
	if err != nil {
		return nil, err
	}
	method, err := NormalizeMethod(opts.ReferenceMethod)
	if err != nil {
		return nil, err
	}
	device := strings.TrimSpace(opts.Device)
	if device == "" {
		device = DefaultDevice
	}

	info, err := os.Stat(input)
	if err != nil || info.IsDir() {
		return nil, apperr.PrecursorMissing("候选结构文件不存在: %s（请先运行筛选步骤）", input)
	}
	return &Plan{RunID: runID, Iter: iter, Input: input, Output: output, Method: method, Device: device}, nil
}

// Label 对 iter 的 to_label 文件执行参考标注，成功后输出写在同目录的 labeled_new 文件
func (inv *Invoker) Label(ctx context.Context, runID string, iter int, opts Options) (*Result, error) {
	// 先做廉价的前置检查，再付出启动进程的代价
	plan, err := inv.Prepare(runID, iter, opts)
	if err != nil {
		return nil, err
	}
	input, output, method, device := plan.Input, plan.Output, plan.Method, plan.Device

	if err := inv.sem.Acquire(ctx, 1); err != nil {
		return nil, apperr.LabelingFailed("等待标注槽位时被取消", "", err)
	}
	defer inv.sem.Release(1)

	// 限时只算进程运行时间，排队等槽位不计入
	if inv.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.cfg.Timeout)
		defer cancel()
	}

	cmd := Command{
		Name: inv.cfg.Python,
		Args: BuildArgs(inv.cfg.Script, input, output, method, device, opts),
		Dir:  inv.cfg.WorkDir,
	}
	if IsHighFidelity(method) {
		// 与标注脚本一致的线程默认值，避免 QE 在笔记本上超订
		cmd.Env = qeThreadEnv()
	}

	logger := inv.log.With(
		zap.String("run_id", runID),
		zap.Int("iter", iter),
		zap.String("reference", method),
		zap.String("device", device),
	)
	logger.Info("开始参考标注", zap.Strings("args", cmd.Args))

	start := time.Now()
	out, err := inv.runner.Run(ctx, cmd)
	elapsed := time.Since(start)
	if err != nil {
		logger.Warn("标注进程启动失败或被取消", zap.Error(err), zap.Duration("elapsed", elapsed))
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, apperr.LabelingFailed("标注进程被终止", strings.TrimSpace(out.Stderr), err)
		}
		return nil, apperr.LabelingFailed("无法启动标注进程", strings.TrimSpace(out.Stderr), err)
	}
	if out.ExitCode != 0 {
		detail := strings.TrimSpace(out.Stderr)
		logger.Warn("标注进程失败",
			zap.Int("exit_code", out.ExitCode),
			zap.String("stderr", detail),
			zap.Duration("elapsed", elapsed))
		return nil, apperr.LabelingFailed(fmt.Sprintf("标注进程退出码 %d", out.ExitCode), detail, nil)
	}

	if inv.cfg.VerifyOutput {
		if err := verifyOutput(output); err != nil {
			logger.Warn("标注进程返回成功但输出无效", zap.Error(err))
			return nil, apperr.LabelingFailed("标注进程返回成功但输出无效", "", err)
		}
	}

	logger.Info("参考标注完成", zap.String("output", output), zap.Duration("elapsed", elapsed))
	return &Result{
		OutputPath:      output,
		ReferenceMethod: method,
		Device:          device,
		Duration:        elapsed,
	}, nil
}

func verifyOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("输出文件不存在: %w", err)
	}
	if info.IsDir() || info.Size() == 0 {
		return fmt.Errorf("输出文件为空: %s", path)
	}
	return nil
}

func qeThreadEnv() []string {
	keys := []string{
		"OMP_NUM_THREADS",
		"OPENBLAS_NUM_THREADS",
		"MKL_NUM_THREADS",
		"VECLIB_MAXIMUM_THREADS",
		"NUMEXPR_NUM_THREADS",
	}
	var env []string
	for _, k := range keys {
		if _, ok := os.LookupEnv(k); !ok {
			env = append(env, k+"=1")
		}
	}
	return env
}
