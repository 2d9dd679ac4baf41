package service

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"mace-freeze/internal/apperr"
	"mace-freeze/internal/checkpoint"
	"mace-freeze/internal/trainlog"
	"mace-freeze/internal/workspace"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubRunStatus 迭代目录下一个训练子运行（例如委员会成员 c0、c1）
type SubRunStatus struct {
	Name       string                 `json:"name"`
	Checkpoint *checkpoint.Candidate  `json:"checkpoint,omitempty"`
	Validation *trainlog.EpochMetrics `json:"validation,omitempty"`
}

type IterationStatus struct {
	RunID        string         `json:"run_id"`
	Iter         int            `json:"iter"`
	Path         string         `json:"path"`
	HasCandidate bool           `json:"has_candidate"`
	HasLabeled   bool           `json:"has_labeled"`
	HasDisagree  bool           `json:"has_disagreement"`
	SubRuns      []SubRunStatus `json:"sub_runs"`
}

type RunService struct {
	layout   *workspace.Layout
	resolver *checkpoint.Resolver
	log      *zap.Logger
}

func NewRunService(layout *workspace.Layout, resolver *checkpoint.Resolver, log *zap.Logger) *RunService {
	if log == nil {
		log = zap.NewNop()
	}
	return &RunService{layout: layout, resolver: resolver, log: log}
}

// CreateRun 分配新的 run_id 并创建目录
func (s *RunService) CreateRun() (string, error) {
	runID := uuid.NewString()
	dir, err := s.layout.RunDir(runID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("创建 run 目录失败: %w", err)
	}
	s.log.Info("创建 run", zap.String("run_id", runID), zap.String("dir", dir))
	return runID, nil
}

// EnsureIteration 首次使用时创建迭代目录，重复调用无副作用
func (s *RunService) EnsureIteration(runID string, iter int) (string, error) {
	dir, err := s.layout.IterationPath(runID, iter)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("创建迭代目录失败: %w", err)
	}
	return dir, nil
}

// ListIterations 按数值升序返回已有的迭代序号（iter_100 排在 iter_99 之后）
func (s *RunService) ListIterations(runID string) ([]int, error) {
	runDir, err := s.layout.RunDir(runID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(runDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.NotFound("run 不存在: %s", runID)
		}
		return nil, fmt.Errorf("读取 run 目录失败: %w", err)
	}

	iters := []int{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if n, ok := workspace.ParseIterationDirName(e.Name()); ok {
			iters = append(iters, n)
		}
	}
	sort.Ints(iters)
	return iters, nil
}

// IterationStatus 汇总一轮迭代的产物：候选/标注文件、各子运行的最佳检查点与最新验证指标
func (s *RunService) IterationStatus(runID string, iter int) (*IterationStatus, error) {
	dir, err := s.layout.IterationPath(runID, iter)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.NotFound("迭代不存在: %s/%s", runID, workspace.IterationDirName(iter))
		}
		return nil, fmt.Errorf("读取迭代目录失败: %w", err)
	}

	st := &IterationStatus{
		RunID:        runID,
		Iter:         iter,
		Path:         dir,
		HasCandidate: isFile(filepath.Join(dir, workspace.CandidateFileName)),
		HasLabeled:   isFile(filepath.Join(dir, workspace.LabeledFileName)),
		HasDisagree:  isFile(filepath.Join(dir, workspace.DisagreementFile)),
		SubRuns:      []SubRunStatus{},
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if _, err := workspace.ValidateRunName(name); err != nil {
			continue
		}
		subDir := filepath.Join(dir, name)
		if !isDir(filepath.Join(subDir, workspace.CheckpointsDirName)) {
			continue
		}

		sub := SubRunStatus{Name: name}
		if cand, err := s.resolver.Resolve(runID, name, &iter); err == nil {
			sub.Checkpoint = cand
		}
		sub.Validation = lastValidationIn(filepath.Join(subDir, workspace.LogsDirName))
		st.SubRuns = append(st.SubRuns, sub)
	}
	sort.Slice(st.SubRuns, func(i, j int) bool { return st.SubRuns[i].Name < st.SubRuns[j].Name })
	return st, nil
}

// lastValidationIn 在 logs 目录的所有日志中取 epoch 最大的验证指标
func lastValidationIn(logsDir string) *trainlog.EpochMetrics {
	paths, err := filepath.Glob(filepath.Join(logsDir, "*.log"))
	if err != nil {
		return nil
	}
	var best *trainlog.EpochMetrics
	for _, p := range paths {
		m, err := trainlog.LastValidation(p)
		if err != nil {
			continue
		}
		if best == nil || m.Epoch > best.Epoch {
			best = m
		}
	}
	return best
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
