// Package workspace 定义训练工作区的目录命名规则。
//
// 所有组件只通过这里的路径拼接规则定位文件：
//
//	<root>/runs_web/<runId>/iter_<NN>/to_label.xyz
//	<root>/runs_web/<runId>/iter_<NN>/labeled_new.xyz
//	<root>/runs_web/<runId>/iter_<NN>/<runName>/checkpoints/
//	<root>/runs_web/<runId>/<runName>/checkpoints/
//
// 本包不做任何 I/O，存在性检查由调用方负责。
package workspace

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"

	"mace-freeze/internal/apperr"
)

const (
	RunsDirName        = "runs_web"
	CandidateFileName  = "to_label.xyz"
	LabeledFileName    = "labeled_new.xyz"
	CheckpointsDirName = "checkpoints"
	LogsDirName        = "logs"
	DisagreementFile   = "pool_disagreement.json"
	DefaultRunName     = "c0"

	maxIdentifierLen = 128
)

var (
	runIDRe   = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
	runNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	iterDirRe = regexp.MustCompile(`^iter_([0-9]+)$`)
)

// ValidateRunID 只允许字母、数字、连字符；不做任何字符剥离
func ValidateRunID(id string) (string, error) {
	if id == "" || len(id) > maxIdentifierLen || !runIDRe.MatchString(id) {
		return "", apperr.InvalidIdentifier("非法的 run_id: %q", id)
	}
	return id, nil
}

// ValidateRunName 允许字母、数字、连字符、下划线
func ValidateRunName(name string) (string, error) {
	if name == "" || len(name) > maxIdentifierLen || !runNameRe.MatchString(name) {
		return "", apperr.InvalidIdentifier("非法的 run_name: %q", name)
	}
	return name, nil
}

func validateIter(iter int) error {
	if iter < 0 {
		return apperr.InvalidArgument("迭代序号不能为负数: %d", iter)
	}
	return nil
}

// IterationDirName 至少两位补零；>=100 时自然加宽，不截断
func IterationDirName(iter int) string {
	return fmt.Sprintf("iter_%02d", iter)
}

// ParseIterationDirName 解析 iter_NN 目录名
func ParseIterationDirName(name string) (int, bool) {
	m := iterDirRe.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return v, true
}

type Layout struct {
	root string
}

func NewLayout(root string) *Layout {
	return &Layout{root: filepath.Clean(root)}
}

func (l *Layout) Root() string {
	return l.root
}

func (l *Layout) RunsDir() string {
	return filepath.Join(l.root, RunsDirName)
}

func (l *Layout) RunDir(runID string) (string, error) {
	id, err := ValidateRunID(runID)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.RunsDir(), id), nil
}

func (l *Layout) IterationPath(runID string, iter int) (string, error) {
	runDir, err := l.RunDir(runID)
	if err != nil {
		return "", err
	}
	if err := validateIter(iter); err != nil {
		return "", err
	}
	return filepath.Join(runDir, IterationDirName(iter)), nil
}

// CandidatePath 上游筛选步骤放置待标注结构的位置
func (l *Layout) CandidatePath(runID string, iter int) (string, error) {
	dir, err := l.IterationPath(runID, iter)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, CandidateFileName), nil
}

func (l *Layout) LabeledPath(runID string, iter int) (string, error) {
	dir, err := l.IterationPath(runID, iter)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, LabeledFileName), nil
}

func (l *Layout) DisagreementPath(runID string, iter int) (string, error) {
	dir, err := l.IterationPath(runID, iter)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DisagreementFile), nil
}

// SubRunDir iter 为 nil 时位于 run 根目录下（非迭代的单次训练）
func (l *Layout) SubRunDir(runID, runName string, iter *int) (string, error) {
	if runName == "" {
		runName = DefaultRunName
	}
	name, err := ValidateRunName(runName)
	if err != nil {
		return "", err
	}
	var base string
	if iter != nil {
		base, err = l.IterationPath(runID, *iter)
	} else {
		base, err = l.RunDir(runID)
	}
	if err != nil {
		return "", err
	}
	return filepath.Join(base, name), nil
}

func (l *Layout) CheckpointsDir(runID, runName string, iter *int) (string, error) {
	dir, err := l.SubRunDir(runID, runName, iter)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, CheckpointsDirName), nil
}

// CommitteeLogPath 委员会模型 cK 的训练日志：<iter>/cK/logs/cK_run-K.log
func (l *Layout) CommitteeLogPath(runID string, iter, member int) (string, error) {
	name := fmt.Sprintf("c%d", member)
	iterCopy := iter
	dir, err := l.SubRunDir(runID, name, &iterCopy)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, LogsDirName, fmt.Sprintf("%s_run-%d.log", name, member)), nil
}
