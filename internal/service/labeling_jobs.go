package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"mace-freeze/internal/apperr"
	"mace-freeze/internal/labeling"
	"mace-freeze/internal/model"
	"mace-freeze/internal/workspace"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type LabelRequest struct {
	RunID   string           `json:"run_id"`
	Iter    int              `json:"iter"`
	Options labeling.Options `json:"options"`
}

// LabelService 在标注调用器之上提供两件事：
// 同一 (run, iter) 同时只允许一个标注；以及后台执行 + 任务记录的异步提交。
type LabelService struct {
	invoker *labeling.Invoker
	store   JobStore
	log     *zap.Logger

	mu     sync.Mutex
	active map[string]struct{}

	// 后台任务不跟随单个 HTTP 请求的生命周期，只在 Close 时取消
	bg     context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLabelService store 为 nil 表示没有数据库，此时只支持同步标注
func NewLabelService(invoker *labeling.Invoker, store JobStore, log *zap.Logger) *LabelService {
	if log == nil {
		log = zap.NewNop()
	}
	bg, cancel := context.WithCancel(context.Background())
	return &LabelService{
		invoker: invoker,
		store:   store,
		log:     log,
		active:  map[string]struct{}{},
		bg:      bg,
		cancel:  cancel,
	}
}

func iterKey(runID string, iter int) string {
	return fmt.Sprintf("%s/%d", runID, iter)
}

func (s *LabelService) acquire(runID string, iter int) (string, error) {
	key := iterKey(runID, iter)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[key]; busy {
		return "", apperr.Conflict("run %s 第 %d 轮正在标注中", runID, iter)
	}
	s.active[key] = struct{}{}
	return key, nil
}

func (s *LabelService) release(key string) {
	s.mu.Lock()
	delete(s.active, key)
	s.mu.Unlock()
}

// HasStore 是否配置了任务存储（异步提交是否可用）
func (s *LabelService) HasStore() bool {
	return s.store != nil
}

// busy 该迭代当前是否有标注在跑
func (s *LabelService) busy(runID string, iter int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[iterKey(runID, iter)]
	return ok
}

// Label 同步标注，阻塞到标注进程退出
func (s *LabelService) Label(ctx context.Context, req LabelRequest) (*labeling.Result, error) {
	key, err := s.acquire(req.RunID, req.Iter)
	if err != nil {
		return nil, err
	}
	defer s.release(key)
	return s.invoker.Label(ctx, req.RunID, req.Iter, req.Options)
}

// Submit 校验通过后记录任务并在后台执行，立即返回任务信息
func (s *LabelService) Submit(ctx context.Context, req LabelRequest) (*model.LabelingJob, error) {
	if s.store == nil {
		return nil, apperr.Unavailable("未配置数据库，无法提交异步标注任务")
	}
	plan, err := s.invoker.Prepare(req.RunID, req.Iter, req.Options)
	if err != nil {
		return nil, err
	}
	key, err := s.acquire(req.RunID, req.Iter)
	if err != nil {
		return nil, err
	}

	optsJSON, _ := json.Marshal(req.Options)
	job := &model.LabelingJob{
		JobID:           uuid.NewString(),
		RunID:           plan.RunID,
		IterIndex:       plan.Iter,
		ReferenceMethod: plan.Method,
		Device:          plan.Device,
		Status:          model.JobStatusRunning,
		OptionsJSON:     string(optsJSON),
		StartedAt:       time.Now(),
	}
	if err := s.store.Create(ctx, job); err != nil {
		s.release(key)
		return nil, err
	}

	s.wg.Add(1)
	go s.runJob(job.JobID, key, req)

	snapshot := *job
	return &snapshot, nil
}

func (s *LabelService) runJob(jobID, key string, req LabelRequest) {
	defer s.wg.Done()
	defer s.release(key)

	logger := s.log.With(zap.String("job_id", jobID))
	res, err := s.invoker.Label(s.bg, req.RunID, req.Iter, req.Options)

	u := JobUpdate{FinishedAt: time.Now()}
	if err != nil {
		u.Status = model.JobStatusFailed
		u.ErrorKind = string(apperr.KindOf(err))
		u.ErrorDetail = apperr.DetailOf(err)
		if u.ErrorDetail == "" {
			u.ErrorDetail = err.Error()
		}
		logger.Warn("异步标注失败", zap.Error(err))
	} else {
		u.Status = model.JobStatusSucceeded
		u.OutputPath = res.OutputPath
		logger.Info("异步标注完成", zap.String("output", res.OutputPath))
	}

	// 任务已经结束，写回结果不应再被取消
	if err := s.store.Finish(context.Background(), jobID, u); err != nil {
		logger.Error("写回标注任务结果失败", zap.Error(err))
	}
}

func (s *LabelService) Job(ctx context.Context, jobID string) (*model.LabelingJob, error) {
	if s.store == nil {
		return nil, apperr.Unavailable("未配置数据库，无法查询标注任务")
	}
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, apperr.InvalidIdentifier("非法的 job_id: %q", jobID)
	}
	return s.store.Get(ctx, jobID)
}

// Jobs 某一轮迭代的全部标注任务，新的在前
func (s *LabelService) Jobs(ctx context.Context, runID string, iter int) ([]model.LabelingJob, error) {
	if s.store == nil {
		return nil, apperr.Unavailable("未配置数据库，无法查询标注任务")
	}
	if _, err := workspace.ValidateRunID(runID); err != nil {
		return nil, err
	}
	if iter < 0 {
		return nil, apperr.InvalidArgument("迭代序号不能为负数: %d", iter)
	}
	return s.store.ListByIteration(ctx, runID, iter)
}

// RecoverStale 启动时调用：上次进程留下的 running 任务不会再有结果
func (s *LabelService) RecoverStale(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	n, err := s.store.FailRunning(ctx, "服务重启，标注任务已中断")
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Warn("已将中断的标注任务标记为失败", zap.Int64("count", n))
	}
	return nil
}

// Wait 等待所有后台任务结束
func (s *LabelService) Wait() {
	s.wg.Wait()
}

// Close 取消后台任务（会杀掉标注进程）并等待其写回结果
func (s *LabelService) Close() {
	s.cancel()
	s.wg.Wait()
}
