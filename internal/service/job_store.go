package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mace-freeze/internal/apperr"
	"mace-freeze/internal/model"

	"gorm.io/gorm"
)

// JobUpdate 任务结束时写回的字段
type JobUpdate struct {
	Status      string
	OutputPath  string
	ErrorKind   string
	ErrorDetail string
	FinishedAt  time.Time
}

// JobStore 异步标注任务的持久化
type JobStore interface {
	Create(ctx context.Context, job *model.LabelingJob) error
	Finish(ctx context.Context, jobID string, u JobUpdate) error
	Get(ctx context.Context, jobID string) (*model.LabelingJob, error)
	ListByIteration(ctx context.Context, runID string, iter int) ([]model.LabelingJob, error)
	// FailRunning 把仍处于 running 的任务标记为失败（进程重启后这些任务已经不存在）
	FailRunning(ctx context.Context, detail string) (int64, error)
}

type GormJobStore struct {
	db *gorm.DB
}

func NewGormJobStore(db *gorm.DB) *GormJobStore {
	return &GormJobStore{db: db}
}

func (s *GormJobStore) Create(ctx context.Context, job *model.LabelingJob) error {
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("保存标注任务失败: %w", err)
	}
	return nil
}

func (s *GormJobStore) Finish(ctx context.Context, jobID string, u JobUpdate) error {
	res := s.db.WithContext(ctx).
		Model(&model.LabelingJob{}).
		Where("job_id = ?", jobID).
		Updates(map[string]interface{}{
			"status":       u.Status,
			"output_path":  u.OutputPath,
			"error_kind":   u.ErrorKind,
			"error_detail": u.ErrorDetail,
			"finished_at":  u.FinishedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("更新标注任务失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("标注任务不存在: %s", jobID)
	}
	return nil
}

func (s *GormJobStore) Get(ctx context.Context, jobID string) (*model.LabelingJob, error) {
	var job model.LabelingJob
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("标注任务不存在: %s", jobID)
		}
		return nil, fmt.Errorf("查询标注任务失败: %w", err)
	}
	return &job, nil
}

func (s *GormJobStore) ListByIteration(ctx context.Context, runID string, iter int) ([]model.LabelingJob, error) {
	var jobs []model.LabelingJob
	if err := s.db.WithContext(ctx).
		Where("run_id = ? AND iter_index = ?", runID, iter).
		Order("created_at DESC").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("查询标注任务失败: %w", err)
	}
	return jobs, nil
}

func (s *GormJobStore) FailRunning(ctx context.Context, detail string) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&model.LabelingJob{}).
		Where("status = ?", model.JobStatusRunning).
		Updates(map[string]interface{}{
			"status":       model.JobStatusFailed,
			"error_kind":   string(apperr.KindInternal),
			"error_detail": detail,
			"finished_at":  time.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("清理中断的标注任务失败: %w", res.Error)
	}
	return res.RowsAffected, nil
}
