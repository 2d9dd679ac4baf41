package model

import (
	"time"

	"gorm.io/gorm"
)

const (
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

// LabelingJob 一次异步参考标注的记录，供轮询
type LabelingJob struct {
	ID        uint           `gorm:"primarykey" json:"-"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	JobID     string `gorm:"type:varchar(36);not null;uniqueIndex" json:"job_id"`
	RunID     string `gorm:"type:varchar(128);not null;index:idx_run_iter" json:"run_id"`
	IterIndex int    `gorm:"not null;index:idx_run_iter" json:"iter"`

	ReferenceMethod string `gorm:"type:varchar(50)" json:"reference_method"`
	Device          string `gorm:"type:varchar(50)" json:"device"`
	// running/succeeded/failed
	Status     string `gorm:"type:varchar(20);not null;index" json:"status"`
	OutputPath string `gorm:"type:varchar(500)" json:"output_path,omitempty"`
	// 失败时的错误类别与诊断信息（标注进程 stderr 等）
	ErrorKind   string `gorm:"type:varchar(50)" json:"error_kind,omitempty"`
	ErrorDetail string `gorm:"type:text" json:"error_detail,omitempty"`
	OptionsJSON string `gorm:"type:text" json:"options_json"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Done 任务是否已结束
func (j *LabelingJob) Done() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}
