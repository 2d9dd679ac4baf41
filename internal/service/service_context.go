package service

import (
	"mace-freeze/internal/checkpoint"
	"mace-freeze/internal/config"
	"mace-freeze/internal/db"
	"mace-freeze/internal/labeling"
	"mace-freeze/internal/workspace"

	"go.uber.org/zap"
)

type ServiceContext struct {
	Config             *config.Config
	Log                *zap.Logger
	Layout             *workspace.Layout
	Resolver           *checkpoint.Resolver
	RunService         *RunService
	LabelService       *LabelService
	ConvergenceService *ConvergenceService
}

// NewServiceContext 数据库已初始化时使用 gorm 保存异步任务
func NewServiceContext(cfg *config.Config, log *zap.Logger) *ServiceContext {
	var store JobStore
	if db.DB != nil {
		store = NewGormJobStore(db.DB)
	}
	return NewServiceContextWith(cfg, log, nil, store)
}

// NewServiceContextWith 可替换标注进程与任务存储（测试用）
func NewServiceContextWith(cfg *config.Config, log *zap.Logger, runner labeling.Runner, store JobStore) *ServiceContext {
	if log == nil {
		log = zap.NewNop()
	}
	layout := workspace.NewLayout(cfg.Workspace.Root)
	resolver := checkpoint.NewResolver(layout, cfg.Checkpoint.BestName, cfg.Checkpoint.Extension)
	invoker := labeling.NewInvoker(layout, runner, labeling.Config{
		Python:        cfg.Labeling.Python,
		Script:        cfg.Labeling.Script,
		WorkDir:       cfg.Labeling.WorkDir,
		MaxConcurrent: cfg.Labeling.MaxConcurrent,
		Timeout:       cfg.Labeling.Timeout,
		VerifyOutput:  cfg.Labeling.VerifyOutput == nil || *cfg.Labeling.VerifyOutput,
	}, log.Named("labeling"))

	return &ServiceContext{
		Config:             cfg,
		Log:                log,
		Layout:             layout,
		Resolver:           resolver,
		RunService:         NewRunService(layout, resolver, log.Named("runs")),
		LabelService:       NewLabelService(invoker, store, log.Named("jobs")),
		ConvergenceService: NewConvergenceService(layout, cfg.Convergence, log.Named("convergence")),
	}
}

// Close 等待后台标注任务结束
func (s *ServiceContext) Close() {
	s.LabelService.Close()
}
