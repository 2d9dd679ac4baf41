package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"mace-freeze/internal/apperr"
	"mace-freeze/internal/config"
	"mace-freeze/internal/trainlog"
	"mace-freeze/internal/workspace"

	"go.uber.org/zap"
)

// 分歧分数文件里是 eV/Å，对外统一用 meV/Å
const evToMeV = 1000.0

// 委员会规模上限，防止查询参数让我们去扫成千上万个目录
const maxCommitteeSize = 64

// Thresholds 单位：分歧 meV/Å，能量 meV/atom，力 meV/Å
type Thresholds struct {
	DisagreementMax      float64 `json:"disagreement_max"`
	DisagreementMean     float64 `json:"disagreement_mean"`
	MAEEnergy            float64 `json:"mae_energy"`
	MAEForce             float64 `json:"mae_force"`
	PoolExhaustionCutoff float64 `json:"pool_exhaustion_cutoff"`
}

func ThresholdsFromConfig(c config.ConvergenceConfig) Thresholds {
	return Thresholds{
		DisagreementMax:      c.DisagreementMax,
		DisagreementMean:     c.DisagreementMean,
		MAEEnergy:            c.MAEEnergy,
		MAEForce:             c.MAEForce,
		PoolExhaustionCutoff: c.PoolExhaustionCutoff,
	}
}

// DisagreementData pool_disagreement.json 的内容；旧文件可能没有 stats
type DisagreementData struct {
	Stats *struct {
		Max   float64 `json:"max"`
		Mean  float64 `json:"mean"`
		Count int     `json:"count"`
	} `json:"stats"`
	PerStructure []struct {
		Score float64 `json:"score"`
	} `json:"per_structure"`
	PoolSize *int `json:"pool_size"`
}

// hasStats "stats": {} 与缺省等同，退回到 per_structure 计算
func (d DisagreementData) hasStats() bool {
	return d.Stats != nil && (d.Stats.Count > 0 || d.Stats.Max != 0 || d.Stats.Mean != 0)
}

// ValidationMAE 委员会各成员最后一个 epoch 验证指标的平均值
type ValidationMAE struct {
	Energy  float64 `json:"energy"`
	Force   float64 `json:"force"`
	Members int     `json:"members"`
}

type ConvergenceMetrics struct {
	DisagreementMax       float64  `json:"disagreement_max"`
	DisagreementMean      float64  `json:"disagreement_mean"`
	PoolSize              int      `json:"pool_size"`
	StructuresAboveCutoff int      `json:"structures_above_cutoff"`
	ValidationMAEEnergy   *float64 `json:"validation_mae_energy,omitempty"`
	ValidationMAEForce    *float64 `json:"validation_mae_force,omitempty"`
	CommitteeLogs         int      `json:"committee_logs"`
	DisagreementReason    string   `json:"disagreement_reason,omitempty"`
	MAEReason             string   `json:"mae_reason,omitempty"`
}

type ConvergenceReport struct {
	RunID       string             `json:"run_id,omitempty"`
	Iter        int                `json:"iter"`
	Converged   bool               `json:"converged"`
	SuggestStop bool               `json:"suggest_stop"`
	Reasons     []string           `json:"reasons"`
	Metrics     ConvergenceMetrics `json:"metrics"`
	Thresholds  Thresholds         `json:"thresholds"`
}

// EvaluateConvergence 三个判据任一满足即认为收敛：
// 委员会分歧低；候选池耗尽；验证误差达标。验证误差达标时也建议停止。
func EvaluateConvergence(data DisagreementData, mae *ValidationMAE, th Thresholds) ConvergenceReport {
	rep := ConvergenceReport{Reasons: []string{}, Thresholds: th}
	m := &rep.Metrics

	var scoreMax, scoreMean float64
	var count int
	if data.hasStats() {
		scoreMax, scoreMean, count = data.Stats.Max, data.Stats.Mean, data.Stats.Count
	} else if n := len(data.PerStructure); n > 0 {
		// 兼容没有 stats（或 stats 为空对象）的旧文件
		sum := 0.0
		for i, p := range data.PerStructure {
			if i == 0 || p.Score > scoreMax {
				scoreMax = p.Score
			}
			sum += p.Score
		}
		scoreMean = sum / float64(n)
		count = n
	}

	m.DisagreementMax = scoreMax * evToMeV
	m.DisagreementMean = scoreMean * evToMeV
	m.PoolSize = len(data.PerStructure)
	if data.PoolSize != nil {
		m.PoolSize = *data.PoolSize
	}

	// 判据一：委员会分歧
	if m.DisagreementMax <= th.DisagreementMax && m.DisagreementMean <= th.DisagreementMean {
		rep.Reasons = append(rep.Reasons, fmt.Sprintf("委员会分歧已足够低（max=%.2f, mean=%.2f meV/Å ≤ %g/%g）",
			m.DisagreementMax, m.DisagreementMean, th.DisagreementMax, th.DisagreementMean))
	} else {
		m.DisagreementReason = fmt.Sprintf("分歧高于阈值（max=%.2f, mean=%.2f meV/Å）", m.DisagreementMax, m.DisagreementMean)
	}

	// 判据二：候选池耗尽，cutoff 是 meV/Å，分数是 eV/Å
	cutoff := th.PoolExhaustionCutoff / evToMeV
	for _, p := range data.PerStructure {
		if p.Score > cutoff {
			m.StructuresAboveCutoff++
		}
	}
	if m.StructuresAboveCutoff == 0 && count > 0 {
		rep.Reasons = append(rep.Reasons, fmt.Sprintf("候选池已耗尽：没有分歧 > %g meV/Å 的结构", th.PoolExhaustionCutoff))
	}

	// 判据三：验证误差
	maeOK := false
	if mae != nil {
		e, f := mae.Energy, mae.Force
		m.ValidationMAEEnergy = &e
		m.ValidationMAEForce = &f
		m.CommitteeLogs = mae.Members
		maeOK = e <= th.MAEEnergy && f <= th.MAEForce
		if maeOK {
			rep.Reasons = append(rep.Reasons, fmt.Sprintf("验证误差已达标（E=%.1f meV/atom, F=%.1f meV/Å ≤ %g/%g）",
				e, f, th.MAEEnergy, th.MAEForce))
		} else {
			m.MAEReason = fmt.Sprintf("验证误差高于阈值（E=%.1f, F=%.1f meV）", e, f)
		}
	}

	rep.Converged = len(rep.Reasons) > 0
	rep.SuggestStop = rep.Converged || maeOK
	return rep
}

type ConvergenceService struct {
	layout        *workspace.Layout
	thresholds    Thresholds
	committeeSize int
	log           *zap.Logger
}

func NewConvergenceService(layout *workspace.Layout, cfg config.ConvergenceConfig, log *zap.Logger) *ConvergenceService {
	if log == nil {
		log = zap.NewNop()
	}
	size := cfg.CommitteeSize
	if size <= 0 {
		size = 2
	}
	return &ConvergenceService{
		layout:        layout,
		thresholds:    ThresholdsFromConfig(cfg),
		committeeSize: size,
		log:           log,
	}
}

func (s *ConvergenceService) Thresholds() Thresholds {
	return s.thresholds
}

// Check committeeSize <= 0 时使用配置中的委员会规模
func (s *ConvergenceService) Check(runID string, iter, committeeSize int) (*ConvergenceReport, error) {
	return s.CheckWith(runID, iter, committeeSize, s.thresholds)
}

func (s *ConvergenceService) CheckWith(runID string, iter, committeeSize int, th Thresholds) (*ConvergenceReport, error) {
	path, err := s.layout.DisagreementPath(runID, iter)
	if err != nil {
		return nil, err
	}
	if committeeSize <= 0 {
		committeeSize = s.committeeSize
	}
	if committeeSize > maxCommitteeSize {
		return nil, apperr.InvalidArgument("委员会规模过大: %d（上限 %d）", committeeSize, maxCommitteeSize)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.NotFound("分歧文件不存在: %s", path)
		}
		return nil, fmt.Errorf("读取分歧文件失败: %w", err)
	}
	var data DisagreementData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("解析分歧文件失败: %w", err)
	}

	mae, err := s.ValidationMAE(runID, iter, committeeSize)
	if err != nil {
		return nil, err
	}

	rep := EvaluateConvergence(data, mae, th)
	rep.RunID = runID
	rep.Iter = iter
	s.log.Debug("收敛检查",
		zap.String("run_id", runID),
		zap.Int("iter", iter),
		zap.Bool("converged", rep.Converged),
		zap.Strings("reasons", rep.Reasons))
	return &rep, nil
}

// ValidationMAE 对委员会 c0..c{k-1} 的训练日志取平均；一个日志都没有时返回 nil
func (s *ConvergenceService) ValidationMAE(runID string, iter, committeeSize int) (*ValidationMAE, error) {
	var sumE, sumF float64
	n := 0
	for i := 0; i < committeeSize; i++ {
		path, err := s.layout.CommitteeLogPath(runID, iter, i)
		if err != nil {
			return nil, err
		}
		last, err := trainlog.LastValidation(path)
		if err != nil {
			if !errors.Is(err, apperr.ErrNotFound) {
				s.log.Warn("读取训练日志失败", zap.String("path", path), zap.Error(err))
			}
			continue
		}
		sumE += last.EnergyMAE
		sumF += last.ForceMAE
		n++
	}
	if n == 0 {
		return nil, nil
	}
	return &ValidationMAE{Energy: sumE / float64(n), Force: sumF / float64(n), Members: n}, nil
}
