// Package trainlog 解析 MACE 训练日志中的逐 epoch 验证指标。
//
//	INFO: Epoch 4: head: Default, loss=0.00025959, MAE_E_per_atom=    0.15 meV, MAE_F=    1.86 meV / A
//	INFO: Epoch 0: head: Default, loss=0.02708193, RMSE_E_per_atom=   26.14 meV, RMSE_F=   10.06 meV / A
package trainlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"regexp"
	"strconv"

	"mace-freeze/internal/apperr"
)

var (
	epochLineRe = regexp.MustCompile(`(?i)Epoch\s+(\d+):.*?(?:MAE_E_per_atom|RMSE_E_per_atom)\s*=\s*([\d.]+)\s*meV.*?(?:MAE_F|RMSE_F)\s*=\s*([\d.]+)\s*meV`)
	lossRe      = regexp.MustCompile(`(?i)loss\s*=\s*([\d.eE+-]+)`)
)

// EpochMetrics 能量 meV/atom，力 meV/Å；日志没有 loss 时 Loss 为 nil
type EpochMetrics struct {
	Epoch     int      `json:"epoch"`
	Loss      *float64 `json:"loss,omitempty"`
	EnergyMAE float64  `json:"mae_energy"`
	ForceMAE  float64  `json:"mae_force"`
}

// ParseLine 解析单行；不是 epoch 指标行返回 false
func ParseLine(line string) (EpochMetrics, bool) {
	m := epochLineRe.FindStringSubmatch(line)
	if m == nil {
		return EpochMetrics{}, false
	}
	epoch, err := strconv.Atoi(m[1])
	if err != nil {
		return EpochMetrics{}, false
	}
	e, err1 := strconv.ParseFloat(m[2], 64)
	f, err2 := strconv.ParseFloat(m[3], 64)
	if err1 != nil || err2 != nil {
		return EpochMetrics{}, false
	}
	out := EpochMetrics{Epoch: epoch, EnergyMAE: e, ForceMAE: f}
	if lm := lossRe.FindStringSubmatch(line); lm != nil {
		if v, err := strconv.ParseFloat(lm[1], 64); err == nil {
			out.Loss = &v
		}
	}
	return out, true
}

// Parse 读取全部 epoch 指标行，按出现顺序返回
func Parse(r io.Reader) ([]EpochMetrics, error) {
	var out []EpochMetrics
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if m, ok := ParseLine(sc.Text()); ok {
			out = append(out, m)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("读取训练日志失败: %w", err)
	}
	return out, nil
}

// LastValidation 返回日志中 epoch 最大的一条指标
func LastValidation(path string) (*EpochMetrics, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.NotFound("训练日志不存在: %s", path)
		}
		return nil, fmt.Errorf("打开训练日志失败: %w", err)
	}
	defer f.Close()

	all, err := Parse(f)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, apperr.NotFound("训练日志中没有验证指标: %s", path)
	}
	last := all[0]
	for _, m := range all[1:] {
		if m.Epoch >= last.Epoch {
			last = m
		}
	}
	return &last, nil
}
