package service

import (
	"fmt"
	"strings"
	"time"
)

func RenderConvergenceMarkdown(rep *ConvergenceReport) string {
	var b strings.Builder
	b.WriteString("# 主动学习收敛检查\n\n")
	if rep.RunID != "" {
		b.WriteString(fmt.Sprintf("- run_id: %s\n", rep.RunID))
	}
	b.WriteString(fmt.Sprintf("- iter: %d\n", rep.Iter))
	b.WriteString(fmt.Sprintf("- converged: %t\n", rep.Converged))
	b.WriteString(fmt.Sprintf("- suggest_stop: %t\n\n", rep.SuggestStop))

	m := rep.Metrics
	th := rep.Thresholds
	b.WriteString("## 指标\n\n")
	b.WriteString("| 指标 | 当前值 | 阈值 |\n")
	b.WriteString("| --- | ---: | ---: |\n")
	b.WriteString(fmt.Sprintf("| 分歧 max (meV/Å) | %.2f | %g |\n", m.DisagreementMax, th.DisagreementMax))
	b.WriteString(fmt.Sprintf("| 分歧 mean (meV/Å) | %.2f | %g |\n", m.DisagreementMean, th.DisagreementMean))
	b.WriteString(fmt.Sprintf("| 高于 cutoff 的结构数 | %d / %d | cutoff %g meV/Å |\n", m.StructuresAboveCutoff, m.PoolSize, th.PoolExhaustionCutoff))
	if m.ValidationMAEEnergy != nil && m.ValidationMAEForce != nil {
		b.WriteString(fmt.Sprintf("| 验证 MAE 能量 (meV/atom) | %.2f | %g |\n", *m.ValidationMAEEnergy, th.MAEEnergy))
		b.WriteString(fmt.Sprintf("| 验证 MAE 力 (meV/Å) | %.2f | %g |\n", *m.ValidationMAEForce, th.MAEForce))
	} else {
		b.WriteString("| 验证 MAE | 无训练日志 | - |\n")
	}
	b.WriteString("\n")

	b.WriteString("## 结论\n\n")
	if len(rep.Reasons) == 0 {
		b.WriteString("- 尚未收敛，建议继续下一轮迭代\n")
	}
	for _, r := range rep.Reasons {
		b.WriteString(fmt.Sprintf("- %s\n", r))
	}
	if m.DisagreementReason != "" || m.MAEReason != "" {
		b.WriteString("\n### 未满足的判据\n\n")
		if m.DisagreementReason != "" {
			b.WriteString(fmt.Sprintf("- %s\n", m.DisagreementReason))
		}
		if m.MAEReason != "" {
			b.WriteString(fmt.Sprintf("- %s\n", m.MAEReason))
		}
	}
	return b.String()
}

func RenderIterationStatusMarkdown(st *IterationStatus) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("# %s 第 %d 轮\n\n", st.RunID, st.Iter))
	b.WriteString(fmt.Sprintf("- 目录: %s\n", st.Path))
	b.WriteString(fmt.Sprintf("- 候选结构: %s\n", yesNo(st.HasCandidate)))
	b.WriteString(fmt.Sprintf("- 参考标注: %s\n", yesNo(st.HasLabeled)))
	b.WriteString(fmt.Sprintf("- 分歧文件: %s\n\n", yesNo(st.HasDisagree)))

	if len(st.SubRuns) == 0 {
		b.WriteString("（没有训练子运行）\n")
		return b.String()
	}
	b.WriteString("| 子运行 | 检查点 | epoch | 修改时间 | 验证 E / F (meV) |\n")
	b.WriteString("| --- | --- | ---: | --- | --- |\n")
	for _, sub := range st.SubRuns {
		ckpt, epoch, mtime := "-", "-", "-"
		if c := sub.Checkpoint; c != nil {
			ckpt = c.Name
			if c.Epoch >= 0 {
				epoch = fmt.Sprintf("%d", c.Epoch)
			}
			mtime = c.ModTime.Format(time.RFC3339)
		}
		val := "-"
		if v := sub.Validation; v != nil {
			val = fmt.Sprintf("%.2f / %.2f (epoch %d)", v.EnergyMAE, v.ForceMAE, v.Epoch)
		}
		b.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n", sub.Name, ckpt, epoch, mtime, val))
	}
	return b.String()
}

func yesNo(ok bool) string {
	if ok {
		return "有"
	}
	return "无"
}
