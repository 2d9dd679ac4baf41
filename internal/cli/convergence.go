package cli

import (
	"fmt"

	"mace-freeze/internal/service"

	"github.com/spf13/cobra"
)

func (a *app) convergenceCommand() *cobra.Command {
	var (
		committee int
		asJSON    bool
		th        service.Thresholds
	)
	cmd := &cobra.Command{
		Use:   "convergence <runId> <iter>",
		Short: "检查主动学习是否收敛",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			iter, err := parseIter(args[1])
			if err != nil {
				return err
			}
			svc, err := a.services(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			// 只覆盖显式给出的阈值
			merged := svc.ConvergenceService.Thresholds()
			f := cmd.Flags()
			if f.Changed("disagreement-max") {
				merged.DisagreementMax = th.DisagreementMax
			}
			if f.Changed("disagreement-mean") {
				merged.DisagreementMean = th.DisagreementMean
			}
			if f.Changed("mae-energy") {
				merged.MAEEnergy = th.MAEEnergy
			}
			if f.Changed("mae-force") {
				merged.MAEForce = th.MAEForce
			}
			if f.Changed("pool-exhaustion-cutoff") {
				merged.PoolExhaustionCutoff = th.PoolExhaustionCutoff
			}

			rep, err := svc.ConvergenceService.CheckWith(args[0], iter, committee, merged)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), rep)
			}
			fmt.Fprint(cmd.OutOrStdout(), service.RenderConvergenceMarkdown(rep))
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&committee, "committee-size", 0, "委员会规模（默认取配置）")
	f.BoolVar(&asJSON, "json", false, "输出 JSON")
	f.Float64Var(&th.DisagreementMax, "disagreement-max", 0, "分歧 max 阈值 (meV/Å)")
	f.Float64Var(&th.DisagreementMean, "disagreement-mean", 0, "分歧 mean 阈值 (meV/Å)")
	f.Float64Var(&th.MAEEnergy, "mae-energy", 0, "验证能量误差阈值 (meV/atom)")
	f.Float64Var(&th.MAEForce, "mae-force", 0, "验证力误差阈值 (meV/Å)")
	f.Float64Var(&th.PoolExhaustionCutoff, "pool-exhaustion-cutoff", 0, "候选池耗尽判定的分歧下限 (meV/Å)")
	return cmd
}
