package cli

import (
	"mace-freeze/internal/labeling"
	"mace-freeze/internal/service"

	"github.com/spf13/cobra"
)

func (a *app) labelCommand() *cobra.Command {
	var (
		opts             labeling.Options
		ecutwfc, ecutrho float64
	)
	cmd := &cobra.Command{
		Use:   "label <runId> <iter>",
		Short: "对一轮迭代的 to_label.xyz 执行参考标注（阻塞到完成）",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			iter, err := parseIter(args[1])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("ecutwfc") {
				opts.Ecutwfc = &ecutwfc
			}
			if cmd.Flags().Changed("ecutrho") {
				opts.Ecutrho = &ecutrho
			}

			svc, err := a.services(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.LabelService.Label(cmd.Context(), service.LabelRequest{RunID: args[0], Iter: iter, Options: opts})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.ReferenceMethod, "reference", "", "参考方法：mace-mp（默认）、emt、qe")
	f.StringVar(&opts.Device, "device", "", "计算设备（默认 cpu）")
	f.StringVar(&opts.PseudoDir, "pseudo-dir", "", "QE 赝势目录")
	f.StringVar(&opts.PseudosJSON, "pseudos-json", "", "元素到赝势文件的 JSON 映射")
	f.StringVar(&opts.InputTemplate, "input-template", "", "QE 输入模板")
	f.StringVar(&opts.QECommand, "qe-command", "", "QE 可执行命令，例如 \"mpirun -np 4 pw.x\"")
	f.StringVar(&opts.Kpts, "kpts", "", "k 点网格，例如 \"4 4 4\"")
	f.Float64Var(&ecutwfc, "ecutwfc", 0, "波函数截断能 (Ry)")
	f.Float64Var(&ecutrho, "ecutrho", 0, "电荷密度截断能 (Ry)")
	f.StringVar(&opts.QEWorkdir, "qe-workdir", "", "QE 临时工作目录")
	return cmd
}
