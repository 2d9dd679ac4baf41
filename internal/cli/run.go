package cli

import (
	"fmt"

	"mace-freeze/internal/service"

	"github.com/spf13/cobra"
)

func (a *app) runCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "管理 run 与迭代目录",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "create",
			Short: "新建 run 并输出 run_id",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				svc, err := a.services(cmd)
				if err != nil {
					return err
				}
				defer svc.Close()
				runID, err := svc.RunService.CreateRun()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), runID)
				return nil
			},
		},
		&cobra.Command{
			Use:   "iterations <runId>",
			Short: "列出已有迭代序号",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, err := a.services(cmd)
				if err != nil {
					return err
				}
				defer svc.Close()
				iters, err := svc.RunService.ListIterations(args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), iters)
			},
		},
		&cobra.Command{
			Use:   "init-iter <runId> <iter>",
			Short: "创建迭代目录",
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
				dir, err := svc.RunService.EnsureIteration(args[0], iter)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), dir)
				return nil
			},
		},
		a.runStatusCommand(),
	)
	return cmd
}

func (a *app) runStatusCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <runId> <iter>",
		Short: "迭代产物概览",
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
			st, err := svc.RunService.IterationStatus(args[0], iter)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			fmt.Fprint(cmd.OutOrStdout(), service.RenderIterationStatusMarkdown(st))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "输出 JSON")
	return cmd
}
