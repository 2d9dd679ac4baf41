package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"mace-freeze/internal/checkpoint"

	"github.com/spf13/cobra"
)

// subRunFlags 定位子运行：--run-name 与可选的 --iter
type subRunFlags struct {
	runName string
	iter    int
}

func (s *subRunFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.runName, "run-name", "", "子运行名（默认 c0）")
	cmd.Flags().IntVar(&s.iter, "iter", 0, "迭代序号；不指定时为 run 级子运行")
}

func (s *subRunFlags) iterPtr(cmd *cobra.Command) *int {
	if !cmd.Flags().Changed("iter") {
		return nil
	}
	iter := s.iter
	return &iter
}

func (a *app) checkpointCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "检查点解析、列举与监听",
	}
	cmd.AddCommand(a.checkpointResolveCommand(), a.checkpointListCommand(), a.checkpointWatchCommand())
	return cmd
}

func (a *app) checkpointResolveCommand() *cobra.Command {
	var (
		sub    subRunFlags
		output string
	)
	cmd := &cobra.Command{
		Use:   "resolve <runId>",
		Short: "输出最佳检查点；--output 时复制到文件或目录",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.services(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			runName := sub.runName
			if runName == "" {
				runName = svc.Config.Checkpoint.DefaultRunName
			}
			if output == "" {
				cand, err := svc.Resolver.Resolve(args[0], runName, sub.iterPtr(cmd))
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), cand)
			}

			art, err := svc.Resolver.Open(args[0], runName, sub.iterPtr(cmd))
			if err != nil {
				return err
			}
			defer art.Close()
			dest, err := copyArtifact(art, output)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", art.Path, dest)
			return nil
		},
	}
	sub.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "复制目标；为已有目录时使用下载文件名")
	return cmd
}

// copyArtifact 先写临时文件再改名，避免留下半个检查点
func copyArtifact(art *checkpoint.Artifact, output string) (string, error) {
	dest := output
	if info, err := os.Stat(output); err == nil && info.IsDir() {
		dest = filepath.Join(output, art.DownloadName)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".ckpt-*")
	if err != nil {
		return "", fmt.Errorf("创建临时文件失败: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, art); err != nil {
		tmp.Close()
		return "", fmt.Errorf("复制检查点失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("复制检查点失败: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("复制检查点失败: %w", err)
	}
	return dest, nil
}

func (a *app) checkpointListCommand() *cobra.Command {
	var sub subRunFlags
	cmd := &cobra.Command{
		Use:   "list <runId>",
		Short: "按选择优先级列出全部检查点",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.services(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			runName := sub.runName
			if runName == "" {
				runName = svc.Config.Checkpoint.DefaultRunName
			}
			list, err := svc.Resolver.List(args[0], runName, sub.iterPtr(cmd))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), list)
		},
	}
	sub.register(cmd)
	return cmd
}

func (a *app) checkpointWatchCommand() *cobra.Command {
	var sub subRunFlags
	cmd := &cobra.Command{
		Use:   "watch <runId>",
		Short: "监听训练过程，最佳检查点变化时输出一行 JSON（Ctrl-C 结束）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.services(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			runName := sub.runName
			if runName == "" {
				runName = svc.Config.Checkpoint.DefaultRunName
			}
			// 输出写不出去（下游管道已关闭）就停止监听
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			out := cmd.OutOrStdout()
			var writeErr error
			err = svc.Resolver.Watch(ctx, args[0], runName, sub.iterPtr(cmd), svc.Config.Checkpoint.WatchDebounce,
				func(c checkpoint.Candidate) {
					if writeErr != nil {
						return
					}
					if err := writeJSONLine(out, c); err != nil {
						writeErr = fmt.Errorf("输出检查点信息失败: %w", err)
						cancel()
					}
				})
			if writeErr != nil {
				return writeErr
			}
			return err
		},
	}
	sub.register(cmd)
	return cmd
}
