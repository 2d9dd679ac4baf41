// Package cli 命令行入口：serve 启动 HTTP 服务，其余子命令直接操作本地工作区。
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"

	"mace-freeze/internal/apperr"
	"mace-freeze/internal/config"
	"mace-freeze/internal/logging"
	"mace-freeze/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultConfigPath = "config/config.yaml"

type app struct {
	configPath string
	root       string
	logLevel   string
}

func NewRootCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "mace-freeze",
		Short:         "MACE 主动学习编排：工作区、参考标注、检查点",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", defaultConfigPath, "配置文件路径")
	cmd.PersistentFlags().StringVar(&a.root, "root", "", "工作区根目录（覆盖配置文件中的 workspace.root）")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "日志级别（覆盖配置文件）")

	cmd.AddCommand(
		a.serveCommand(),
		a.labelCommand(),
		a.checkpointCommand(),
		a.runCommand(),
		a.convergenceCommand(),
	)
	return cmd
}

// loadConfig 未显式指定 --config 且默认文件不存在时使用内置默认值
func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		if cmd.Flags().Changed("config") || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = config.Default()
	}
	if a.root != "" {
		cfg.Workspace.Root = a.root
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	return cfg, nil
}

func (a *app) setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// services 离线命令不连接数据库，异步任务不可用
func (a *app) services(cmd *cobra.Command) (*service.ServiceContext, error) {
	cfg, log, err := a.setup(cmd)
	if err != nil {
		return nil, err
	}
	return service.NewServiceContextWith(cfg, log, nil, nil), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// writeJSONLine 单行 JSON，适合流式输出
func writeJSONLine(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func parseIter(raw string) (int, error) {
	iter, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.InvalidArgument("非法的迭代序号: %q", raw)
	}
	return iter, nil
}

// ExitCode 按错误类别区分退出码，便于脚本判断
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch apperr.KindOf(err) {
	case apperr.KindInvalidIdentifier, apperr.KindInvalidArgument:
		return 2
	case apperr.KindPrecursorMissing, apperr.KindNotFound:
		return 3
	case apperr.KindLabelingFailed:
		return 4
	case apperr.KindConflict, apperr.KindUnavailable:
		return 5
	default:
		return 1
	}
}

// PrintError 把错误及其诊断详情打到 stderr
func PrintError(w io.Writer, err error) {
	fmt.Fprintf(w, "错误: %v\n", err)
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Detail != "" && ae.Cause != nil {
		// Error() 在有 detail 时不包含 cause
		fmt.Fprintf(w, "原因: %v\n", ae.Cause)
	}
}
