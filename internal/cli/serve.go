package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"mace-freeze/internal/db"
	"mace-freeze/internal/router"
	"mace-freeze/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serveCommand() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			gin.SetMode(cfg.Server.Mode)

			// 初始化数据库
			if err := db.InitDB(cfg, log); err != nil {
				return fmt.Errorf("初始化数据库失败: %w", err)
			}

			// 初始化服务
			svc := service.NewServiceContext(cfg, log)
			defer svc.Close()
			if err := svc.LabelService.RecoverStale(cmd.Context()); err != nil {
				log.Warn("清理中断的标注任务失败", zap.Error(err))
			}

			// 初始化路由
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:           router.SetupRouter(svc),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("服务启动", zap.String("addr", srv.Addr), zap.String("workspace", svc.Layout.Root()))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("启动服务失败: %w", err)
			case <-cmd.Context().Done():
			}

			log.Info("正在关闭服务")
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				return fmt.Errorf("关闭服务失败: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "监听端口（覆盖配置文件）")
	return cmd
}
