package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"Care_Community/internal/config"
	"Care_Community/internal/repository/mysql"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:           "care",
		Short:         "社区关怀打卡服务",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default $CARE_CONFIG or config.yaml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "启动 HTTP 服务和后台任务",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.Load(cfgPath)
				if err != nil {
					return err
				}
				return serve(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "建表并写入保留社区",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.Load(cfgPath)
				if err != nil {
					return err
				}
				if err := mysql.InitDB(cfg.Database, nil); err != nil {
					return err
				}
				if err := mysql.Migrate(mysql.DB); err != nil {
					return err
				}
				newLogger(cfg.Server.Mode).Info("migrate done", "driver", cfg.Database.Driver)
				return nil
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "执行一次漏打巡检后退出",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.Load(cfgPath)
				if err != nil {
					return err
				}
				return sweepOnce(cmd.Context(), cfg)
			},
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
