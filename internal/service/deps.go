package service

import (
	"context"
	"log/slog"

	"gorm.io/gorm"

	"Care_Community/internal/config"
	"Care_Community/internal/errs"
	"Care_Community/internal/repository/mysql"
	"Care_Community/internal/schedule"
)

// Deps 各服务共享的基础设施
type Deps struct {
	DB    *gorm.DB
	Clock schedule.Clock
	Care  config.CareConfig
	Log   *slog.Logger
}

func (d *Deps) logger() *slog.Logger {
	if d.Log != nil {
		return d.Log
	}
	return slog.Default()
}

// tx 业务事务；ctx 到期时 database/sql 会在提交前回滚
func (d *Deps) tx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return d.DB.WithContext(ctx).Transaction(fn)
}

// withRetry 串行化键上的冲突整体重试一次，仍冲突返回 ErrConflict
func withRetry(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	if !mysql.IsRetryable(err) || ctx.Err() != nil {
		return errs.FromContext(ctx, err)
	}
	retryTotal.WithLabelValues(op).Inc()
	err = fn()
	if err == nil {
		return nil
	}
	if mysql.IsRetryable(err) {
		return errs.Wrapf(errs.ErrConflict, "%s: %v", op, err)
	}
	return errs.FromContext(ctx, err)
}

func fromCtx(ctx context.Context, err error) error {
	return errs.FromContext(ctx, err)
}

func dayKeys(d schedule.Date) (string, string) {
	return d.String() + "T00:00:00", d.String() + "T23:59:59"
}
