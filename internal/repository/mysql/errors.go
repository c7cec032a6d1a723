package mysql

import (
	"errors"

	drivermysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	"Care_Community/internal/errs"
)

// IsRetryable 唯一键冲突、死锁、锁等待超时以及条件更新落空，可以整体重试一次
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, errs.ErrConflict) {
		return true
	}
	var me *drivermysql.MySQLError
	if errors.As(err, &me) {
		// 1062 duplicate, 1205 lock wait timeout, 1213 deadlock
		return me.Number == 1062 || me.Number == 1205 || me.Number == 1213
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23505" || pe.Code == "40001" || pe.Code == "40P01"
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked ||
			se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// notFound 把 gorm 的未找到转成业务错误
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.Wrapf(errs.ErrNotFound, format, args...)
	}
	return err
}
