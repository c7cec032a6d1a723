package mysql

import (
	"fmt"
	"time"

	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"Care_Community/internal/config"
	"Care_Community/internal/model"
)

var DB *gorm.DB

// Open 按驱动名打开数据库。now 为空时用 gorm 默认时钟
func Open(driver, dsn string, now func() time.Time) (*gorm.DB, error) {
	var dial gorm.Dialector
	switch driver {
	case "mysql":
		dial = gormmysql.Open(dsn)
	case "postgres":
		dial = postgres.Open(dsn)
	case "sqlite":
		dial = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
	gc := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	}
	if now != nil {
		gc.NowFunc = now
	}
	return gorm.Open(dial, gc)
}

// InitDB 初始化全局连接池
func InitDB(cfg config.DatabaseConfig, now func() time.Time) error {
	db, err := Open(cfg.Driver, cfg.DSN, now)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLife > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLife)
	}
	DB = db
	return nil
}

// Migrate 建表并写入两个保留社区
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(model.All()...); err != nil {
		return err
	}
	reserved := []model.Community{
		{ID: model.DefaultCommunityID, Name: "default", Description: "新用户默认社区", Status: model.CommunityActive},
		{ID: model.SandboxCommunityID, Name: "sandbox", Description: "移出社区的用户停放处", Status: model.CommunityActive},
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&reserved).Error; err != nil {
		return err
	}
	// 显式写入 id 后 postgres 的序列不会前进
	if db.Dialector.Name() == "postgres" {
		return db.Exec("SELECT setval(pg_get_serial_sequence('communities','id'), (SELECT MAX(id) FROM communities))").Error
	}
	return nil
}
