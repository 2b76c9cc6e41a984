package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strings"
	"time"

	"Auditum/internal/config"
	xerrors "Auditum/internal/errors"
	driver "github.com/go-sql-driver/mysql"
)

// Config 描述 MySQL 连接池参数。
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// ConfigFromStorage 将存储配置转换为连接参数。未显式提供 DSN 时根据主机、端口、
// 账号与库名拼装。
func ConfigFromStorage(cfg config.StorageConfig) Config {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" && strings.TrimSpace(cfg.Host) != "" {
		dsn = BuildDSN(cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database)
	}
	return Config{
		DSN:             dsn,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}
}

// BuildDSN 通过驱动的 Config 生成 DSN。
func BuildDSN(host, port, user, password, database string) string {
	addr := host
	if port != "" {
		addr = net.JoinHostPort(host, port)
	}
	c := driver.NewConfig()
	c.Net = "tcp"
	c.Addr = addr
	c.User = user
	c.Passwd = password
	c.DBName = database
	c.ParseTime = true
	return c.FormatDSN()
}

// Open 打开并校验连接池，返回的句柄会作为 storage 资源交给模块。
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开存储失败")
	}
	return db, nil
}

func openDatabase(ctx context.Context, cfg Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}
	configurePool(db, cfg)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}
	return db, nil
}

func configurePool(db *sql.DB, cfg Config) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}
