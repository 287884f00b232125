package dal

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	proxymysql "github.com/go-sql-driver/mysql"
	"golang.org/x/net/proxy"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/dbresolver"

	"github.com/utrading/utrading-copy-trader/config"
	"github.com/utrading/utrading-copy-trader/internal/models"
	"github.com/utrading/utrading-copy-trader/pkg/logger"
)

var (
	db     *gorm.DB
	dbOnce sync.Once
)

// InitDB 按配置的驱动初始化全局连接，只生效一次
func InitDB(dbCfg config.Database, mysqlCfg config.MySQL) error {
	var err error
	dbOnce.Do(func() {
		switch dbCfg.Driver {
		case "sqlite":
			db, err = OpenSQLite(dbCfg.SQLitePath)
		default:
			db, err = connectMySQL(mysqlCfg)
		}
	})
	return err
}

func newGormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: gormlogger.New(
			logger.NewPrintfLogger(logger.WARN), gormlogger.Config{
				SlowThreshold:             200 * time.Millisecond,
				LogLevel:                  gormlogger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		),
		// 唯一键冲突统一转换为 gorm.ErrDuplicatedKey
		TranslateError: true,
	}
}

// OpenSQLite 打开 sqlite 数据库，用于 paper 模式和本地开发
func OpenSQLite(path string) (*gorm.DB, error) {
	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create sqlite dir failed: %w", err)
		}
	}
	conn, err := gorm.Open(sqlite.Open(path), newGormConfig())
	if err != nil {
		return nil, fmt.Errorf("open sqlite failed: %w", err)
	}
	logger.Info().Str("path", path).Msg("sqlite opened")
	return conn, nil
}

// registerProxyDialer 注册 SOCKS5 代理拨号器
func registerProxyDialer(proxyAddr string) error {
	dialer, err := proxy.SOCKS5("tcp", proxyAddr, nil, &net.Dialer{})
	if err != nil {
		return fmt.Errorf("create proxy dialer failed: %w", err)
	}

	proxymysql.RegisterDialContext("tcp", func(ctx context.Context, addr string) (net.Conn, error) {
		return dialer.Dial("tcp", addr)
	})

	return nil
}

func connectMySQL(cfg config.MySQL) (*gorm.DB, error) {
	if cfg.ProxyEnabled {
		if err := registerProxyDialer(cfg.ProxyAddr); err != nil {
			return nil, err
		}
		logger.Info().Str("proxy", cfg.ProxyAddr).Msg("mysql proxy enabled")
	}

	gcfg := newGormConfig()
	gcfg.PrepareStmt = true

	conn, err := gorm.Open(mysql.Open(cfg.DSN), gcfg)
	if err != nil {
		return nil, fmt.Errorf("connect mysql master failed: %w", err)
	}

	maxIdleTime := time.Hour
	if cfg.SetConnMaxIdleTime > 0 {
		maxIdleTime = time.Duration(cfg.SetConnMaxIdleTime) * time.Second
	}
	maxLifetime := 2 * time.Hour
	if cfg.SetConnMaxLifetime > 0 {
		maxLifetime = time.Duration(cfg.SetConnMaxLifetime) * time.Second
	}

	// 读写分离：从库只承担统计类查询
	if len(cfg.SlaveAddr) > 0 {
		replicas := make([]gorm.Dialector, 0, len(cfg.SlaveAddr))
		for _, addr := range cfg.SlaveAddr {
			replicas = append(replicas, mysql.Open(addr))
		}
		plugin := dbresolver.Register(dbresolver.Config{
			Replicas:          replicas,
			TraceResolverMode: true,
		}).
			SetConnMaxIdleTime(maxIdleTime).
			SetConnMaxLifetime(maxLifetime).
			SetMaxIdleConns(cfg.MaxIdleConnections).
			SetMaxOpenConns(cfg.MaxOpenConnections)
		if err = conn.Use(plugin); err != nil {
			return nil, fmt.Errorf("register dbresolver failed: %w", err)
		}
		logger.Info().Int("replicas", len(cfg.SlaveAddr)).Msg("mysql replicas configured")
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB failed: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConnections)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConnections)
	sqlDB.SetConnMaxIdleTime(maxIdleTime)
	sqlDB.SetConnMaxLifetime(maxLifetime)

	logger.Info().
		Int("max_idle", cfg.MaxIdleConnections).
		Int("max_open", cfg.MaxOpenConnections).
		Dur("max_idle_time", maxIdleTime).
		Dur("max_lifetime", maxLifetime).
		Msg("mysql connected")

	return conn, nil
}

func DB() *gorm.DB {
	return db
}

func CloseDB() {
	if db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Error().Err(err).Msg("get sql.DB failed")
		return
	}
	if err = sqlDB.Close(); err != nil {
		logger.Error().Err(err).Msg("close db failed")
		return
	}
	logger.Info().Msg("db closed")
}

// Models 需要迁移的全部模型
func Models() []any {
	return []any{
		&models.TrackedWallet{},
		&models.WalletTransaction{},
		&models.CopyTrade{},
		&models.DailyMetric{},
	}
}

// AutoMigrate 自动迁移数据库表结构
// 单表失败记录日志后继续，最终返回第一个错误
func AutoMigrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("database not initialized")
	}

	var firstErr error
	for _, model := range Models() {
		if err := conn.AutoMigrate(model); err != nil {
			logger.Warn().Err(err).Str("table", getTableName(model)).Msg("auto migrate failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		logger.Debug().Str("table", getTableName(model)).Msg("auto migrate success")
	}
	return firstErr
}

// getTableName 获取模型的表名
func getTableName(model any) string {
	if t, ok := model.(interface{ TableName() string }); ok {
		return t.TableName()
	}
	return "unknown"
}
