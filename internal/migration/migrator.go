package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// =============================================================================
// 📦 内嵌迁移文件
// =============================================================================

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// =============================================================================
// 📋 类型定义
// =============================================================================

// DatabaseType 数据库类型
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMySQL    DatabaseType = "mysql"
	DatabaseTypeSQLite   DatabaseType = "sqlite"
)

// DefaultTableName 版本表名
const DefaultTableName = "schema_migrations"

// MigrationStatus 单个迁移的状态
type MigrationStatus struct {
	Version uint   `json:"version"`
	Name    string `json:"name"`
	Applied bool   `json:"applied"`
	Dirty   bool   `json:"dirty"`
}

// MigrationInfo 当前迁移摘要
type MigrationInfo struct {
	CurrentVersion    uint `json:"current_version"`
	Dirty             bool `json:"dirty"`
	TotalMigrations   int  `json:"total_migrations"`
	AppliedMigrations int  `json:"applied_migrations"`
	PendingMigrations int  `json:"pending_migrations"`
}

// Config 迁移器配置
type Config struct {
	// postgres / mysql / sqlite
	DatabaseType DatabaseType

	// 连接串，格式见 BuildDatabaseURL
	DatabaseURL string

	// 版本表名，默认 schema_migrations
	TableName string

	// 获取迁移锁的超时
	LockTimeout time.Duration

	Logger *zap.Logger
}

// Migrator 迁移操作接口
type Migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	DownAll(ctx context.Context) error
	// Steps n>0 前进，n<0 回滚
	Steps(ctx context.Context, n int) error
	Goto(ctx context.Context, version uint) error
	// Force 只改写版本号，不执行 SQL（用于修复 dirty 状态）
	Force(ctx context.Context, version int) error
	Version(ctx context.Context) (uint, bool, error)
	Status(ctx context.Context) ([]MigrationStatus, error)
	Info(ctx context.Context) (*MigrationInfo, error)
	Close() error
}

// =============================================================================
// 🔧 DefaultMigrator
// =============================================================================

// DefaultMigrator 基于 golang-migrate 的 Migrator 实现
type DefaultMigrator struct {
	config   *Config
	migrate  *migrate.Migrate
	db       *sql.DB
	dbDriver database.Driver
	logger   *zap.Logger
}

// NewMigrator 创建迁移器并连接数据库
func NewMigrator(cfg *Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required")
	}
	if _, err := sourceDir(cfg.DatabaseType); err != nil {
		return nil, err
	}

	if cfg.TableName == "" {
		cfg.TableName = DefaultTableName
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &DefaultMigrator{
		config: cfg,
		logger: logger.With(zap.String("component", "migrator"), zap.String("database", string(cfg.DatabaseType))),
	}

	if err := m.init(); err != nil {
		return nil, fmt.Errorf("failed to initialize migrator: %w", err)
	}

	return m, nil
}

func (m *DefaultMigrator) init() error {
	var err error

	m.db, err = m.openDatabase()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	m.dbDriver, err = m.createDatabaseDriver()
	if err != nil {
		m.db.Close()
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	sourceDriver, err := m.createSourceDriver()
	if err != nil {
		m.dbDriver.Close()
		return fmt.Errorf("failed to create source driver: %w", err)
	}

	m.migrate, err = migrate.NewWithInstance("iofs", sourceDriver, string(m.config.DatabaseType), m.dbDriver)
	if err != nil {
		m.dbDriver.Close()
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.migrate.LockTimeout = m.config.LockTimeout
	m.migrate.Log = &migrateLogger{logger: m.logger}

	return nil
}

func (m *DefaultMigrator) openDatabase() (*sql.DB, error) {
	var driverName string
	switch m.config.DatabaseType {
	case DatabaseTypePostgres:
		driverName = "postgres"
	case DatabaseTypeMySQL:
		driverName = "mysql"
	case DatabaseTypeSQLite:
		// database/sqlite3 注册的 cgo 驱动；纯 Go 的 "sqlite" 名称留给存储层
		driverName = "sqlite3"
	}

	db, err := sql.Open(driverName, m.config.DatabaseURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.config.LockTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func (m *DefaultMigrator) createDatabaseDriver() (database.Driver, error) {
	switch m.config.DatabaseType {
	case DatabaseTypePostgres:
		return postgres.WithInstance(m.db, &postgres.Config{MigrationsTable: m.config.TableName})
	case DatabaseTypeMySQL:
		return mysql.WithInstance(m.db, &mysql.Config{MigrationsTable: m.config.TableName})
	case DatabaseTypeSQLite:
		return sqlite3.WithInstance(m.db, &sqlite3.Config{MigrationsTable: m.config.TableName})
	default:
		return nil, fmt.Errorf("unsupported database type: %s", m.config.DatabaseType)
	}
}

func (m *DefaultMigrator) createSourceDriver() (source.Driver, error) {
	dir, err := sourceDir(m.config.DatabaseType)
	if err != nil {
		return nil, err
	}
	return iofs.New(migrationsFS, dir)
}

// sourceDir 返回内嵌文件系统中该方言的目录（embed 路径固定用 /）
func sourceDir(dbType DatabaseType) (string, error) {
	switch dbType {
	case DatabaseTypePostgres, DatabaseTypeMySQL, DatabaseTypeSQLite:
		return path.Join("migrations", string(dbType)), nil
	default:
		return "", fmt.Errorf("unsupported database type: %q", dbType)
	}
}

// =============================================================================
// 🎯 迁移操作
// =============================================================================

// run 执行一次迁移动作；ctx 取消时请求 golang-migrate 在当前迁移结束后停止
func (m *DefaultMigrator) run(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			select {
			case m.migrate.GracefulStop <- true:
			default:
			}
		case <-stop:
		}
	}()

	start := time.Now()
	err := fn()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Debug("no migration to apply", zap.String("op", op))
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration %s failed: %w", op, err)
	}
	m.logger.Info("migration applied", zap.String("op", op), zap.Duration("duration", time.Since(start)))
	return nil
}

// Up 应用所有未执行的迁移
func (m *DefaultMigrator) Up(ctx context.Context) error {
	return m.run(ctx, "up", m.migrate.Up)
}

// Down 回滚最近一次迁移
func (m *DefaultMigrator) Down(ctx context.Context) error {
	return m.run(ctx, "down", func() error { return m.migrate.Steps(-1) })
}

// DownAll 回滚全部迁移
func (m *DefaultMigrator) DownAll(ctx context.Context) error {
	return m.run(ctx, "down all", m.migrate.Down)
}

// Steps 前进或回滚 n 步
func (m *DefaultMigrator) Steps(ctx context.Context, n int) error {
	return m.run(ctx, "steps", func() error { return m.migrate.Steps(n) })
}

// Goto 迁移到指定版本
func (m *DefaultMigrator) Goto(ctx context.Context, version uint) error {
	return m.run(ctx, "goto", func() error { return m.migrate.Migrate(version) })
}

// Force 强制设置版本号
func (m *DefaultMigrator) Force(ctx context.Context, version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	m.logger.Warn("migration version forced", zap.Int("version", version))
	return nil
}

// Version 返回当前版本；尚未迁移时为 0
func (m *DefaultMigrator) Version(ctx context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

// Status 返回每个迁移文件的应用状态
func (m *DefaultMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	currentVersion, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}

	migrations, err := m.getAvailableMigrations()
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(migrations))
	for _, mig := range migrations {
		statuses = append(statuses, MigrationStatus{
			Version: mig.version,
			Name:    mig.name,
			Applied: mig.version <= currentVersion,
			Dirty:   dirty && mig.version == currentVersion,
		})
	}

	return statuses, nil
}

// Info 返回迁移摘要
func (m *DefaultMigrator) Info(ctx context.Context) (*MigrationInfo, error) {
	statuses, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	currentVersion, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}

	applied := 0
	for _, s := range statuses {
		if s.Applied {
			applied++
		}
	}

	return &MigrationInfo{
		CurrentVersion:    currentVersion,
		Dirty:             dirty,
		TotalMigrations:   len(statuses),
		AppliedMigrations: applied,
		PendingMigrations: len(statuses) - applied,
	}, nil
}

// Close 释放 source 与数据库连接
func (m *DefaultMigrator) Close() error {
	if m.migrate == nil {
		return nil
	}
	sourceErr, dbErr := m.migrate.Close()
	return errors.Join(sourceErr, dbErr)
}

type migrationFile struct {
	version uint
	name    string
}

// getAvailableMigrations 解析 000001_name.up.sql 形式的文件名，按版本升序
func (m *DefaultMigrator) getAvailableMigrations() ([]migrationFile, error) {
	return listMigrations(m.config.DatabaseType)
}

func listMigrations(dbType DatabaseType) ([]migrationFile, error) {
	dir, err := sourceDir(dbType)
	if err != nil {
		return nil, err
	}

	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []migrationFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}

		versionPart, rest, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		version, err := strconv.ParseUint(versionPart, 10, 32)
		if err != nil {
			continue
		}

		migrations = append(migrations, migrationFile{
			version: uint(version),
			name:    strings.TrimSuffix(rest, ".up.sql"),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})

	return migrations, nil
}

// migrateLogger 将 golang-migrate 的日志转到 zap
type migrateLogger struct {
	logger *zap.Logger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *migrateLogger) Verbose() bool { return false }

// =============================================================================
// 🛠️ 辅助函数
// =============================================================================

// ParseDatabaseType 解析数据库类型字符串
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return DatabaseTypePostgres, nil
	case "mysql", "mariadb":
		return DatabaseTypeMySQL, nil
	case "sqlite", "sqlite3":
		return DatabaseTypeSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", s)
	}
}

// BuildDatabaseURL 按方言拼接连接串；sqlite 的 database 参数为文件路径
func BuildDatabaseURL(dbType DatabaseType, host string, port int, database, username, password, sslMode string) string {
	switch dbType {
	case DatabaseTypePostgres:
		if sslMode == "" {
			sslMode = "require"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			username, password, host, port, database, sslMode)
	case DatabaseTypeMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			username, password, host, port, database)
	case DatabaseTypeSQLite:
		return fmt.Sprintf("file:%s?mode=rwc&_foreign_keys=on&_busy_timeout=5000", database)
	default:
		return ""
	}
}

// GetMigrationsPath 返回该方言迁移文件的相对目录
func GetMigrationsPath(dbType DatabaseType) string {
	return filepath.Join("migrations", string(dbType))
}
