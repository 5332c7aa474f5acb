package migration

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/taskengine/config"
)

// NewMigratorFromConfig 从应用配置创建迁移器
func NewMigratorFromConfig(cfg *config.Config, logger *zap.Logger) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	return NewMigratorFromStoreConfig(cfg.Store, logger)
}

// NewMigratorFromStoreConfig 从存储配置创建迁移器
func NewMigratorFromStoreConfig(storeCfg config.StoreConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dbURL, dbType, err := StoreDatabaseURL(storeCfg)
	if err != nil {
		return nil, err
	}

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  dbURL,
		TableName:    DefaultTableName,
		Logger:       logger,
	})
}

// StoreDatabaseURL 将存储配置转换为 golang-migrate 使用的连接串
func StoreDatabaseURL(storeCfg config.StoreConfig) (string, DatabaseType, error) {
	dbType, err := ParseDatabaseType(storeCfg.Driver)
	if err != nil {
		return "", "", fmt.Errorf("invalid database type: %w", err)
	}

	switch dbType {
	case DatabaseTypePostgres:
		return BuildDatabaseURL(dbType, storeCfg.Host, storeCfg.Port, storeCfg.Name,
			storeCfg.User, storeCfg.Password, storeCfg.SSLMode), dbType, nil
	case DatabaseTypeMySQL:
		return BuildDatabaseURL(dbType, storeCfg.Host, storeCfg.Port, storeCfg.Name,
			storeCfg.User, storeCfg.Password, ""), dbType, nil
	default:
		if storeCfg.DBPath == "" || storeCfg.DBPath == ":memory:" {
			return "", "", fmt.Errorf("sqlite migrations need a file path, got %q", storeCfg.DBPath)
		}
		return BuildDatabaseURL(dbType, "", 0, storeCfg.DBPath, "", "", ""), dbType, nil
	}
}

// NewMigratorFromURL 从连接串创建迁移器
func NewMigratorFromURL(dbType, dbURL string, logger *zap.Logger) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}

	return NewMigrator(&Config{
		DatabaseType: dt,
		DatabaseURL:  dbURL,
		TableName:    DefaultTableName,
		Logger:       logger,
	})
}
