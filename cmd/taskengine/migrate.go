package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/taskengine/config"
	"github.com/BaSui01/taskengine/internal/migration"
)

// =============================================================================
// 🗄️ 数据库迁移命令
// =============================================================================

// runMigrate taskengine migrate <subcommand> [args] [flags]
func runMigrate(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 || isHelp(args[0]) {
		printMigrateUsage(stdout)
		if len(args) < 1 {
			return 1
		}
		return 0
	}

	command := args[0]
	positional, flagArgs := splitPositional(args[1:])

	fs := flag.NewFlagSet("migrate "+command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	if err := fs.Parse(flagArgs); err != nil {
		return 2
	}
	positional = append(positional, fs.Args()...)

	migrator, err := createMigrator(*configPath, *dbType, *dbURL)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create migrator: %v\n", err)
		return 1
	}
	defer migrator.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := migration.NewCLI(migrator)
	cli.SetOutput(stdout)
	if err := cli.Run(ctx, command, positional); err != nil {
		fmt.Fprintf(stderr, "Migration %s failed: %v\n", command, err)
		return 1
	}
	return 0
}

// createMigrator --db-type 与 --db-url 同时给出时直接使用，否则读取配置中的 store 段
func createMigrator(configPath, dbType, dbURL string) (*migration.DefaultMigrator, error) {
	if dbType != "" && dbURL != "" {
		return migration.NewMigratorFromURL(dbType, dbURL, zap.NewNop())
	}

	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbType != "" {
		cfg.Store.Driver = dbType
	}

	return migration.NewMigratorFromConfig(cfg, zap.NewNop())
}

// splitPositional 分离子命令后、第一个 flag 之前的位置参数（例如 goto 3）
func splitPositional(args []string) (positional, rest []string) {
	for i, a := range args {
		if strings.HasPrefix(a, "-") {
			return args[:i], args[i:]
		}
	}
	return args, nil
}

func isHelp(s string) bool {
	return s == "help" || s == "-h" || s == "--help"
}

func printMigrateUsage(w io.Writer) {
	fmt.Fprintf(w, `Database Migration Commands

Usage:
  taskengine migrate <subcommand> [args] [options]

Subcommands:
  %s

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  taskengine migrate up
  taskengine migrate status --config /etc/taskengine/config.yaml
  taskengine migrate goto 1
  taskengine migrate up --db-type sqlite --db-url "file:taskengine.db?mode=rwc"
`, strings.Join(migration.Commands, ", "))
}
