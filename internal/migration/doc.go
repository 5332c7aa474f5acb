// Copyright (c) TaskEngine Authors. Licensed under the MIT License.

/*
包 migration 管理任务存储（tasks 表）的数据库 Schema 迁移，
基于 golang-migrate，支持 PostgreSQL、MySQL 与 SQLite。

迁移 SQL 通过 embed.FS 内嵌在二进制中，每种方言一个目录，
版本号与名称在各方言间保持一致。默认部署使用 gorm AutoMigrate 建表，
需要版本化管理时通过 `taskengine migrate <command>` 调用本包。

# 核心类型

  - Migrator / DefaultMigrator：Up、Down、DownAll、Steps、Goto、Force、
    Version、Status、Info、Close。
  - Config：方言、连接串、版本表名、锁超时与日志。
  - CLI：终端格式化输出，Run 按子命令名分发。

SQLite 迁移使用 cgo 的 sqlite3 驱动；存储层的纯 Go 驱动占用了 "sqlite"
这个 database/sql 驱动名，两者不能同时注册同名驱动。
*/
package migration
