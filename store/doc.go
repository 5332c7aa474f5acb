// Package store 提供任务持久化。
//
// GormStore 基于 gorm，支持纯 Go SQLite（sqlite）、cgo SQLite（sqlite3）、
// PostgreSQL 与 MySQL。payload/result 以 JSON 存储，开启压缩时按需 gzip，
// 读取时依据 gzip 魔数自动识别。表结构与 internal/migration 中的迁移一致。
package store
