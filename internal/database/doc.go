// Copyright (c) TaskEngine Authors. Licensed under the MIT License.

/*
包 database 提供基于 GORM 的数据库连接池管理，支持健康检查、
统计上报与事务重试。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、
    GetStats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置，Validate 校验连接数关系。
  - StatsReporter：健康检查时上报连接数，由 metrics.Collector 实现。

# 主要能力

  - 健康检查：后台定时 PingContext 探活，Close 时同步停止。
  - 事务管理：WithTransactionRetry 对死锁、序列化失败、
    SQLite "database is locked" 等错误做指数退避重试。
*/
package database
