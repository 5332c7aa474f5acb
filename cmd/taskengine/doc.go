// Copyright (c) TaskEngine Authors. Licensed under the MIT License.

/*
Package main 提供 TaskEngine 服务端程序入口。

# 概述

cmd/taskengine 提供 HTTP API 服务、数据库迁移、健康检查和版本查询等子命令。
配置按 默认值 → YAML 文件 → TASKENGINE_* 环境变量 的顺序加载。

# 核心类型

  - Server：组合 taskengine.Runtime、API 端口与 metrics 端口
  - Middleware：func(http.Handler) http.Handler

# 中间件链

Recovery、RequestID、SecurityHeaders、OTelTracing、MetricsMiddleware、
RequestLogger、BodyLimit、JWTAuth 或 APIKeyAuth、RateLimiter（按租户或 IP）。
探针路径（/health、/ready、/version 等）跳过认证与限流。

# 构建注入

Version、BuildTime、GitCommit 通过 ldflags 设置。
*/
package main
