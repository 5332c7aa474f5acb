// Copyright (c) TaskEngine Authors. Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的任务引擎指标采集。

# 概述

Collector 通过 promauto.With 注册到调用方传入的 Registerer，
测试中可使用独立的 prometheus.NewRegistry() 避免重复注册。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 任务指标：创建数、运行结果（含 cache_hit 维度）、运行耗时、token 计数、过期回收数。
  - 缓存与循环防护：Collector 实现 taskcache.Observer 与 loopguard.Observer。
  - 压缩：负载大小与压缩率直方图。
  - 存储与连接池：操作耗时、失败计数、连接数；工作池 gauge。
*/
package metrics
