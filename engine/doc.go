// Copyright (c) TaskEngine Authors. Licensed under the MIT License.

/*
Package engine 编排任务的创建与执行。

# 流程

创建：校验输入 → auto 路由到预估后端 → 计算缓存键与压缩率 → 持久化 pending 任务。

运行：读取任务（过期则返回 TASK_EXPIRED）→ 查本地缓存与 Redis 共享层，命中时直接
完成任务且不调度后端 → 循环防护校验目标后端 → 调度 Backend（超时为
EXECUTION_TIMEOUT，其他错误为 EXECUTION_FAILED）→ 持久化结果并写入缓存。

相同任务的并发未命中会各自调度后端，引擎不做合并（single-flight）。

# 后端

Backend 只有 Name 与 Execute 两个方法，在启动时注册到 Registry。
engine/backends 提供命令行后端与函数后端。
*/
package engine
