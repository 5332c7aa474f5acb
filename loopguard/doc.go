// Copyright (c) TaskEngine Authors. Licensed under the MIT License.

/*
Package loopguard 防止任务在多个执行后端之间递归路由形成循环。

# 概述

调用链（call chain）记录任务路由经过的参与者，每次嵌套调度都会依次追加
中枢（hub）与目标后端。Guard 在调度前按固定顺序检查四条规则，首个被违反的
规则决定返回的错误码：

 1. 深度：depth >= maxDepth 返回 DEPTH_EXCEEDED
 2. 自调用：目标已出现在调用链中返回 LOOP_DETECTED
 3. 链长度：当前链 + 中枢 + 目标超过 maxChainLength 返回 CHAIN_TOO_LONG
 4. 阻止模式：渲染后的调用链匹配任一正则返回 BLOCKED_PATTERN

# 上下文

Context 为不可变值类型，CreateContext / ExtendContext / MergeContext 均返回新实例。
跨进程传递时使用 JSON（task_id、origin_client、call_chain、depth、max_depth、created_at），
解码前应先通过 IsValidContext 或 ParseContext 校验结构。

# 名称规范化

参与者名称统一小写、去首尾空白，空白/连字符/下划线串折叠为单个连字符，再经过别名表映射。
未知名称保留规范形式，不会折叠为 unknown，避免两个不同的未知参与者被误判为自调用。
*/
package loopguard
