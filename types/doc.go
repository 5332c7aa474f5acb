// Copyright (c) TaskEngine Authors.
// Licensed under the MIT License.

/*
Package types 提供 TaskEngine 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 task、loopguard、taskcache、
compression、engine 与 api 等上层模块提供统一的错误契约与 Context 传播工具。

# 核心类型

  - Error / ErrorCode：结构化错误体系，含稳定错误码、Details、HTTP 状态码与 Retryable 标记
  - LoopError：防循环错误，额外携带触发规则时的 CallChain

# 主要能力

  - 错误工具链：AsError / AsLoopError / GetErrorCode / IsErrorCode / IsRetryable
  - Context 传播：WithTraceID / WithTenantID / WithUserID / WithRoles / WithRequestID
*/
package types
