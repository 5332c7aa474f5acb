/*
Package handlers 提供 TaskEngine HTTP API 的请求处理器。

# 核心类型

  - TaskHandler：任务创建、查询、列表、执行与缓存统计
  - HealthHandler：/health、/healthz、/ready、/version
  - Response：统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo：结构化错误信息，含 code、message、details、retryable
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码与字节数

# 错误映射

types.ErrorCode 自动映射为 HTTP 状态码：循环拒绝与重复执行为 409，
过期为 410，执行超时为 504，后端失败为 502。执行失败本身不是请求错误，
Run 返回 200 并在 data.error 中携带失败原因。

# 调用链上下文

X-Task-Context 头携带 JSON 上下文，由 loopguard.ParseContext 校验后原样交给引擎；
请求体中的 context / loop_context 字段优先。
*/
package handlers
