// Package api 定义 TaskEngine HTTP API 的请求与响应类型。
//
// # API Overview
//
// TaskEngine 提供以下 RESTful 端点：
//   - POST /api/v1/tasks            创建任务
//   - GET  /api/v1/tasks            分页列出任务
//   - GET  /api/v1/tasks/{id}       查询任务
//   - POST /api/v1/tasks/{id}/run   执行任务
//   - GET  /api/v1/stats            缓存统计与已注册后端
//   - /health、/healthz、/ready、/version
//
// # Loop Context
//
// 调用方可通过请求体字段或 X-Task-Context 头传入 JSON 调用链上下文：
//
//	X-Task-Context: {"task_id":"...","origin_client":"claude","call_chain":["claude","hub","gemini"],"depth":1,"created_at":"..."}
//
// 请求体字段优先于请求头。
//
// # Authentication
//
// 启用认证后需携带 X-API-Key 头或 Bearer JWT。
package api
