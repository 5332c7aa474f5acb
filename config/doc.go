// Package config 提供 TaskEngine 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → TASKENGINE_* 环境变量 的顺序合并，
// 再由 Validate 统一校验。Backends 与别名表仅支持 YAML。
package config
