// Package tokenizer 为任务指标统计输入/输出 token 数。
//
// 默认使用 tiktoken 的 cl100k_base 编码；编码无法加载（如离线环境）时
// FallbackCounter 回退到按字符估算，并只记录一次警告。
package tokenizer
