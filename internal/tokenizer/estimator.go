package tokenizer

import "unicode/utf8"

// Estimator 基于字符数的 token 估算，区分 CJK 与 ASCII
type Estimator struct{}

// NewEstimator 创建估算器
func NewEstimator() *Estimator { return &Estimator{} }

func (e *Estimator) CountTokens(text string) int {
	if text == "" {
		return 0
	}

	totalChars := utf8.RuneCountInString(text)
	cjkCount := 0
	for _, r := range text {
		if isCJK(r) {
			cjkCount++
		}
	}

	// CJK 约 1.5 字符/token，其余约 4 字符/token
	estimated := int(float64(cjkCount)/1.5 + float64(totalChars-cjkCount)/4.0)
	if estimated == 0 {
		estimated = 1
	}
	return estimated
}

func (e *Estimator) Name() string { return "estimator" }

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3400 && r <= 0x4DBF) || // Extension A
		(r >= 0x20000 && r <= 0x2A6DF) || // Extension B
		(r >= 0xF900 && r <= 0xFAFF) || // Compatibility Ideographs
		(r >= 0x3000 && r <= 0x303F) || // Symbols and Punctuation
		(r >= 0xFF00 && r <= 0xFFEF) // Halfwidth and Fullwidth Forms
}
