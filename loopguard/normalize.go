package loopguard

import (
	"strings"
	"unicode"
)

// UnknownClient 无法识别的发起方
const UnknownClient = "unknown"

// defaultAliases 同一后端的多种写法
var defaultAliases = map[string]string{
	"claude-code":      "claude",
	"claude-cli":       "claude",
	"anthropic":        "claude",
	"anthropic-claude": "claude",

	"gemini-cli":    "gemini",
	"google-gemini": "gemini",
	"google":        "gemini",

	"codex-cli":    "codex",
	"openai-codex": "codex",
	"openai":       "codex",

	"vs-code":    "vscode",
	"cursor-ide": "cursor",
	"terminal":   "cli",
	"shell":      "cli",
	"http":       "api",
	"rest":       "api",
}

// knownClients 发起方的封闭词表
var knownClients = map[string]bool{
	"claude": true,
	"gemini": true,
	"codex":  true,
	"cursor": true,
	"vscode": true,
	"cli":    true,
	"api":    true,
	"web":    true,
}

// KnownClients 返回发起方词表（不含 unknown）
func KnownClients() []string {
	out := make([]string, 0, len(knownClients))
	for c := range knownClients {
		out = append(out, c)
	}
	return out
}

// canonicalForm 大小写折叠、去空白，并把空白/连字符/下划线串折叠为单个连字符
func canonicalForm(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	pending := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsSpace(r) || r == '-' || r == '_' {
			pending = true
			continue
		}
		if pending && b.Len() > 0 {
			b.WriteByte('-')
		}
		pending = false
		b.WriteRune(r)
	}
	return b.String()
}

// NormalizeName 使用默认别名表规范化参与者名称
// 未知名称保留其规范形式，不会折叠为 unknown。
func NormalizeName(name string) string {
	return normalizeWith(name, defaultAliases)
}

// NormalizeClient 把发起方规范化到封闭词表，其余返回 unknown
func NormalizeClient(name string) string {
	n := NormalizeName(name)
	if knownClients[n] {
		return n
	}
	return UnknownClient
}

func normalizeWith(name string, aliases map[string]string) string {
	s := canonicalForm(name)
	if s == "" {
		return UnknownClient
	}
	if alias, ok := aliases[s]; ok {
		return alias
	}
	return s
}
