package taskcache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// KeyLength 缓存键长度（十六进制字符数）
const KeyLength = 32

// GenerateCacheKey 生成确定性缓存键
// payload 中的对象键在任意嵌套层级都会先排序再序列化，
// 因此结构相同、字段顺序不同的负载得到同一个键。
func GenerateCacheKey(taskType string, payload any, engine string) string {
	canonical, err := CanonicalJSON(map[string]any{
		"engine":  engine,
		"payload": payload,
		"type":    taskType,
	})
	if err != nil {
		// 无法序列化时退化为确定性字符串
		canonical = []byte(fmt.Sprintf("%s|%s|%#v", taskType, engine, payload))
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:KeyLength/2])
}

// CanonicalJSON 以键排序的规范形式序列化任意 JSON 兼容值
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}
