package compression

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/BaSui01/taskengine/internal/pool"
	"github.com/BaSui01/taskengine/types"
	"github.com/klauspost/compress/gzip"
)

// ============================================================
// 📦 负载压缩
// ============================================================

const (
	// DefaultLevel 默认压缩级别（速度与压缩率的平衡点）
	DefaultLevel = 6
	// MinLevel 最小压缩级别
	MinLevel = 1
	// MaxLevel 最大压缩级别
	MaxLevel = 9
	// DefaultThreshold 低于该字节数时不压缩
	DefaultThreshold = 4096
)

// gzip 魔数
var gzipMagic = []byte{0x1f, 0x8b}

// Options 压缩选项
type Options struct {
	Level     int `json:"level" yaml:"level"`
	Threshold int `json:"threshold" yaml:"threshold"`
}

// DefaultOptions 返回默认压缩选项
func DefaultOptions() Options {
	return Options{Level: DefaultLevel, Threshold: DefaultThreshold}
}

// Result 压缩结果
// Compressed 为 false 时 Data 即原始 JSON 序列化字节。
type Result struct {
	Data           []byte  `json:"data"`
	OriginalSize   int     `json:"original_size"`
	CompressedSize int     `json:"compressed_size"`
	Ratio          float64 `json:"ratio"`
	Compressed     bool    `json:"compressed"`
}

// Compress 序列化 payload 并使用 gzip 压缩
// level 为 0 时使用 DefaultLevel。
func Compress(payload any, level int) ([]byte, error) {
	raw, err := marshal(payload)
	if err != nil {
		return nil, err
	}
	return gzipBytes(raw, level)
}

// CompressWithInfo 按阈值压缩，压缩后不变小时返回原始字节
func CompressWithInfo(payload any, opts Options) (Result, error) {
	raw, err := marshal(payload)
	if err != nil {
		return Result{}, err
	}
	return CompressBytes(raw, opts)
}

// CompressBytes 对已序列化的字节执行与 CompressWithInfo 相同的策略
func CompressBytes(raw []byte, opts Options) (Result, error) {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}

	uncompressed := Result{
		Data:           raw,
		OriginalSize:   len(raw),
		CompressedSize: len(raw),
		Ratio:          1,
	}
	if len(raw) < opts.Threshold {
		return uncompressed, nil
	}

	packed, err := gzipBytes(raw, opts.Level)
	if err != nil {
		return Result{}, err
	}
	ratio := float64(len(packed)) / float64(len(raw))
	if ratio >= 1 {
		return uncompressed, nil
	}

	return Result{
		Data:           packed,
		OriginalSize:   len(raw),
		CompressedSize: len(packed),
		Ratio:          ratio,
		Compressed:     true,
	}, nil
}

// Decompress 解压并反序列化
// 非 gzip 数据按原始 JSON 处理。
func Decompress(data []byte) (any, error) {
	var out any
	if err := DecompressInto(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecompressInto 解压并反序列化到 v
func DecompressInto(data []byte, v any) error {
	raw, err := DecompressBytes(data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return types.NewError(types.ErrCompressionError, "decode payload").WithCause(err)
	}
	return nil
}

// DecompressWithInfo 根据压缩结果还原 payload
func DecompressWithInfo(r Result) (any, error) {
	if !r.Compressed {
		var out any
		if err := json.Unmarshal(r.Data, &out); err != nil {
			return nil, types.NewError(types.ErrCompressionError, "decode payload").WithCause(err)
		}
		return out, nil
	}
	return Decompress(r.Data)
}

// DecompressBytes 返回解压后的原始字节，非 gzip 数据原样返回
func DecompressBytes(data []byte) ([]byte, error) {
	if !IsGzip(data) {
		return data, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, types.NewError(types.ErrCompressionError, "open gzip stream").WithCause(err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, types.NewError(types.ErrCompressionError, "read gzip stream").WithCause(err)
	}
	return raw, nil
}

// IsGzip 通过魔数判断数据是否为 gzip 格式
func IsGzip(data []byte) bool {
	return len(data) >= 2 && bytes.Equal(data[:2], gzipMagic)
}

// ValidateLevel 校验压缩级别
func ValidateLevel(level int) error {
	if level < MinLevel || level > MaxLevel {
		return types.Errorf(types.ErrCompressionError, "compression level %d out of range [%d,%d]", level, MinLevel, MaxLevel)
	}
	return nil
}

func marshal(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, types.NewError(types.ErrCompressionError, "encode payload").WithCause(err)
	}
	return raw, nil
}

func gzipBytes(raw []byte, level int) ([]byte, error) {
	if level == 0 {
		level = DefaultLevel
	}
	if err := ValidateLevel(level); err != nil {
		return nil, err
	}

	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)

	zw, err := gzip.NewWriterLevel(buf, level)
	if err != nil {
		return nil, types.NewError(types.ErrCompressionError, "create gzip writer").WithCause(err)
	}
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		return nil, types.NewError(types.ErrCompressionError, "write gzip stream").WithCause(err)
	}
	if err := zw.Close(); err != nil {
		return nil, types.NewError(types.ErrCompressionError, "flush gzip stream").WithCause(err)
	}
	// buf 归还池后会被复用，必须拷贝
	return bytes.Clone(buf.Bytes()), nil
}
