// =============================================================================
// 📦 TaskEngine 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("TASKENGINE").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 TaskEngine 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Engine 调度配置
	Engine EngineConfig `yaml:"engine" env:"ENGINE"`

	// Backends 命令行后端（仅 YAML）
	Backends []BackendConfig `yaml:"backends" env:"-"`

	// LoopGuard 循环防护配置
	LoopGuard LoopGuardConfig `yaml:"loop_guard" env:"LOOP_GUARD"`

	// Cache 本地结果缓存
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Compression 负载压缩
	Compression CompressionConfig `yaml:"compression" env:"COMPRESSION"`

	// Store 任务持久化
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Redis 共享结果缓存
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Pool 工作池
	Pool PoolConfig `yaml:"pool" env:"POOL"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Auth 认证配置
	Auth AuthConfig `yaml:"auth" env:"AUTH"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时，需大于任务最大执行超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每 IP 每秒请求数
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发上限
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 请求体上限（字节）
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	// TLS 证书与私钥，均设置时 API 端口启用 HTTPS
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// EngineConfig 调度配置
type EngineConfig struct {
	// 本引擎在调用链中的名称
	HubName string `yaml:"hub_name" env:"HUB_NAME"`
	// 显式可选的后端名称
	Engines []string `yaml:"engines" env:"ENGINES"`
	// 默认执行超时
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	// 超过该字节数的负载压缩交给工作池
	OffloadThresholdBytes int `yaml:"offload_threshold_bytes" env:"OFFLOAD_THRESHOLD_BYTES"`
	// 过期任务回收间隔，0 关闭
	ReapInterval time.Duration `yaml:"reap_interval" env:"REAP_INTERVAL"`
}

// BackendConfig 命令行后端配置
type BackendConfig struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Timeout time.Duration     `yaml:"timeout"`
	Aliases []string          `yaml:"aliases"`
}

// LoopGuardConfig 循环防护配置
type LoopGuardConfig struct {
	// 最大嵌套深度 [1,10]
	MaxDepth int `yaml:"max_depth" env:"MAX_DEPTH"`
	// 最大调用链长度 [2,20]
	MaxChainLength int `yaml:"max_chain_length" env:"MAX_CHAIN_LENGTH"`
	// 是否阻止自调用
	PreventSelfCalls bool `yaml:"prevent_self_calls" env:"PREVENT_SELF_CALLS"`
	// 调用链黑名单正则，为空时使用默认规则
	BlockedPatterns []string `yaml:"blocked_patterns" env:"BLOCKED_PATTERNS"`
	// 名称别名（仅 YAML）
	Aliases map[string]string `yaml:"aliases" env:"-"`
}

// CacheConfig 本地缓存配置
type CacheConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 最大条目数
	MaxEntries int `yaml:"max_entries" env:"MAX_ENTRIES"`
	// 最大总字节数
	MaxBytes int64 `yaml:"max_bytes" env:"MAX_BYTES"`
	// 默认 TTL，0 表示永不过期
	DefaultTTL time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
	// 过期清理间隔
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

// CompressionConfig 压缩配置
type CompressionConfig struct {
	// 压缩级别 [1,9]
	Level int `yaml:"level" env:"LEVEL"`
	// 低于该字节数不压缩
	Threshold int `yaml:"threshold" env:"THRESHOLD"`
}

// StoreConfig 任务存储配置
type StoreConfig struct {
	// 驱动类型: sqlite（纯 Go）, sqlite3（cgo）, postgres, mysql
	Driver string `yaml:"driver" env:"DRIVER"`
	// SQLite 文件路径，":memory:" 为内存库
	DBPath string `yaml:"db_path" env:"DB_PATH"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// SQLite busy_timeout
	BusyTimeout time.Duration `yaml:"busy_timeout" env:"BUSY_TIMEOUT"`
	// 启动时自动建表
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`

	// 负载上限（字节）
	MaxPayloadBytes int `yaml:"max_payload_bytes" env:"MAX_PAYLOAD_BYTES"`
	// 是否压缩存储 payload/result
	CompressionEnabled bool `yaml:"compression_enabled" env:"COMPRESSION_ENABLED"`
	// 存储压缩级别
	CompressionLevel int `yaml:"compression_level" env:"COMPRESSION_LEVEL"`
	// 默认 TTL（小时）
	DefaultTTLHours int `yaml:"default_ttl_hours" env:"DEFAULT_TTL_HOURS"`
	// TTL 上限（小时）
	MaxTTLHours int `yaml:"max_ttl_hours" env:"MAX_TTL_HOURS"`
	// 存储写入遇到锁冲突时的重试次数；引擎本身不重试执行
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 仅作为配置面保留
	RetryDelayMs int `yaml:"retry_delay_ms" env:"RETRY_DELAY_MS"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用共享结果缓存
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 结果 TTL
	ResultTTL time.Duration `yaml:"result_ttl" env:"RESULT_TTL"`
	// 是否使用 TLS 连接
	TLS bool `yaml:"tls" env:"TLS"`
}

// PoolConfig 工作池配置
type PoolConfig struct {
	MaxWorkers  int           `yaml:"max_workers" env:"MAX_WORKERS"`
	QueueSize   int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// AuthConfig 认证配置；APIKeys 与 JWT 均为空时不启用认证
type AuthConfig struct {
	// 允许的 API Key
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// JWT 配置
	JWT JWTConfig `yaml:"jwt" env:"JWT"`
}

// JWTConfig JWT 校验配置
type JWTConfig struct {
	// HS256 密钥
	Secret string `yaml:"secret" env:"SECRET"`
	// RS256 公钥（PEM）
	PublicKey string `yaml:"public_key" env:"PUBLIC_KEY"`
	// 签发者
	Issuer string `yaml:"issuer" env:"ISSUER"`
	// 受众
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// Enabled 是否配置了 JWT 校验
func (j JWTConfig) Enabled() bool {
	return j.Secret != "" || j.PublicKey != ""
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "TASKENGINE",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Time{}) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, "server.tls_cert_file and server.tls_key_file must be set together")
	}

	if strings.TrimSpace(c.Engine.HubName) == "" {
		errs = append(errs, "engine.hub_name is required")
	}
	if c.Engine.DefaultTimeout < 5*time.Second || c.Engine.DefaultTimeout > 5*time.Minute {
		errs = append(errs, "engine.default_timeout must be between 5s and 5m")
	}

	if c.LoopGuard.MaxDepth < 1 || c.LoopGuard.MaxDepth > 10 {
		errs = append(errs, "loop_guard.max_depth must be between 1 and 10")
	}
	if c.LoopGuard.MaxChainLength < 2 || c.LoopGuard.MaxChainLength > 20 {
		errs = append(errs, "loop_guard.max_chain_length must be between 2 and 20")
	}

	if c.Compression.Level < 1 || c.Compression.Level > 9 {
		errs = append(errs, "compression.level must be between 1 and 9")
	}
	if c.Store.CompressionLevel < 1 || c.Store.CompressionLevel > 9 {
		errs = append(errs, "store.compression_level must be between 1 and 9")
	}

	switch c.Store.Driver {
	case "sqlite", "sqlite3", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("unsupported store driver %q", c.Store.Driver))
	}
	if c.Store.MaxPayloadBytes <= 0 {
		errs = append(errs, "store.max_payload_bytes must be positive")
	}
	if c.Store.DefaultTTLHours < 1 || c.Store.MaxTTLHours > 168 || c.Store.DefaultTTLHours > c.Store.MaxTTLHours {
		errs = append(errs, "store ttl hours must satisfy 1 <= default <= max <= 168")
	}

	seen := make(map[string]struct{}, len(c.Backends))
	for i, b := range c.Backends {
		if b.Name == "" || b.Command == "" {
			errs = append(errs, fmt.Sprintf("backends[%d]: name and command are required", i))
			continue
		}
		if _, dup := seen[b.Name]; dup {
			errs = append(errs, fmt.Sprintf("backends[%d]: duplicate name %q", i, b.Name))
		}
		seen[b.Name] = struct{}{}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (s *StoreConfig) DSN() string {
	switch s.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.Host, s.Port, s.User, s.Password, s.Name, s.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			s.User, s.Password, s.Host, s.Port, s.Name,
		)
	case "sqlite", "sqlite3":
		return s.DBPath
	default:
		return ""
	}
}
