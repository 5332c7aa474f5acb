// =============================================================================
// 📦 TaskEngine 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:      DefaultServerConfig(),
		Engine:      DefaultEngineConfig(),
		LoopGuard:   DefaultLoopGuardConfig(),
		Cache:       DefaultCacheConfig(),
		Compression: DefaultCompressionConfig(),
		Store:       DefaultStoreConfig(),
		Redis:       DefaultRedisConfig(),
		Pool:        DefaultPoolConfig(),
		Log:         DefaultLogConfig(),
		Telemetry:   DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    6 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
		MaxBodyBytes:    2 << 20,
	}
}

// DefaultEngineConfig 返回默认调度配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HubName:               "hub",
		Engines:               []string{"claude", "gemini", "codex"},
		DefaultTimeout:        2 * time.Minute,
		OffloadThresholdBytes: 256 << 10,
		ReapInterval:          5 * time.Minute,
	}
}

// DefaultLoopGuardConfig 返回默认循环防护配置
func DefaultLoopGuardConfig() LoopGuardConfig {
	return LoopGuardConfig{
		MaxDepth:         2,
		MaxChainLength:   5,
		PreventSelfCalls: true,
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:       true,
		MaxEntries:    1000,
		MaxBytes:      50 << 20,
		DefaultTTL:    time.Hour,
		SweepInterval: time.Minute,
	}
}

// DefaultCompressionConfig 返回默认压缩配置
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		Level:     6,
		Threshold: 4096,
	}
}

// DefaultStoreConfig 返回默认存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Driver:             "sqlite",
		DBPath:             "taskengine.db",
		Port:               5432,
		SSLMode:            "disable",
		MaxOpenConns:       1,
		MaxIdleConns:       1,
		ConnMaxLifetime:    time.Hour,
		BusyTimeout:        5 * time.Second,
		AutoMigrate:        true,
		MaxPayloadBytes:    1 << 20,
		CompressionEnabled: true,
		CompressionLevel:   6,
		DefaultTTLHours:    24,
		MaxTTLHours:        168,
		MaxRetries:         3,
		RetryDelayMs:       1000,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "taskengine:",
		ResultTTL:    time.Hour,
	}
}

// DefaultPoolConfig 返回默认工作池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxWorkers:  4,
		QueueSize:   256,
		IdleTimeout: 30 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "taskengine",
		SampleRate:   0.1,
	}
}
