package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "AUDITUM_CONFIG"

// DefaultPath 为未指定配置文件时尝试读取的默认位置，文件不存在时忽略。
const DefaultPath = "configs/auditum.yaml"

// Config 描述了 Auditum 在启动阶段需要加载的全部配置。
type Config struct {
	Modules ModulesConfig `koanf:"modules"`
	Log     LogConfig     `koanf:"log"`
	Storage StorageConfig `koanf:"storage"`
	Events  EventsConfig  `koanf:"events"`
	Server  ServerConfig  `koanf:"server"`
}

// ModulesConfig 控制模块发现与加载。
type ModulesConfig struct {
	// Root 为空时使用工作目录下的 modules 目录。
	Root           string `koanf:"root"`
	Concurrency    int    `koanf:"concurrency"`
	MaxScriptBytes int64  `koanf:"max_script_bytes"`
}

// LogConfig 对应 pkg/logger 的初始化参数。
type LogConfig struct {
	Level     string          `koanf:"level"`
	Format    string          `koanf:"format"`
	Outputs   []string        `koanf:"outputs"`
	Lifecycle LifecycleConfig `koanf:"lifecycle"`
}

// LifecycleConfig 描述模块生命周期审计日志的落盘与滚动策略。
type LifecycleConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Path       string `koanf:"path"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
	Compress   bool   `koanf:"compress"`
}

// StorageConfig 描述提供给模块的共享存储句柄。
type StorageConfig struct {
	// Driver 取值 none、memory 或 mysql。
	Driver          string        `koanf:"driver"`
	DSN             string        `koanf:"dsn"`
	Host            string        `koanf:"host"`
	Port            string        `koanf:"port"`
	User            string        `koanf:"user"`
	Password        string        `koanf:"password"`
	Database        string        `koanf:"database"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	// RecordLoads 打开后将每次加载结果写入 module_loads 表。
	RecordLoads bool `koanf:"record_loads"`
}

// EventsConfig 决定生命周期事件发布到哪里。
type EventsConfig struct {
	// Driver 取值 none、memory、redis 或 rabbitmq。
	Driver   string         `koanf:"driver"`
	Redis    RedisConfig    `koanf:"redis"`
	RabbitMQ RabbitMQConfig `koanf:"rabbitmq"`
}

// RedisConfig 用于 Redis 事件发布。
type RedisConfig struct {
	Address  string `koanf:"address"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Key      string `koanf:"key"`
	Channel  string `koanf:"channel"`
}

// RabbitMQConfig 用于 RabbitMQ 事件发布。
type RabbitMQConfig struct {
	URL        string `koanf:"url"`
	Exchange   string `koanf:"exchange"`
	RoutingKey string `koanf:"routing_key"`
	Queue      string `koanf:"queue"`
}

// ServerConfig 控制只读 API 服务的监听地址。
type ServerConfig struct {
	Address string `koanf:"address"`
	// MetricsAddress 非空时在独立端口上暴露 /metrics。
	MetricsAddress string `koanf:"metrics_address"`
}

// envKeys 将环境变量映射到配置键，未列出的变量一律忽略。
var envKeys = map[string]string{
	"AUDITUM_MODULES":             "modules.root",
	"AUDITUM_MODULES_CONCURRENCY": "modules.concurrency",
	"AUDITUM_LOG_LEVEL":           "log.level",
	"AUDITUM_LOG_FORMAT":          "log.format",
	"AUDITUM_LIFECYCLE_LOG":       "log.lifecycle.path",
	"AUDITUM_SERVER_ADDRESS":      "server.address",
	"AUDITUM_METRICS_ADDRESS":     "server.metrics_address",
	"AUDITUM_STORAGE_DRIVER":      "storage.driver",
	"AUDITUM_STORAGE_DSN":         "storage.dsn",
	"AUDITUM_EVENTS_DRIVER":       "events.driver",
	"AUDITUM_REDIS_ADDRESS":       "events.redis.address",
	"AUDITUM_REDIS_PASSWORD":      "events.redis.password",
	"AUDITUM_RABBITMQ_URL":        "events.rabbitmq.url",
	// 兼容旧部署中的存储变量。
	"MONGO_HOST": "storage.host",
	"MONGO_PORT": "storage.port",
	"MONGO_USER": "storage.user",
	"MONGO_PWD":  "storage.password",
	"AUTH_DB":    "storage.database",
}

// Load 依次叠加默认值、配置文件与环境变量。path 为空时读取 AUDITUM_CONFIG，
// 仍为空则尝试 DefaultPath；显式指定的文件不存在会返回错误。
func Load(path string) (*Config, error) {
	explicit := true
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = DefaultPath
		explicit = false
	}

	k := koanf.New(".")
	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("设置默认配置 %s 失败: %w", key, err)
		}
	}

	baseDir := ""
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
		}
		baseDir = filepath.Dir(path)
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envKeys[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("加载环境变量失败: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaults() map[string]any {
	return map[string]any{
		"log.level":                   "info",
		"log.format":                  "text",
		"log.outputs":                 []string{"stdout"},
		"log.lifecycle.max_size_mb":   50,
		"log.lifecycle.max_backups":   5,
		"log.lifecycle.max_age_days":  30,
		"storage.driver":              "none",
		"storage.port":                "3306",
		"storage.max_open_conns":      10,
		"storage.max_idle_conns":      5,
		"storage.conn_max_lifetime":   "30m",
		"events.driver":               "none",
		"events.redis.key":            "auditum:module_events",
		"events.redis.channel":        "auditum:module_events",
		"events.rabbitmq.exchange":    "",
		"events.rabbitmq.routing_key": "auditum.module_events",
		"events.rabbitmq.queue":       "auditum.module_events",
		"server.address":              ":8080",
	}
}

// applyDefaults 将相对路径解析到配置文件所在目录。模块根目录保持相对于工作目录。
func (c *Config) applyDefaults(baseDir string) {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Events.Driver = strings.ToLower(strings.TrimSpace(c.Events.Driver))

	if c.Log.Lifecycle.Path != "" {
		c.Log.Lifecycle.Enabled = true
		if !filepath.IsAbs(c.Log.Lifecycle.Path) && baseDir != "" {
			c.Log.Lifecycle.Path = filepath.Join(baseDir, c.Log.Lifecycle.Path)
		}
	}
	for i, out := range c.Log.Outputs {
		switch out {
		case "", "stdout", "stderr":
			continue
		}
		if !filepath.IsAbs(out) && baseDir != "" {
			c.Log.Outputs[i] = filepath.Join(baseDir, out)
		}
	}
}

// Validate 检查取值范围，避免在运行期才暴露配置错误。
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "none", "memory":
	case "mysql":
		if c.Storage.DSN == "" && c.Storage.Host == "" {
			return errors.New("storage.driver 为 mysql 时必须提供 dsn 或 host")
		}
	default:
		return fmt.Errorf("不支持的存储驱动: %s", c.Storage.Driver)
	}

	switch c.Events.Driver {
	case "none", "memory":
	case "redis":
		if c.Events.Redis.Address == "" {
			return errors.New("events.driver 为 redis 时必须提供 events.redis.address")
		}
	case "rabbitmq":
		if c.Events.RabbitMQ.URL == "" {
			return errors.New("events.driver 为 rabbitmq 时必须提供 events.rabbitmq.url")
		}
	default:
		return fmt.Errorf("不支持的事件驱动: %s", c.Events.Driver)
	}

	if c.Log.Lifecycle.Enabled && c.Log.Lifecycle.Path == "" {
		return errors.New("log.lifecycle.enabled 打开时必须提供 log.lifecycle.path")
	}
	if c.Modules.Concurrency < 0 {
		return errors.New("modules.concurrency 不能为负数")
	}
	return nil
}
