package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"servercheck/internal/model"
)

// Config 主配置结构
type Config struct {
	Store   StoreConfig
	Probe   ProbeConfig
	Webhook WebhookConfig
	Log     LogConfig
	APIPort int
	// CronSpecs 额外的 cron 触发表达式（秒级）
	CronSpecs []string
}

// StoreConfig 持久化配置
type StoreConfig struct {
	Backend  string // sqlite | s3
	DBPath   string // SQLite 数据库路径
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string // 兼容 S3 的自定义地址
}

// ProbeConfig 检测配置
type ProbeConfig struct {
	RefreshInterval    float64 // 秒，0 表示关闭定时刷新
	TimeoutMS          int
	MaxConcurrent      int
	PingPrivileged     bool
	InsecureSkipVerify bool
}

// WebhookConfig Webhook 回调配置
type WebhookConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Timeout int               `json:"timeout"`
}

// LogConfig 日志配置
type LogConfig struct {
	Enabled bool
	Level   string
	Path    string
	MaxDays int
}

// Load 从 .env 文件和环境变量加载配置，envFile 为空时读取当前目录的 .env
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, err
		}
	} else {
		_ = godotenv.Load()
	}
	cfg := &Config{}

	// 持久化
	cfg.Store.Backend = strings.ToLower(getEnvString("STORE_BACKEND", "sqlite"))
	cfg.Store.DBPath = getEnvString("DB_PATH", "./data/servercheck.db")
	cfg.Store.Bucket = os.Getenv("S3_BUCKET")
	cfg.Store.Prefix = getEnvString("S3_PREFIX", "servercheck/")
	cfg.Store.Region = getEnvString("S3_REGION", "us-east-1")
	cfg.Store.Endpoint = os.Getenv("S3_ENDPOINT")

	// 检测
	cfg.Probe.RefreshInterval = getEnvFloat("REFRESH_INTERVAL", 60)
	cfg.Probe.TimeoutMS = getEnvInt("PROBE_TIMEOUT_MS", 3000)
	cfg.Probe.MaxConcurrent = getEnvInt("MAX_CONCURRENT_PROBES", 64)
	cfg.Probe.PingPrivileged = getEnvBool("PING_PRIVILEGED", true)
	cfg.Probe.InsecureSkipVerify = getEnvBool("HTTP_INSECURE_SKIP_VERIFY", false)
	cfg.CronSpecs = splitList(os.Getenv("CRON_SPECS"))

	cfg.APIPort = getEnvInt("API_PORT", 8080)

	// Webhook 配置
	cfg.Webhook.URL = os.Getenv("WEBHOOK_URL")
	cfg.Webhook.Method = getEnvString("WEBHOOK_METHOD", "POST")
	cfg.Webhook.Timeout = getEnvInt("WEBHOOK_TIMEOUT", 10)

	// 日志配置
	cfg.Log.Enabled = getEnvBool("LOG_ENABLED", true)
	cfg.Log.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Log.Path = getEnvString("LOG_PATH", "./logs/servercheck.log")
	cfg.Log.MaxDays = getEnvInt("LOG_MAX_DAYS", 30)

	return cfg, nil
}

// Settings 环境变量中的默认检测设置
func (c *Config) Settings() model.Settings {
	return model.Settings{
		RefreshInterval: c.Probe.RefreshInterval,
		ProbeTimeoutMS:  c.Probe.TimeoutMS,
	}
}

func splitList(val string) []string {
	var out []string
	for _, item := range strings.Split(val, ";") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}
