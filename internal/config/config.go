package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Log      LogConfig      `mapstructure:"log"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Mode        string `mapstructure:"mode"`
	Port        int    `mapstructure:"port"`
	SessionIdle int    `mapstructure:"session_idle"` // 秒
}

// SessionIdleDuration 返回会话空闲回收时间
func (a *AppConfig) SessionIdleDuration() time.Duration {
	return time.Duration(a.SessionIdle) * time.Second
}

// BackendConfig Feed/Comment REST 后端配置
type BackendConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	Timeout      int    `mapstructure:"timeout"`        // 秒
	MaxRetryTime int    `mapstructure:"max_retry_time"` // 秒，仅用于幂等的 GET
	ServiceToken string `mapstructure:"service_token"`  // worker 导出时使用
}

// TimeoutDuration 返回单次请求超时时间
func (b *BackendConfig) TimeoutDuration() time.Duration {
	return time.Duration(b.Timeout) * time.Second
}

// MaxRetryDuration 返回 GET 重试的最长耗时
func (b *BackendConfig) MaxRetryDuration() time.Duration {
	return time.Duration(b.MaxRetryTime) * time.Second
}

// EngineConfig 评论引擎配置
type EngineConfig struct {
	MutationTimeout int    `mapstructure:"mutation_timeout"`  // 秒
	LikeSettleDelay int    `mapstructure:"like_settle_delay"` // 毫秒
	OrphanPolicy    string `mapstructure:"orphan_policy"`     // promote | drop
	TimeFormat      string `mapstructure:"time_format"`       // layout | relative
	TimeLayout      string `mapstructure:"time_layout"`
	TimeZone        string `mapstructure:"time_zone"`
}

// MutationTimeoutDuration 返回单次变更的网络超时
func (e *EngineConfig) MutationTimeoutDuration() time.Duration {
	return time.Duration(e.MutationTimeout) * time.Second
}

// LikeSettleDuration 返回点赞防抖时长
func (e *EngineConfig) LikeSettleDuration() time.Duration {
	return time.Duration(e.LikeSettleDelay) * time.Millisecond
}

// LedgerConfig 点赞账本存储配置
type LedgerConfig struct {
	Backend string `mapstructure:"backend"` // memory | redis | postgres
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
}

// DSN 返回PostgreSQL连接字符串
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Addr 返回Redis地址
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MinIOConfig MinIO配置
type MinIOConfig struct {
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	UseSSL       bool   `mapstructure:"use_ssl"`
	ExportBucket string `mapstructure:"export_bucket"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string          `mapstructure:"brokers"`
	Topics  map[string]string `mapstructure:"topics"`
}

// Topic 返回 topic 名称，未配置时使用默认值
func (k *KafkaConfig) Topic(name, fallback string) string {
	if t, ok := k.Topics[name]; ok && t != "" {
		return t
	}
	return fallback
}

// Enabled Kafka 是否可用
func (k *KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

// ExpireDuration 返回过期时间
func (j *JWTConfig) ExpireDuration() time.Duration {
	return time.Duration(j.ExpireHours) * time.Hour
}

// LogConfig 日志配置
type LogConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

var globalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "crm-feed")
	v.SetDefault("app.mode", "release")
	v.SetDefault("app.port", 8000)
	v.SetDefault("app.session_idle", 1800)
	v.SetDefault("backend.timeout", 10)
	v.SetDefault("backend.max_retry_time", 15)
	v.SetDefault("engine.mutation_timeout", 15)
	v.SetDefault("engine.like_settle_delay", 500)
	v.SetDefault("engine.orphan_policy", "promote")
	v.SetDefault("engine.time_format", "layout")
	v.SetDefault("engine.time_layout", "Jan 2, 2006 3:04 PM")
	v.SetDefault("engine.time_zone", "Local")
	v.SetDefault("ledger.backend", "memory")
	v.SetDefault("minio.export_bucket", "comment-exports")
	v.SetDefault("jwt.expire_hours", 24)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
}

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// CRM_FEED_BACKEND_BASE_URL 覆盖 backend.base_url
	v.SetEnvPrefix("CRM_FEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Backend.BaseURL == "" {
		return nil, fmt.Errorf("backend.base_url is required")
	}

	globalConfig = &cfg

	return &cfg, nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("config not loaded, please call Load() first")
	}
	return globalConfig
}

// GetJWT 获取JWT配置
func GetJWT() *JWTConfig {
	return &Get().JWT
}

// GetApp 获取应用配置
func GetApp() *AppConfig {
	return &Get().App
}
