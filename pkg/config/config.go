package config

import (
	"os"
	"strconv"
	"time"
)

// DBConfig 数据库配置
type DBConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	Name          string        `yaml:"name"`
	SSLMode       string        `yaml:"sslmode"`
	MaxConns      int32         `yaml:"max_conns"`
	SlowThreshold time.Duration `yaml:"slow_threshold"`
	AutoMigrate   bool          `yaml:"auto_migrate"`
}

// MQConfig 消息队列配置
type MQConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret string `yaml:"secret" validate:"required,min=16"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port string `yaml:"port" validate:"required"`
}

// IMAPConfig 邮箱配置
type IMAPConfig struct {
	Host     string `yaml:"host" validate:"required,hostname_rfc1123|ip"`
	Port     int    `yaml:"port" validate:"required,min=1,max=65535"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password" validate:"required"`
	Mailbox  string `yaml:"mailbox"`
	TLS      bool   `yaml:"tls"`
}

// ClassifierConfig 分类器配置，provider: stub | remote
type ClassifierConfig struct {
	Provider         string        `yaml:"provider" validate:"omitempty,oneof=stub remote"`
	APIKey           string        `yaml:"api_key" validate:"required_unless=Provider stub"`
	BaseURL          string        `yaml:"base_url"`
	Model            string        `yaml:"model"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

// IngestionConfig 单次摄取配置
type IngestionConfig struct {
	MaxPerRun    int `yaml:"max_per_run"`
	BodyMaxChars int `yaml:"body_max_chars"`
}

// SchedulerConfig 调度配置，lock: local | redis
type SchedulerConfig struct {
	Interval   time.Duration `yaml:"interval"`
	RunOnStart bool          `yaml:"run_on_start"`
	Lock       string        `yaml:"lock"`
	LockTTL    time.Duration `yaml:"lock_ttl"`
}

// AlertsConfig 告警配置
type AlertsConfig struct {
	DuplicateThreshold int           `yaml:"duplicate_threshold"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	HandlerTimeout     time.Duration `yaml:"handler_timeout"`
	HistorySize        int           `yaml:"history_size"`
	PublishToMQ        bool          `yaml:"publish_to_mq"`
	EmailTo            []string      `yaml:"email_to"`
}

// SentryConfig Sentry 配置，dsn 为空时不启用
type SentryConfig struct {
	DSN         string  `yaml:"dsn"`
	Environment string  `yaml:"environment"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// SMTPConfig 告警邮件发送配置
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// OverrideDBFromEnv 从环境变量覆盖数据库配置
func OverrideDBFromEnv(cfg *DBConfig) {
	setString(&cfg.Host, "DB_HOST")
	setInt(&cfg.Port, "DB_PORT")
	setString(&cfg.User, "DB_USER")
	setString(&cfg.Password, "DB_PASSWORD")
	setString(&cfg.Name, "DB_NAME")
}

// OverrideMQFromEnv 从环境变量覆盖MQ配置
func OverrideMQFromEnv(cfg *MQConfig) {
	setString(&cfg.URL, "MQ_URL")
}

// OverrideRedisFromEnv 从环境变量覆盖Redis配置
func OverrideRedisFromEnv(cfg *RedisConfig) {
	setString(&cfg.Addr, "REDIS_ADDR")
	setString(&cfg.Password, "REDIS_PASSWORD")
}

// OverrideJWTFromEnv 从环境变量覆盖JWT配置
func OverrideJWTFromEnv(cfg *JWTConfig) {
	setString(&cfg.Secret, "JWT_SECRET")
}

// OverrideServerFromEnv 从环境变量覆盖服务器配置
func OverrideServerFromEnv(cfg *ServerConfig) {
	setString(&cfg.Port, "SERVER_PORT")
}

// OverrideIMAPFromEnv 从环境变量覆盖邮箱配置
func OverrideIMAPFromEnv(cfg *IMAPConfig) {
	setString(&cfg.Host, "IMAP_HOST")
	setInt(&cfg.Port, "IMAP_PORT")
	setString(&cfg.User, "IMAP_USER")
	setString(&cfg.Password, "IMAP_PASSWORD")
	setString(&cfg.Mailbox, "IMAP_MAILBOX")
}

// OverrideClassifierFromEnv 从环境变量覆盖分类器配置
func OverrideClassifierFromEnv(cfg *ClassifierConfig) {
	setString(&cfg.Provider, "AI_PROVIDER")
	setString(&cfg.APIKey, "CLASSIFIER_API_KEY")
	setString(&cfg.BaseURL, "CLASSIFIER_BASE_URL")
	setString(&cfg.Model, "CLASSIFIER_MODEL")
}

// OverrideSentryFromEnv 从环境变量覆盖 Sentry 配置
func OverrideSentryFromEnv(cfg *SentryConfig) {
	setString(&cfg.DSN, "SENTRY_DSN")
}

// OverrideSMTPFromEnv 从环境变量覆盖 SMTP 配置
func OverrideSMTPFromEnv(cfg *SMTPConfig) {
	setString(&cfg.Host, "SMTP_HOST")
	setInt(&cfg.Port, "SMTP_PORT")
	setString(&cfg.User, "SMTP_USER")
	setString(&cfg.Password, "SMTP_PASSWORD")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
