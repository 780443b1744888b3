package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"mailpipeline/pkg/config"
)

type Config struct {
	LogLevel   string                  `yaml:"log_level"`
	DB         config.DBConfig         `yaml:"db"`
	MQ         config.MQConfig         `yaml:"mq"`
	Redis      config.RedisConfig      `yaml:"redis"`
	JWT        config.JWTConfig        `yaml:"jwt"`
	Server     config.ServerConfig     `yaml:"server"`
	IMAP       config.IMAPConfig       `yaml:"imap"`
	Classifier config.ClassifierConfig `yaml:"classifier"`
	Ingestion  config.IngestionConfig  `yaml:"ingestion"`
	Scheduler  config.SchedulerConfig  `yaml:"scheduler"`
	Alerts     config.AlertsConfig     `yaml:"alerts"`
	Sentry     config.SentryConfig     `yaml:"sentry"`
	SMTP       config.SMTPConfig       `yaml:"smtp"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load 读取 base.yaml + <env>.yaml，环境变量覆盖后校验
func Load() (*Config, error) {
	// 使用统一配置中心
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	cfgMap, err := config.LoadConfig(env, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var cfg Config
	if err := config.Decode(cfgMap, &cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideIMAPFromEnv(&cfg.IMAP)
	config.OverrideClassifierFromEnv(&cfg.Classifier)
	config.OverrideSentryFromEnv(&cfg.Sentry)
	config.OverrideSMTPFromEnv(&cfg.SMTP)
	cfg.LogLevel = config.GetEnv("LOG_LEVEL", cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 启动前检查必填项，一次返回所有缺失字段
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fmt.Errorf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %w", errors.Join(errs...))
}
