package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Authority AuthorityConfig `mapstructure:"authority"`
	Business  BusinessConfig  `mapstructure:"business"`
}

type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	Mode   string `mapstructure:"mode"`    // debug / release / test
	NodeID int64  `mapstructure:"node_id"` // 雪花 ID 节点号，多实例部署时各不相同
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"` // json / console
	SQLLevel string `mapstructure:"sql_level"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	Audit string `mapstructure:"audit"`
}

// AuthorityConfig 外部工资机构接口配置
type AuthorityConfig struct {
	BaseURL               string        `mapstructure:"base_url"`
	ClientID              string        `mapstructure:"client_id"`
	TenantID              string        `mapstructure:"tenant_id"`
	User                  string        `mapstructure:"user"`
	Password              string        `mapstructure:"password"`
	Timeout               time.Duration `mapstructure:"timeout"`
	LiquidateReasonCode   string        `mapstructure:"liquidate_reason_code"`
	ProbeInstallmentValue string        `mapstructure:"probe_installment_value"` // 查询额度时未指定分期金额的默认值
}

type BusinessConfig struct {
	LocalBeneficiaryTypes []int  `mapstructure:"local_beneficiary_types"` // 本地计算额度的受益人类型
	MaxInstallments       int    `mapstructure:"max_installments"`
	MaxRetryCount         int    `mapstructure:"max_retry_count"` // outbox 最大重试次数
	Timezone              string `mapstructure:"timezone"`        // 业务时区，截止日和参考月份按该时区计算
}

const defaultAuthorityTimeout = 10 * time.Second

// CallTimeout 外部机构单次调用超时，未配置时取默认值
func (c AuthorityConfig) CallTimeout() time.Duration {
	if c.Timeout <= 0 {
		return defaultAuthorityTimeout
	}
	return c.Timeout
}

// Location 业务时区，未配置时为 UTC
func (c BusinessConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("加载业务时区 %q 失败: %w", c.Timezone, err)
	}
	return loc, nil
}

var GlobalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.node_id", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.sql_level", "warn")
	v.SetDefault("mysql.max_open_conns", 20)
	v.SetDefault("mysql.max_idle_conns", 5)
	v.SetDefault("kafka.topic.audit", "consign.audit")
	v.SetDefault("authority.timeout", defaultAuthorityTimeout)
	v.SetDefault("authority.liquidate_reason_code", "1")
	v.SetDefault("authority.probe_installment_value", "1.00")
	v.SetDefault("business.local_beneficiary_types", []int{3, 4})
	v.SetDefault("business.max_installments", 96)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.timezone", "America/Sao_Paulo")
}

// Load 读取配置文件，环境变量 CONSIGN_* 优先级更高（如 CONSIGN_MYSQL_PASSWORD）
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("consign")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return config, nil
}

// LoadConfig 加载配置文件，失败直接退出
func LoadConfig(configPath string) *Config {
	config, err := Load(configPath)
	if err != nil {
		log.Fatalf("%v", err)
	}

	GlobalConfig = config
	return config
}
