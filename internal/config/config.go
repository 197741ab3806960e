package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	gwerrors "gateway/internal/errors"
	"gateway/internal/logging"
	"gateway/internal/retry"
)

// EnvPrefix 环境变量前缀，例如 GATEWAY_ROLLUP_CHAIN_ID
const EnvPrefix = "GATEWAY"

// DBDSNEnv 指定后从数据库加载覆盖配置
const DBDSNEnv = "GATEWAY_DB_DSN"

// Config 主配置
type Config struct {
	Node    *NodeConfig        `mapstructure:"node"`
	Rollup  *RollupConfig      `mapstructure:"rollup"`
	Server  *ServerConfig      `mapstructure:"server"`
	Output  *OutputConfig      `mapstructure:"output"`
	Cache   *CacheConfig       `mapstructure:"cache"`
	Retry   *retry.RetryConfig `mapstructure:"retry"`
	Logging *logging.LogConfig `mapstructure:"logging"`
}

// NodeConfig Godwoken 节点配置
type NodeConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RollupConfig 链参数，由转换层注入使用
type RollupConfig struct {
	ChainID                    uint64      `mapstructure:"chain_id"`
	CreatorAccountID           uint32      `mapstructure:"creator_account_id"`
	RegistryAccountID          uint32      `mapstructure:"registry_account_id"`
	DefaultFromAccountID       uint32      `mapstructure:"default_from_account_id"`
	RollupTypeHash             common.Hash `mapstructure:"rollup_type_hash"`
	EthEoaLockTypeHash         common.Hash `mapstructure:"eth_eoa_lock_type_hash"`
	PolyjuiceValidatorTypeHash common.Hash `mapstructure:"polyjuice_validator_type_hash"`
}

// ServerConfig JSON-RPC 服务配置
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ClientVersion  string        `mapstructure:"client_version"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBatchSize   int           `mapstructure:"max_batch_size"`
	DebugLogs      bool          `mapstructure:"debug_logs"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	Brokers []string          `mapstructure:"brokers"`
	Topics  map[string]string `mapstructure:"topics"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	Kafka *KafkaConfig `mapstructure:"kafka"`
}

// CacheConfig 账户编号缓存配置
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoadConfig 加载配置：YAML 文件、GATEWAY_ 环境变量，设置了 GATEWAY_DB_DSN 时再叠加数据库配置
func LoadConfig(configPath string, logger *logrus.Logger) (*Config, error) {
	v := newViper()
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	if dsn := os.Getenv(DBDSNEnv); dsn != "" {
		if logger == nil {
			logger = logrus.StandardLogger()
		}
		dbConfig, err := NewDatabaseConfig(dsn, logger)
		if err != nil {
			return nil, fmt.Errorf("连接数据库失败: %w", err)
		}
		defer dbConfig.Close()

		overrides, err := dbConfig.LoadOverrides()
		if err != nil {
			return nil, fmt.Errorf("从数据库加载配置失败: %w", err)
		}
		if skipped := applyOverrides(v, overrides); len(skipped) > 0 {
			logger.Warnf("忽略未知的数据库配置项: %v", skipped)
		}
		logger.Infof("已从数据库加载 %d 项配置", len(overrides))
	}

	return decode(v)
}

// LoadConfigFromFile 仅从文件与环境变量加载配置
func LoadConfigFromFile(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v, GetDefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// setDefaults 注册全部键，使 AutomaticEnv 对未出现在文件中的键也生效
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("node.url", d.Node.URL)
	v.SetDefault("node.timeout", d.Node.Timeout.String())

	v.SetDefault("rollup.chain_id", d.Rollup.ChainID)
	v.SetDefault("rollup.creator_account_id", d.Rollup.CreatorAccountID)
	v.SetDefault("rollup.registry_account_id", d.Rollup.RegistryAccountID)
	v.SetDefault("rollup.default_from_account_id", d.Rollup.DefaultFromAccountID)
	v.SetDefault("rollup.rollup_type_hash", d.Rollup.RollupTypeHash.Hex())
	v.SetDefault("rollup.eth_eoa_lock_type_hash", d.Rollup.EthEoaLockTypeHash.Hex())
	v.SetDefault("rollup.polyjuice_validator_type_hash", d.Rollup.PolyjuiceValidatorTypeHash.Hex())

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.client_version", d.Server.ClientVersion)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout.String())
	v.SetDefault("server.max_batch_size", d.Server.MaxBatchSize)
	v.SetDefault("server.debug_logs", d.Server.DebugLogs)

	v.SetDefault("output.kafka.enabled", d.Output.Kafka.Enabled)
	v.SetDefault("output.kafka.brokers", d.Output.Kafka.Brokers)
	v.SetDefault("output.kafka.topics", d.Output.Kafka.Topics)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.path", d.Cache.Path)

	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.initial_interval", d.Retry.InitialInterval.String())
	v.SetDefault("retry.max_interval", d.Retry.MaxInterval.String())
	v.SetDefault("retry.backoff_factor", d.Retry.BackoffFactor)
	v.SetDefault("retry.randomization_factor", d.Retry.RandomizationFactor)
	v.SetDefault("retry.enable_jitter", d.Retry.EnableJitter)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&config, hook); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return &config, nil
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Node: &NodeConfig{
			URL:     "", // 需要在YAML、环境变量或数据库中指定
			Timeout: 10 * time.Second,
		},
		Rollup: &RollupConfig{
			ChainID:              71393,
			CreatorAccountID:     4,
			RegistryAccountID:    2,
			DefaultFromAccountID: 3,
		},
		Server: &ServerConfig{
			Host:           "0.0.0.0",
			Port:           8024,
			ClientVersion:  "gateway/v1.0.0",
			RequestTimeout: 30 * time.Second,
			MaxBatchSize:   100,
			DebugLogs:      true,
		},
		Output: &OutputConfig{
			Kafka: &KafkaConfig{
				Enabled: false,
				Brokers: []string{"localhost:9092"},
				Topics: map[string]string{
					"pending_transactions": "gateway_pending_transactions",
					"logs":                 "gateway_logs",
				},
			},
		},
		Cache: &CacheConfig{
			Enabled: true,
			Path:    "./data/accounts.db",
		},
		Retry: &retry.RetryConfig{
			MaxAttempts:         retry.NodeReadRetryConfig.MaxAttempts,
			InitialInterval:     retry.NodeReadRetryConfig.InitialInterval,
			MaxInterval:         retry.NodeReadRetryConfig.MaxInterval,
			BackoffFactor:       retry.NodeReadRetryConfig.BackoffFactor,
			RandomizationFactor: retry.NodeReadRetryConfig.RandomizationFactor,
			EnableJitter:        retry.NodeReadRetryConfig.EnableJitter,
		},
		Logging: &logging.LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Validate 校验启动所需的配置项
func (c *Config) Validate() error {
	if c.Node == nil || c.Node.URL == "" {
		return gwerrors.ErrConfigInvalid.New("node.url 未配置")
	}
	if c.Rollup == nil {
		return gwerrors.ErrConfigInvalid.New("rollup 段缺失")
	}
	if err := c.Rollup.Validate(); err != nil {
		return err
	}
	if c.Server == nil || c.Server.Port <= 0 || c.Server.Port > 65535 {
		return gwerrors.ErrConfigInvalid.New("server.port 无效")
	}
	if c.Output != nil && c.Output.Kafka != nil && c.Output.Kafka.Enabled {
		if len(c.Output.Kafka.Brokers) == 0 {
			return gwerrors.ErrConfigInvalid.New("已启用 Kafka 但未配置 brokers")
		}
		for _, key := range []string{"pending_transactions", "logs"} {
			if c.Output.Kafka.Topics[key] == "" {
				return gwerrors.ErrConfigInvalid.New("缺少 Kafka topic: %s", key)
			}
		}
	}
	if c.Cache != nil && c.Cache.Enabled && c.Cache.Path == "" {
		return gwerrors.ErrConfigInvalid.New("已启用缓存但未配置 cache.path")
	}
	return nil
}

// Validate 校验链参数
func (r *RollupConfig) Validate() error {
	if r.ChainID == 0 {
		return gwerrors.ErrConfigInvalid.New("rollup.chain_id 未配置")
	}
	hashes := map[string]common.Hash{
		"rollup_type_hash":              r.RollupTypeHash,
		"eth_eoa_lock_type_hash":        r.EthEoaLockTypeHash,
		"polyjuice_validator_type_hash": r.PolyjuiceValidatorTypeHash,
	}
	for name, h := range hashes {
		if h == (common.Hash{}) {
			return gwerrors.ErrConfigInvalid.New("rollup.%s 未配置", name)
		}
	}
	return nil
}
