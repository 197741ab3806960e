package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// configTable 覆盖配置表，config_key 为点分键，例如 rollup.chain_id
const configTable = "gateway_config"

// DatabaseConfig 数据库配置管理器
type DatabaseConfig struct {
	DB     *sql.DB
	logger *logrus.Logger
}

// NewDatabaseConfig 创建数据库配置管理器
func NewDatabaseConfig(dsn string, logger *logrus.Logger) (*DatabaseConfig, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	return &DatabaseConfig{
		DB:     db,
		logger: logger,
	}, nil
}

// LoadOverrides 读取全部生效的覆盖项
func (dc *DatabaseConfig) LoadOverrides() (map[string]string, error) {
	query := fmt.Sprintf(`SELECT config_key, config_value FROM %s WHERE is_active = true`, configTable)
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	overrides := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		overrides[strings.ToLower(strings.TrimSpace(key))] = value
	}
	return overrides, rows.Err()
}

// UpdateConfig 更新配置
func (dc *DatabaseConfig) UpdateConfig(key, value string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (config_key, config_value, is_active, updated_at)
		VALUES ($1, $2, true, CURRENT_TIMESTAMP)
		ON CONFLICT (config_key)
		DO UPDATE SET config_value = $2, is_active = true, updated_at = CURRENT_TIMESTAMP
	`, configTable)

	_, err := dc.DB.Exec(query, key, value)
	return err
}

// GetConfig 获取配置值
func (dc *DatabaseConfig) GetConfig(key string) (string, error) {
	query := fmt.Sprintf(`SELECT config_value FROM %s WHERE config_key = $1 AND is_active = true`, configTable)
	var value string
	err := dc.DB.QueryRow(query, key).Scan(&value)
	return value, err
}

// Close 关闭数据库连接
func (dc *DatabaseConfig) Close() error {
	if dc.DB != nil {
		return dc.DB.Close()
	}
	return nil
}

// applyOverrides 把数据库覆盖项写入 viper，返回无法识别而被跳过的键
func applyOverrides(v *viper.Viper, overrides map[string]string) []string {
	known := make(map[string]bool)
	for _, k := range v.AllKeys() {
		known[k] = true
	}

	var skipped []string
	for key, value := range overrides {
		if !known[key] {
			skipped = append(skipped, key)
			continue
		}
		// 列表类值以 JSON 数组存储
		if strings.HasPrefix(strings.TrimSpace(value), "[") {
			var list []string
			if err := json.Unmarshal([]byte(value), &list); err == nil {
				v.Set(key, list)
				continue
			}
		}
		v.Set(key, value)
	}
	sort.Strings(skipped)
	return skipped
}

// IsKnownKey 判断点分键是否为可覆盖的配置项
func IsKnownKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, k := range newViper().AllKeys() {
		if k == key {
			return true
		}
	}
	return false
}
