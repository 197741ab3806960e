package api

import (
	"database/sql"
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"gateway/internal/config"
)

// ConfigStore 数据库覆盖配置
type ConfigStore interface {
	GetConfig(key string) (string, error)
	UpdateConfig(key, value string) error
}

// ConfigManager 覆盖配置管理，修改在下次启动时生效
type ConfigManager struct {
	store  ConfigStore
	logger *logrus.Logger
}

// NewConfigManager 创建配置管理器
func NewConfigManager(store ConfigStore, logger *logrus.Logger) *ConfigManager {
	return &ConfigManager{
		store:  store,
		logger: logger,
	}
}

// GetConfig 获取配置
func (cm *ConfigManager) GetConfig(c *gin.Context) {
	key := c.Query("key")
	if !config.IsKnownKey(key) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "未知的配置项",
			"key":   key,
		})
		return
	}

	value, err := cm.store.GetConfig(key)
	if stderrors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "配置不存在",
			"key":   key,
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "获取配置失败",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"key":   key,
		"value": value,
	})
}

// UpdateConfig 更新配置
func (cm *ConfigManager) UpdateConfig(c *gin.Context) {
	var req struct {
		Key   string `json:"key" binding:"required"`
		Value string `json:"value" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "请求参数错误",
			"message": err.Error(),
		})
		return
	}

	if !config.IsKnownKey(req.Key) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "未知的配置项",
			"key":   req.Key,
		})
		return
	}

	if err := cm.store.UpdateConfig(req.Key, req.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "更新配置失败",
			"message": err.Error(),
		})
		return
	}

	cm.logger.WithFields(logrus.Fields{
		"key":   req.Key,
		"value": req.Value,
	}).Info("覆盖配置已更新，重启后生效")

	c.JSON(http.StatusOK, gin.H{
		"message": "配置更新成功",
		"config": gin.H{
			"key":   req.Key,
			"value": req.Value,
		},
	})
}
