package output

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"gateway/internal/config"
	"gateway/pkg/models"
)

// topic 映射中的键
const (
	TopicPendingTransactions = "pending_transactions"
	TopicLogs                = "logs"
)

// Publisher 把网关翻译出的以太坊视图推送给下游
type Publisher interface {
	PublishPendingTransaction(tx *models.EthTransaction) error
	PublishLogs(ethTxHash common.Hash, logs []*models.EthLog) error
	Close() error
}

// NewPublisher 按配置创建推送器，未启用 Kafka 时返回 NopPublisher
func NewPublisher(cfg *config.OutputConfig, logger *logrus.Logger) (Publisher, error) {
	if cfg == nil || cfg.Kafka == nil || !cfg.Kafka.Enabled {
		logger.Info("未启用 Kafka 推送")
		return NopPublisher{}, nil
	}
	return NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topics, logger)
}

// NopPublisher 丢弃所有消息
type NopPublisher struct{}

func (NopPublisher) PublishPendingTransaction(*models.EthTransaction) error { return nil }

func (NopPublisher) PublishLogs(common.Hash, []*models.EthLog) error { return nil }

func (NopPublisher) Close() error { return nil }
