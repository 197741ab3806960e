package output

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	gwerrors "gateway/internal/errors"
	"gateway/pkg/models"
)

// KafkaPublisher Kafka 推送器，消息以 JSON 编码、以以太坊交易哈希为键
type KafkaPublisher struct {
	logger   *logrus.Logger
	topics   map[string]string // 数据类型到topic的映射
	producer sarama.SyncProducer
}

func newProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Version = sarama.V2_8_0_0
	return config
}

// NewKafkaPublisher 创建Kafka推送器
func NewKafkaPublisher(brokers []string, topics map[string]string, logger *logrus.Logger) (*KafkaPublisher, error) {
	logger.Infof("初始化Kafka推送器，brokers: %v", brokers)

	producer, err := sarama.NewSyncProducer(brokers, newProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	logger.Info("Kafka生产者已创建")
	return newKafkaPublisher(producer, topics, logger), nil
}

func newKafkaPublisher(producer sarama.SyncProducer, topics map[string]string, logger *logrus.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		logger:   logger,
		topics:   topics,
		producer: producer,
	}
}

func (k *KafkaPublisher) topic(key string) string {
	if topic, exists := k.topics[key]; exists && topic != "" {
		return topic
	}
	return "gateway_" + key
}

func (k *KafkaPublisher) newMessage(topic string, key common.Hash, data interface{}) (*sarama.ProducerMessage, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("序列化数据失败: %w", err)
	}
	return &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key.Hex()),
		Value: sarama.ByteEncoder(jsonData),
	}, nil
}

// PublishPendingTransaction 推送待打包交易
func (k *KafkaPublisher) PublishPendingTransaction(tx *models.EthTransaction) error {
	if tx == nil {
		return nil
	}

	msg, err := k.newMessage(k.topic(TopicPendingTransactions), tx.Hash, tx)
	if err != nil {
		return err
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return gwerrors.ErrKafkaProduceFailed.Wrap(err, "发送待打包交易到Kafka失败").WithTxHash(tx.Hash.Hex())
	}

	k.logger.WithFields(logrus.Fields{
		"topic":     msg.Topic,
		"partition": partition,
		"offset":    offset,
		"tx_hash":   tx.Hash.Hex(),
	}).Debug("待打包交易已推送")
	return nil
}

// PublishLogs 推送一笔交易的用户日志，每条日志一个消息
func (k *KafkaPublisher) PublishLogs(ethTxHash common.Hash, logs []*models.EthLog) error {
	if len(logs) == 0 {
		return nil
	}

	topic := k.topic(TopicLogs)
	msgs := make([]*sarama.ProducerMessage, 0, len(logs))
	for _, log := range logs {
		msg, err := k.newMessage(topic, ethTxHash, log)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if err := k.producer.SendMessages(msgs); err != nil {
		return gwerrors.ErrKafkaProduceFailed.Wrap(err, "批量发送日志到Kafka失败").WithTxHash(ethTxHash.Hex())
	}

	k.logger.WithFields(logrus.Fields{
		"topic":   topic,
		"count":   len(msgs),
		"tx_hash": ethTxHash.Hex(),
	}).Debug("交易日志已推送")
	return nil
}

// Close 关闭Kafka连接
func (k *KafkaPublisher) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}
