package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateway/internal/config"
	gwerrors "gateway/internal/errors"
	"gateway/pkg/models"
)

var testTopics = map[string]string{
	TopicPendingTransactions: "test_pending",
	TopicLogs:                "test_logs",
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func expectMessage(topic string, key common.Hash) mocks.MessageChecker {
	return func(msg *sarama.ProducerMessage) error {
		if msg.Topic != topic {
			return fmt.Errorf("topic %s, want %s", msg.Topic, topic)
		}
		k, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(k) != key.Hex() {
			return fmt.Errorf("key %s, want %s", k, key.Hex())
		}
		return nil
	}
}

func TestKafkaPublisher_PendingTransaction(t *testing.T) {
	producer := mocks.NewSyncProducer(t, newProducerConfig())
	publisher := newKafkaPublisher(producer, testTopics, quietLogger())

	tx := &models.EthTransaction{
		Hash:  common.HexToHash("0xabc"),
		From:  common.HexToAddress("0x01"),
		Gas:   hexutil.Uint64(21000),
		Input: hexutil.Bytes{},
	}

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(expectMessage("test_pending", tx.Hash))
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var decoded map[string]interface{}
		if err := json.Unmarshal(val, &decoded); err != nil {
			return err
		}
		if decoded["gas"] != "0x5208" {
			return fmt.Errorf("unexpected gas %v", decoded["gas"])
		}
		return nil
	})

	require.NoError(t, publisher.PublishPendingTransaction(tx))
	require.NoError(t, publisher.PublishPendingTransaction(tx))
	require.NoError(t, publisher.PublishPendingTransaction(nil))
	require.NoError(t, publisher.Close())
}

func TestKafkaPublisher_Logs(t *testing.T) {
	producer := mocks.NewSyncProducer(t, newProducerConfig())
	publisher := newKafkaPublisher(producer, testTopics, quietLogger())

	hash := common.HexToHash("0xdef")
	logs := []*models.EthLog{
		{TransactionHash: hash, LogIndex: 0},
		{TransactionHash: hash, LogIndex: 1},
	}
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(expectMessage("test_logs", hash))
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(expectMessage("test_logs", hash))

	require.NoError(t, publisher.PublishLogs(hash, logs))
	// 空日志不发送
	require.NoError(t, publisher.PublishLogs(hash, nil))
	require.NoError(t, publisher.Close())
}

func TestKafkaPublisher_SendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, newProducerConfig())
	publisher := newKafkaPublisher(producer, testTopics, quietLogger())

	brokerDown := errors.New("broker down")
	producer.ExpectSendMessageAndFail(brokerDown)

	err := publisher.PublishPendingTransaction(&models.EthTransaction{Hash: common.HexToHash("0x01")})
	require.Error(t, err)
	assert.ErrorIs(t, err, brokerDown)
	assert.ErrorIs(t, err, gwerrors.ErrKafkaProduceFailed)
	require.NoError(t, publisher.Close())
}

func TestKafkaPublisher_DefaultTopic(t *testing.T) {
	publisher := newKafkaPublisher(nil, map[string]string{}, quietLogger())
	assert.Equal(t, "gateway_logs", publisher.topic(TopicLogs))
	assert.Equal(t, "gateway_pending_transactions", publisher.topic(TopicPendingTransactions))
	assert.NoError(t, publisher.Close())
}

func TestNewPublisher_Disabled(t *testing.T) {
	for _, cfg := range []*config.OutputConfig{
		nil,
		{},
		{Kafka: &config.KafkaConfig{Enabled: false, Brokers: []string{"localhost:9092"}}},
	} {
		publisher, err := NewPublisher(cfg, quietLogger())
		require.NoError(t, err)
		assert.IsType(t, NopPublisher{}, publisher)
		assert.NoError(t, publisher.PublishPendingTransaction(&models.EthTransaction{}))
		assert.NoError(t, publisher.PublishLogs(common.Hash{}, []*models.EthLog{{}}))
		assert.NoError(t, publisher.Close())
	}
}
