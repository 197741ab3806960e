// Package store 网关本地 BoltDB 存储：账户编号缓存、交易哈希索引与提交统计
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"gateway/internal/gw"
)

const (
	// 默认数据库路径
	DefaultDBPath = "./data/accounts.db"

	// 存储桶名称
	AccountBucket = "account_ids"
	TxHashBucket  = "tx_hashes"
	StatsBucket   = "stats"

	// 统计键
	StartTimeKey      = "start_time"
	SubmittedTxKey    = "submitted_transactions"
	LastSubmitTimeKey = "last_submit_time"
)

// Stats 提交统计
type Stats struct {
	StartTime             time.Time `json:"start_time"`
	LastSubmitTime        time.Time `json:"last_submit_time"`
	SubmittedTransactions uint64    `json:"submitted_transactions"`
}

// Store BoltDB 存储
type Store struct {
	db     *bolt.DB
	logger *logrus.Logger
	dbPath string
	mu     sync.RWMutex

	// 内存中的统计
	stats *Stats
}

// Open 打开存储，目录不存在时创建
func Open(dbPath string, logger *logrus.Logger) (*Store, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
		dbPath: dbPath,
		stats:  &Stats{},
	}

	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	if err := s.loadStats(); err != nil {
		logger.Warnf("加载统计信息失败: %v", err)
	}

	logger.Infof("本地存储已初始化，数据库路径: %s", dbPath)
	return s, nil
}

// initDB 初始化数据库结构
func (s *Store) initDB() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{AccountBucket, TxHashBucket, StatsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("创建存储桶 %s 失败: %w", name, err)
			}
		}
		return nil
	})
}

// loadStats 加载统计
func (s *Store) loadStats() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(StatsBucket))
		if data := bucket.Get([]byte(SubmittedTxKey)); len(data) == 8 {
			s.stats.SubmittedTransactions = binary.BigEndian.Uint64(data)
		}
		if data := bucket.Get([]byte(StartTimeKey)); data != nil {
			var t time.Time
			if err := json.Unmarshal(data, &t); err == nil {
				s.stats.StartTime = t
			}
		}
		if data := bucket.Get([]byte(LastSubmitTimeKey)); data != nil {
			var t time.Time
			if err := json.Unmarshal(data, &t); err == nil {
				s.stats.LastSubmitTime = t
			}
		}
		return nil
	})
}

// GetAccountID 读取缓存的账户编号
func (s *Store) GetAccountID(addr common.Address) (gw.AccountID, bool, error) {
	var (
		id    gw.AccountID
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(AccountBucket)).Get(addr.Bytes())
		if data == nil {
			return nil
		}
		if len(data) != 4 {
			return fmt.Errorf("账户编号记录长度异常: %d", len(data))
		}
		id = gw.AccountID(binary.BigEndian.Uint32(data))
		found = true
		return nil
	})
	return id, found, err
}

// PutAccountID 写入账户编号，账户编号一经分配不会改变
func (s *Store) PutAccountID(addr common.Address, id gw.AccountID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		value := make([]byte, 4)
		binary.BigEndian.PutUint32(value, uint32(id))
		return tx.Bucket([]byte(AccountBucket)).Put(addr.Bytes(), value)
	})
}

// GetTxHash 以太坊交易哈希到节点交易哈希的映射
func (s *Store) GetTxHash(ethTxHash common.Hash) (common.Hash, bool, error) {
	var (
		gwTxHash common.Hash
		found    bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(TxHashBucket)).Get(ethTxHash.Bytes())
		if data == nil {
			return nil
		}
		gwTxHash = common.BytesToHash(data)
		found = true
		return nil
	})
	return gwTxHash, found, err
}

// RecordSubmission 记录一笔已提交交易的哈希映射并更新统计
func (s *Store) RecordSubmission(ethTxHash, gwTxHash common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if s.stats.StartTime.IsZero() {
		s.stats.StartTime = now
	}
	s.stats.SubmittedTransactions++
	s.stats.LastSubmitTime = now

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(TxHashBucket)).Put(ethTxHash.Bytes(), gwTxHash.Bytes()); err != nil {
			return fmt.Errorf("保存交易哈希映射失败: %w", err)
		}

		bucket := tx.Bucket([]byte(StatsBucket))
		count := make([]byte, 8)
		binary.BigEndian.PutUint64(count, s.stats.SubmittedTransactions)
		if err := bucket.Put([]byte(SubmittedTxKey), count); err != nil {
			return fmt.Errorf("保存提交计数失败: %w", err)
		}
		if data, err := json.Marshal(s.stats.StartTime); err == nil {
			bucket.Put([]byte(StartTimeKey), data)
		}
		if data, err := json.Marshal(now); err == nil {
			bucket.Put([]byte(LastSubmitTimeKey), data)
		}
		return nil
	})
}

// GetStats 获取统计信息
func (s *Store) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"submitted_transactions": s.stats.SubmittedTransactions,
		"db_path":                s.dbPath,
	}
	if !s.stats.StartTime.IsZero() {
		stats["start_time"] = s.stats.StartTime.Format(time.RFC3339)
	}
	if !s.stats.LastSubmitTime.IsZero() {
		stats["last_submit_time"] = s.stats.LastSubmitTime.Format(time.RFC3339)
	}
	return stats
}

// Close 关闭存储
func (s *Store) Close() error {
	if s.db != nil {
		s.logger.Info("关闭本地存储")
		return s.db.Close()
	}
	return nil
}
