package api

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"gateway/internal/gw"
	"gateway/internal/logging"
	"gateway/internal/validation"
	"gateway/pkg/models"
)

// NodeClient 节点调用
type NodeClient interface {
	SubmitL2Transaction(ctx context.Context, tx *gw.L2Transaction) (common.Hash, error)
	GetTransaction(ctx context.Context, hash common.Hash) (*gw.TransactionWithStatus, error)
	GetTransactionReceipt(ctx context.Context, hash common.Hash) (*gw.TxReceipt, error)
}

// TxBuilder 以太坊交易到原生交易
type TxBuilder interface {
	Build(ctx context.Context, raw []byte) (*gw.L2Transaction, error)
}

// TxTranslator 原生交易到以太坊视图
type TxTranslator interface {
	ToEthTransaction(ctx context.Context, ethTxHash common.Hash, tx *gw.L2Transaction) (*models.EthTransaction, bool, error)
	ToEthLogs(ethTxHash common.Hash, receipt *gw.TxReceipt) ([]*models.EthLog, error)
}

// AddressLookup 地址查询
type AddressLookup interface {
	EthAddressToAccountID(ctx context.Context, addr common.Address) (gw.AccountID, bool, error)
	EthAddressToScriptHash(ctx context.Context, addr common.Address) (common.Hash, bool, error)
}

// TxIndex 以太坊交易哈希到原生交易哈希的索引
type TxIndex interface {
	GetTxHash(ethTxHash common.Hash) (common.Hash, bool, error)
	RecordSubmission(ethTxHash, gwTxHash common.Hash) error
	GetStats() map[string]interface{}
}

type methodHandler func(s *Server, ctx context.Context, params []json.RawMessage) (interface{}, error)

// methods 静态方法表
var methods = map[string]methodHandler{
	"web3_clientVersion":           (*Server).web3ClientVersion,
	"net_version":                  (*Server).netVersion,
	"eth_chainId":                  (*Server).ethChainID,
	"eth_sendRawTransaction":       (*Server).ethSendRawTransaction,
	"eth_getTransactionByHash":     (*Server).ethGetTransactionByHash,
	"gw_getPendingTransactionLogs": (*Server).gwGetPendingTransactionLogs,
	"poly_ethAddressToAccountId":   (*Server).polyEthAddressToAccountID,
	"poly_ethAddressToScriptHash":  (*Server).polyEthAddressToScriptHash,
}

func (s *Server) web3ClientVersion(_ context.Context, params []json.RawMessage) (interface{}, error) {
	if err := validation.ExpectParams(params, 0, 0); err != nil {
		return nil, err
	}
	return s.cfg.ClientVersion, nil
}

func (s *Server) netVersion(_ context.Context, params []json.RawMessage) (interface{}, error) {
	if err := validation.ExpectParams(params, 0, 0); err != nil {
		return nil, err
	}
	return strconv.FormatUint(s.chainID, 10), nil
}

func (s *Server) ethChainID(_ context.Context, params []json.RawMessage) (interface{}, error) {
	if err := validation.ExpectParams(params, 0, 0); err != nil {
		return nil, err
	}
	return hexutil.Uint64(s.chainID), nil
}

// ethSendRawTransaction 组装并提交原生交易，返回以太坊交易哈希
func (s *Server) ethSendRawTransaction(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	if err := validation.ExpectParams(params, 1, 1); err != nil {
		return nil, err
	}
	rawHex, err := validation.StringParam(params, 0)
	if err != nil {
		return nil, err
	}
	raw, err := s.deps.Validator.ParseData(rawHex)
	if err != nil {
		return nil, err
	}

	ethTxHash := crypto.Keccak256Hash(raw)
	txLogger := logging.NewTxLogger(s.slogger, ethTxHash.Hex())

	tx, err := s.deps.Builder.Build(ctx, raw)
	if err != nil {
		txLogger.Warn("组装原生交易失败", "error", err.Error())
		return nil, err
	}

	gwTxHash, err := s.deps.Node.SubmitL2Transaction(ctx, tx)
	if err != nil {
		txLogger.Warn("提交原生交易失败", "error", err.Error())
		return nil, err
	}
	txLogger.Info("交易已提交",
		"gw_tx_hash", gwTxHash.Hex(),
		"from_id", uint32(tx.Raw.FromID),
		"to_id", uint32(tx.Raw.ToID),
		"nonce", tx.Raw.Nonce,
	)

	if s.deps.Index != nil {
		if err := s.deps.Index.RecordSubmission(ethTxHash, gwTxHash); err != nil {
			txLogger.Warn("记录交易哈希映射失败", "error", err.Error())
		}
	}

	s.publishPending(ethTxHash, tx, txLogger)
	return ethTxHash, nil
}

// publishPending 异步推送待打包交易，失败只记录日志
func (s *Server) publishPending(ethTxHash common.Hash, tx *gw.L2Transaction, txLogger *logging.FieldLogger) {
	if s.deps.Publisher == nil {
		return
	}

	s.publishWG.Add(1)
	go func() {
		defer s.publishWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.publishTimeout())
		defer cancel()

		ethTx, ok, err := s.deps.Translator.ToEthTransaction(ctx, ethTxHash, tx)
		if err != nil {
			txLogger.Warn("待打包交易反向转换失败", "error", err.Error())
			return
		}
		if !ok {
			txLogger.Debug("交易不是以太坊兼容交易，跳过推送")
			return
		}
		if err := s.deps.Publisher.PublishPendingTransaction(ethTx); err != nil {
			s.errorHandler.HandleError("output", err)
		}
	}()
}

func (s *Server) publishTimeout() time.Duration {
	if s.cfg.RequestTimeout > 0 {
		return s.cfg.RequestTimeout
	}
	return defaultRequestTimeout
}

// ethGetTransactionByHash 查询待打包交易，找不到或非以太坊兼容交易时返回 null
func (s *Server) ethGetTransactionByHash(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	ethTxHash, err := s.hashParam(params)
	if err != nil {
		return nil, err
	}

	gwTxHash, err := s.lookupGwTxHash(ethTxHash)
	if err != nil {
		return nil, err
	}

	txWithStatus, err := s.deps.Node.GetTransaction(ctx, gwTxHash)
	if err != nil {
		return nil, err
	}
	if txWithStatus == nil || txWithStatus.Transaction == nil {
		return nil, nil
	}

	ethTx, ok, err := s.deps.Translator.ToEthTransaction(ctx, ethTxHash, txWithStatus.Transaction)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return ethTx, nil
}

// gwGetPendingTransactionLogs 从原生回执提取以太坊日志，并按交易哈希推送给下游
func (s *Server) gwGetPendingTransactionLogs(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	ethTxHash, err := s.hashParam(params)
	if err != nil {
		return nil, err
	}

	gwTxHash, err := s.lookupGwTxHash(ethTxHash)
	if err != nil {
		return nil, err
	}

	receipt, err := s.deps.Node.GetTransactionReceipt(ctx, gwTxHash)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, nil
	}

	logs, err := s.deps.Translator.ToEthLogs(ethTxHash, receipt)
	if err != nil {
		return nil, err
	}

	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.PublishLogs(ethTxHash, logs); err != nil {
			s.errorHandler.HandleError("output", err)
		}
	}
	return logs, nil
}

func (s *Server) polyEthAddressToAccountID(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	addr, err := s.addressParam(params)
	if err != nil {
		return nil, err
	}
	id, found, err := s.deps.Accounts.EthAddressToAccountID(ctx, addr)
	if err != nil || !found {
		return nil, err
	}
	return id, nil
}

func (s *Server) polyEthAddressToScriptHash(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	addr, err := s.addressParam(params)
	if err != nil {
		return nil, err
	}
	hash, found, err := s.deps.Accounts.EthAddressToScriptHash(ctx, addr)
	if err != nil || !found {
		return nil, err
	}
	return hash, nil
}

func (s *Server) hashParam(params []json.RawMessage) (common.Hash, error) {
	if err := validation.ExpectParams(params, 1, 1); err != nil {
		return common.Hash{}, err
	}
	value, err := validation.StringParam(params, 0)
	if err != nil {
		return common.Hash{}, err
	}
	return s.deps.Validator.ParseHash(value)
}

func (s *Server) addressParam(params []json.RawMessage) (common.Address, error) {
	if err := validation.ExpectParams(params, 1, 1); err != nil {
		return common.Address{}, err
	}
	value, err := validation.StringParam(params, 0)
	if err != nil {
		return common.Address{}, err
	}
	return s.deps.Validator.ParseAddress(value)
}

// lookupGwTxHash 未经本网关提交的交易按原生哈希直接查询
func (s *Server) lookupGwTxHash(ethTxHash common.Hash) (common.Hash, error) {
	if s.deps.Index == nil {
		return ethTxHash, nil
	}
	gwTxHash, found, err := s.deps.Index.GetTxHash(ethTxHash)
	if err != nil {
		return common.Hash{}, err
	}
	if !found {
		return ethTxHash, nil
	}
	return gwTxHash, nil
}
