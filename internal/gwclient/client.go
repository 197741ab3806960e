// Package gwclient Godwoken 节点 JSON-RPC 客户端
package gwclient

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"

	gwerrors "gateway/internal/errors"
	"gateway/internal/gw"
)

// 节点 RPC 方法名
const (
	methodGetNonce                 = "gw_get_nonce"
	methodGetScriptHash            = "gw_get_script_hash"
	methodGetScript                = "gw_get_script"
	methodGetAccountIDByScriptHash = "gw_get_account_id_by_script_hash"
	methodExecuteRawL2Transaction  = "gw_execute_raw_l2transaction"
	methodSubmitL2Transaction      = "gw_submit_l2transaction"
	methodGetTransaction           = "gw_get_transaction"
	methodGetTransactionReceipt    = "gw_get_transaction_receipt"
)

// Client Godwoken 节点客户端
type Client struct {
	rpc    *rpc.Client
	url    string
	logger *logrus.Logger
}

// Dial 连接节点并返回客户端
func Dial(ctx context.Context, url string, timeout time.Duration, logger *logrus.Logger) (*Client, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, gwerrors.ErrNodeRPC.Wrap(err, "连接节点 %s 失败", url)
	}
	return NewClient(c, url, logger), nil
}

// NewClient 用已有的 rpc 连接创建客户端
func NewClient(c *rpc.Client, url string, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{rpc: c, url: url, logger: logger}
}

// URL 节点地址
func (c *Client) URL() string {
	return c.url
}

// Close 关闭连接
func (c *Client) Close() {
	c.rpc.Close()
}

// GetNonce 查询账户 nonce
func (c *Client) GetNonce(ctx context.Context, id gw.AccountID) (uint32, error) {
	var nonce hexutil.Uint64
	if err := c.call(ctx, &nonce, methodGetNonce, id); err != nil {
		return 0, err
	}
	if uint64(nonce) > math.MaxUint32 {
		return 0, gwerrors.ErrValueOverflow.New("账户 %d 的 nonce 超出 u32: %d", id, uint64(nonce))
	}
	return uint32(nonce), nil
}

// GetScriptHash 查询账户脚本哈希，账户不存在时节点返回零哈希
func (c *Client) GetScriptHash(ctx context.Context, id gw.AccountID) (common.Hash, error) {
	var hash *common.Hash
	if err := c.call(ctx, &hash, methodGetScriptHash, id); err != nil {
		return common.Hash{}, err
	}
	if hash == nil {
		return common.Hash{}, nil
	}
	return *hash, nil
}

// GetScript 按脚本哈希查询脚本，不存在时返回 nil
func (c *Client) GetScript(ctx context.Context, scriptHash common.Hash) (*gw.Script, error) {
	var script *gw.Script
	if err := c.call(ctx, &script, methodGetScript, scriptHash); err != nil {
		return nil, err
	}
	return script, nil
}

// GetAccountIDByScriptHash 按脚本哈希查询账户编号
func (c *Client) GetAccountIDByScriptHash(ctx context.Context, scriptHash common.Hash) (gw.AccountID, bool, error) {
	var id *gw.AccountID
	if err := c.call(ctx, &id, methodGetAccountIDByScriptHash, scriptHash); err != nil {
		return 0, false, err
	}
	if id == nil {
		return 0, false, nil
	}
	return *id, true, nil
}

// ExecuteRawL2Transaction 只读执行一笔原生交易
func (c *Client) ExecuteRawL2Transaction(ctx context.Context, raw *gw.RawL2Transaction) (*gw.RunResult, error) {
	var result gw.RunResult
	payload := hexutil.Bytes(gw.SerializeRawL2Transaction(raw))
	if err := c.call(ctx, &result, methodExecuteRawL2Transaction, payload); err != nil {
		return nil, err
	}
	return &result, nil
}

// SubmitL2Transaction 提交已签名的原生交易，返回节点侧交易哈希
func (c *Client) SubmitL2Transaction(ctx context.Context, tx *gw.L2Transaction) (common.Hash, error) {
	var hash common.Hash
	payload := hexutil.Bytes(gw.SerializeL2Transaction(tx))
	if err := c.call(ctx, &hash, methodSubmitL2Transaction, payload); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// GetTransaction 查询原生交易，不存在时返回 nil
func (c *Client) GetTransaction(ctx context.Context, hash common.Hash) (*gw.TransactionWithStatus, error) {
	var tx *gw.TransactionWithStatus
	if err := c.call(ctx, &tx, methodGetTransaction, hash); err != nil {
		return nil, err
	}
	return tx, nil
}

// GetTransactionReceipt 查询原生交易回执，不存在时返回 nil
func (c *Client) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*gw.TxReceipt, error) {
	var receipt *gw.TxReceipt
	if err := c.call(ctx, &receipt, methodGetTransactionReceipt, hash); err != nil {
		return nil, err
	}
	return receipt, nil
}

func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	start := time.Now()
	err := c.rpc.CallContext(ctx, result, method, args...)

	entry := c.logger.WithFields(logrus.Fields{
		"method":   method,
		"duration": time.Since(start),
	})
	if err == nil {
		entry.Debug("节点调用成功")
		return nil
	}
	entry.WithError(err).Debug("节点调用失败")
	return classifyError(method, err)
}

// classifyError 区分节点业务错误与传输错误
func classifyError(method string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		if isAccountNotFound(rpcErr) {
			return gwerrors.ErrAccountNotFound.Wrap(err, "%s", method)
		}
		e := gwerrors.ErrNodeRPC.Wrap(err, "%s 返回错误", method)
		e.Retryable = false
		return e.WithContext("rpc_code", rpcErr.ErrorCode())
	}

	return gwerrors.ErrNodeRPC.Wrap(err, "%s 调用失败", method).WithContext("method", method)
}

// 节点以服务端错误码段 (-32099..-32000) 返回业务错误，账户不存在的消息以固定前缀开头
const (
	serverErrorCodeMin    = -32099
	serverErrorCodeMax    = -32000
	accountNotFoundPrefix = "account not found"
)

// isAccountNotFound 只认服务端错误码段内以 "account not found" 开头的错误；
// 标准码 (-32700, -32600..-32603) 以及 "method not found"、"transaction not found" 等都不算
func isAccountNotFound(rpcErr rpc.Error) bool {
	code := rpcErr.ErrorCode()
	if code < serverErrorCodeMin || code > serverErrorCodeMax {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(rpcErr.Error()))
	return strings.HasPrefix(msg, accountNotFoundPrefix)
}

// String 便于日志输出
func (c *Client) String() string {
	return fmt.Sprintf("gwclient(%s)", c.url)
}
