package gwclient

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"gateway/internal/gw"
	"gateway/internal/retry"
)

// RetryingClient 供 JSON-RPC 层使用：交易与回执查询带退避重试，提交沿用 Client 不重试。
// 地址解析与交易转换直接使用 Client，网络错误立即返回
type RetryingClient struct {
	*Client
	retrier *retry.Retrier
}

// NewRetryingClient 包装节点客户端
func NewRetryingClient(c *Client, cfg *retry.RetryConfig) *RetryingClient {
	if cfg == nil {
		cfg = retry.NodeReadRetryConfig
	}
	return &RetryingClient{Client: c, retrier: retry.NewRetrier(cfg, c.logger)}
}

func (r *RetryingClient) GetTransaction(ctx context.Context, hash common.Hash) (*gw.TransactionWithStatus, error) {
	return retry.Do(ctx, r.retrier, methodGetTransaction, func() (*gw.TransactionWithStatus, error) {
		return r.Client.GetTransaction(ctx, hash)
	})
}

func (r *RetryingClient) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*gw.TxReceipt, error) {
	return retry.Do(ctx, r.retrier, methodGetTransactionReceipt, func() (*gw.TxReceipt, error) {
		return r.Client.GetTransactionReceipt(ctx, hash)
	})
}
