package resolver

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"gateway/internal/gw"
)

// AccountStore 账户编号持久缓存
type AccountStore interface {
	GetAccountID(addr common.Address) (gw.AccountID, bool, error)
	PutAccountID(addr common.Address, id gw.AccountID) error
}

// AccountResolver 地址到账户编号的解析
type AccountResolver interface {
	EthAddressToAccountID(ctx context.Context, addr common.Address) (gw.AccountID, bool, error)
}

// CachedResolver 在解析器外层缓存已分配的账户编号；未找到的结果不缓存，账户随时可能被创建
type CachedResolver struct {
	inner  AccountResolver
	store  AccountStore
	logger *logrus.Logger
}

// NewCachedResolver 创建带缓存的解析器
func NewCachedResolver(inner AccountResolver, store AccountStore, logger *logrus.Logger) *CachedResolver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CachedResolver{inner: inner, store: store, logger: logger}
}

// EthAddressToAccountID 先查缓存，未命中时访问节点并回写
func (c *CachedResolver) EthAddressToAccountID(ctx context.Context, addr common.Address) (gw.AccountID, bool, error) {
	if addr != (common.Address{}) {
		id, found, err := c.store.GetAccountID(addr)
		if err != nil {
			c.logger.WithError(err).WithField("address", addr.Hex()).Warn("读取账户缓存失败")
		} else if found {
			return id, true, nil
		}
	}

	id, found, err := c.inner.EthAddressToAccountID(ctx, addr)
	if err != nil || !found {
		return id, found, err
	}

	if addr != (common.Address{}) {
		if err := c.store.PutAccountID(addr, id); err != nil {
			c.logger.WithError(err).WithField("address", addr.Hex()).Warn("写入账户缓存失败")
		}
	}
	return id, true, nil
}
