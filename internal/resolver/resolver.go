// Package resolver 以太坊地址与链上账户身份（脚本哈希、账户编号）之间的只读解析
package resolver

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	gwerrors "gateway/internal/errors"
	"gateway/internal/gw"
)

// registryMethodEthToScriptHash 地址注册账户的查询方法编号
const registryMethodEthToScriptHash uint32 = 0

// NodeReader 解析所需的节点只读接口
type NodeReader interface {
	GetNonce(ctx context.Context, id gw.AccountID) (uint32, error)
	GetScriptHash(ctx context.Context, id gw.AccountID) (common.Hash, error)
	GetScript(ctx context.Context, scriptHash common.Hash) (*gw.Script, error)
	GetAccountIDByScriptHash(ctx context.Context, scriptHash common.Hash) (gw.AccountID, bool, error)
	ExecuteRawL2Transaction(ctx context.Context, raw *gw.RawL2Transaction) (*gw.RunResult, error)
}

// Accounts 账户相关的链参数
type Accounts struct {
	CreatorAccountID     gw.AccountID
	RegistryAccountID    gw.AccountID
	DefaultFromAccountID gw.AccountID
}

// Resolver 地址解析器，每次调用都直接访问节点
type Resolver struct {
	node     NodeReader
	accounts Accounts
	logger   *logrus.Logger
}

// New 创建地址解析器
func New(node NodeReader, accounts Accounts, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Resolver{node: node, accounts: accounts, logger: logger}
}

// CreatorAccountID 合约创建目标对应的账户编号
func (r *Resolver) CreatorAccountID() gw.AccountID {
	return r.accounts.CreatorAccountID
}

// EthAddressToScriptHash 通过注册账户查询地址对应的脚本哈希
func (r *Resolver) EthAddressToScriptHash(ctx context.Context, addr common.Address) (common.Hash, bool, error) {
	from := r.accounts.DefaultFromAccountID
	nonce, err := r.node.GetNonce(ctx, from)
	if err != nil {
		return common.Hash{}, false, err
	}

	args := make([]byte, 4, 4+common.AddressLength)
	binary.LittleEndian.PutUint32(args, registryMethodEthToScriptHash)
	args = append(args, addr.Bytes()...)

	result, err := r.node.ExecuteRawL2Transaction(ctx, &gw.RawL2Transaction{
		FromID: from,
		ToID:   r.accounts.RegistryAccountID,
		Nonce:  nonce,
		Args:   args,
	})
	if err != nil {
		if errors.Is(err, gwerrors.ErrAccountNotFound) {
			r.logger.WithField("address", addr.Hex()).Debug("注册账户中不存在该地址")
			return common.Hash{}, false, nil
		}
		return common.Hash{}, false, err
	}

	if len(result.ReturnData) != common.HashLength {
		return common.Hash{}, false, gwerrors.ErrDecode.New("注册账户返回数据长度应为 32, 实际为 %d", len(result.ReturnData))
	}
	hash := common.BytesToHash(result.ReturnData)
	if hash == (common.Hash{}) {
		return common.Hash{}, false, nil
	}
	return hash, true, nil
}

// EthAddressToAccountID 零地址直接返回创建者账户，其余地址经脚本哈希查询账户编号
func (r *Resolver) EthAddressToAccountID(ctx context.Context, addr common.Address) (gw.AccountID, bool, error) {
	if addr == (common.Address{}) {
		return r.accounts.CreatorAccountID, true, nil
	}

	scriptHash, found, err := r.EthAddressToScriptHash(ctx, addr)
	if err != nil || !found {
		return 0, false, err
	}

	id, found, err := r.node.GetAccountIDByScriptHash(ctx, scriptHash)
	if err != nil {
		if errors.Is(err, gwerrors.ErrAccountNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return id, found, nil
}

// EthAddressToShortScriptHash 脚本哈希的前20字节
func (r *Resolver) EthAddressToShortScriptHash(ctx context.Context, addr common.Address) (gw.ShortScriptHash, bool, error) {
	hash, found, err := r.EthAddressToScriptHash(ctx, addr)
	if err != nil || !found {
		return gw.ShortScriptHash{}, false, err
	}
	return gw.ShortScriptHashFromHash(hash), true, nil
}

// AccountScript 反向查询账户的脚本哈希与脚本，任一为空时 found 为 false
func (r *Resolver) AccountScript(ctx context.Context, id gw.AccountID) (common.Hash, *gw.Script, bool, error) {
	scriptHash, err := r.node.GetScriptHash(ctx, id)
	if err != nil {
		if errors.Is(err, gwerrors.ErrAccountNotFound) {
			return common.Hash{}, nil, false, nil
		}
		return common.Hash{}, nil, false, err
	}
	if scriptHash == (common.Hash{}) {
		return common.Hash{}, nil, false, nil
	}

	script, err := r.node.GetScript(ctx, scriptHash)
	if err != nil {
		if errors.Is(err, gwerrors.ErrAccountNotFound) {
			return scriptHash, nil, false, nil
		}
		return scriptHash, nil, false, err
	}
	if script == nil {
		return scriptHash, nil, false, nil
	}
	return scriptHash, script, true, nil
}
