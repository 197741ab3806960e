// Package convert 以太坊交易与 Godwoken 原生交易之间的双向转换
package convert

import (
	"context"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	gwerrors "gateway/internal/errors"
	"gateway/internal/ethtx"
	"gateway/internal/gw"
	"gateway/internal/polyjuice"
)

// AccountResolver 地址到账户编号的解析
type AccountResolver interface {
	EthAddressToAccountID(ctx context.Context, addr common.Address) (gw.AccountID, bool, error)
}

// Builder 把已签名的以太坊 legacy 交易组装成原生交易
type Builder struct {
	resolver  AccountResolver
	creatorID gw.AccountID
	chainID   uint64
	logger    *logrus.Logger
}

// NewBuilder 创建组装器；chainID 为 0 时不校验交易的链 ID
func NewBuilder(resolver AccountResolver, creatorID gw.AccountID, chainID uint64, logger *logrus.Logger) *Builder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Builder{
		resolver:  resolver,
		creatorID: creatorID,
		chainID:   chainID,
		logger:    logger,
	}
}

// BuildHex 解析 0x 前缀的十六进制交易后组装
func (b *Builder) BuildHex(ctx context.Context, rawHex string) (*gw.L2Transaction, error) {
	raw, err := hexutil.Decode(rawHex)
	if err != nil {
		return nil, gwerrors.ErrDecode.Wrap(err, "交易十六进制解码失败")
	}
	return b.Build(ctx, raw)
}

// Build 解码、恢复发送方、解析双方账户并编码 Polyjuice 调用参数
func (b *Builder) Build(ctx context.Context, raw []byte) (*gw.L2Transaction, error) {
	tx, err := ethtx.DecodeLegacyTx(raw)
	if err != nil {
		return nil, err
	}
	if tx.Nonce > math.MaxUint32 {
		return nil, gwerrors.ErrValueOverflow.New("nonce %d 超出 u32", tx.Nonce)
	}

	if b.chainID != 0 {
		chainID, err := ethtx.ChainIDFromV(tx.V)
		if err != nil {
			return nil, err
		}
		if chainID != b.chainID {
			return nil, gwerrors.ErrInvalidParams.New("交易链 ID %d 与网关链 ID %d 不符", chainID, b.chainID)
		}
	}

	hash, err := ethtx.SigningMessageHash(tx)
	if err != nil {
		return nil, err
	}
	sig := tx.Signature()
	sender, err := ethtx.RecoverSender(sig, hash)
	if err != nil {
		return nil, err
	}

	logger := b.logger.WithField("from", sender.Hex())

	fromID, found, err := b.resolver.EthAddressToAccountID(ctx, sender)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, gwerrors.ErrSenderNotRegistered.New("发送方 %s 未注册账户", sender.Hex())
	}

	toID := b.creatorID
	if !tx.IsCreate() {
		var found bool
		toID, found, err = b.resolver.EthAddressToAccountID(ctx, *tx.To)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, gwerrors.ErrRecipientNotRegistered.New("接收方 %s 未注册账户", tx.To.Hex())
		}
	}

	args, err := (&polyjuice.CallArgs{
		IsCreate: tx.IsCreate(),
		GasLimit: tx.GasLimit,
		GasPrice: tx.GasPrice,
		Value:    tx.Value,
		Data:     tx.Data,
	}).Encode()
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"from_id":   fromID,
		"to_id":     toID,
		"nonce":     tx.Nonce,
		"is_create": tx.IsCreate(),
	}).Debug("原生交易组装完成")

	return &gw.L2Transaction{
		Raw: gw.RawL2Transaction{
			FromID: fromID,
			ToID:   toID,
			Nonce:  uint32(tx.Nonce),
			Args:   args,
		},
		Signature: sig,
	}, nil
}
