// Package ethtx 以太坊 legacy 交易的 RLP 编解码、EIP-155 签名消息哈希与发送方恢复
package ethtx

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	gwerrors "gateway/internal/errors"
)

// legacyTxFields legacy 交易的 RLP 字段数
const legacyTxFields = 9

// LegacyTx 已签名的以太坊 legacy 交易
type LegacyTx struct {
	Nonce    uint64
	GasPrice *uint256.Int
	GasLimit uint64
	To       *common.Address // nil 表示 RLP 中的空字符串
	Value    *uint256.Int
	Data     []byte
	V        uint64
	R        *uint256.Int
	S        *uint256.Int
}

// legacyTxRLP RLP 线格式，字段顺序即编码顺序
type legacyTxRLP struct {
	Nonce    uint64
	GasPrice *uint256.Int
	GasLimit uint64
	To       *common.Address `rlp:"nil"`
	Value    *uint256.Int
	Data     []byte
	V        uint64
	R        *uint256.Int
	S        *uint256.Int
}

// IsCreate to 为空或全零地址时视为合约创建
func (tx *LegacyTx) IsCreate() bool {
	return tx.To == nil || *tx.To == (common.Address{})
}

// Signature 返回 pad32(r) ‖ pad32(s) ‖ recoveryId
func (tx *LegacyTx) Signature() [65]byte {
	var sig [65]byte
	r := orZero(tx.R).Bytes32()
	s := orZero(tx.S).Bytes32()
	copy(sig[0:32], r[:])
	copy(sig[32:64], s[:])
	sig[64] = RecoveryIDFromV(tx.V)
	return sig
}

// DecodeLegacyTx 解码 RLP 编码的 legacy 交易，字段数必须恰好为9
func DecodeLegacyTx(raw []byte) (*LegacyTx, error) {
	var items []rlp.RawValue
	if err := rlp.DecodeBytes(raw, &items); err != nil {
		return nil, gwerrors.ErrDecode.Wrap(err, "RLP 列表解码失败")
	}
	if len(items) != legacyTxFields {
		return nil, gwerrors.ErrDecode.New("legacy 交易字段数应为 %d, 实际为 %d", legacyTxFields, len(items))
	}

	var dec legacyTxRLP
	if err := rlp.DecodeBytes(raw, &dec); err != nil {
		return nil, gwerrors.ErrDecode.Wrap(err, "legacy 交易字段解码失败")
	}

	return &LegacyTx{
		Nonce:    dec.Nonce,
		GasPrice: orZero(dec.GasPrice),
		GasLimit: dec.GasLimit,
		To:       dec.To,
		Value:    orZero(dec.Value),
		Data:     dec.Data,
		V:        dec.V,
		R:        orZero(dec.R),
		S:        orZero(dec.S),
	}, nil
}

// EncodeLegacyTx DecodeLegacyTx 的逆操作，整数使用最小宽度编码
func EncodeLegacyTx(tx *LegacyTx) ([]byte, error) {
	enc := legacyTxRLP{
		Nonce:    tx.Nonce,
		GasPrice: orZero(tx.GasPrice),
		GasLimit: tx.GasLimit,
		To:       tx.To,
		Value:    orZero(tx.Value),
		Data:     tx.Data,
		V:        tx.V,
		R:        orZero(tx.R),
		S:        orZero(tx.S),
	}
	out, err := rlp.EncodeToBytes(&enc)
	if err != nil {
		return nil, gwerrors.ErrDecode.Wrap(err, "legacy 交易编码失败")
	}
	return out, nil
}

// SigningMessageHash 计算 EIP-155 签名消息哈希：
// keccak256(rlp([nonce, gasPrice, gasLimit, to, value, data, chainId, 0, 0]))
func SigningMessageHash(tx *LegacyTx) (common.Hash, error) {
	chainID, err := ChainIDFromV(tx.V)
	if err != nil {
		return common.Hash{}, err
	}

	var to []byte
	if tx.To != nil {
		to = tx.To.Bytes()
	}

	payload, err := rlp.EncodeToBytes([]interface{}{
		tx.Nonce,
		orZero(tx.GasPrice),
		tx.GasLimit,
		to,
		orZero(tx.Value),
		tx.Data,
		chainID,
		uint(0),
		uint(0),
	})
	if err != nil {
		return common.Hash{}, gwerrors.ErrDecode.Wrap(err, "签名消息编码失败")
	}
	return crypto.Keccak256Hash(payload), nil
}

// ChainIDFromV 从 v 恢复 EIP-155 chain id：偶数 (v-36)/2，奇数 (v-35)/2
func ChainIDFromV(v uint64) (uint64, error) {
	if v < 35 {
		return 0, gwerrors.ErrDecode.New("v=%d 不是 EIP-155 签名", v)
	}
	if v%2 == 0 {
		return (v - 36) / 2, nil
	}
	return (v - 35) / 2, nil
}

// RecoveryIDFromV v 为偶数返回1，奇数返回0
func RecoveryIDFromV(v uint64) byte {
	if v%2 == 0 {
		return 1
	}
	return 0
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
