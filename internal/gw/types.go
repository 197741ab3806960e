// Package gw Godwoken 原生数据模型：账户、脚本、L2 交易与回执
package gw

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// GwLogPolyjuiceUser Polyjuice 用户日志的 service flag
const GwLogPolyjuiceUser = 0x03

// ShortScriptHashLen 短脚本哈希长度
const ShortScriptHashLen = 20

// AccountID 链上账户编号
type AccountID uint32

// MarshalText 以 0x 十六进制数量编码
func (id AccountID) MarshalText() ([]byte, error) {
	return hexutil.Uint64(id).MarshalText()
}

// UnmarshalText 解析 0x 十六进制数量，超出 u32 报错
func (id *AccountID) UnmarshalText(input []byte) error {
	var v hexutil.Uint64
	if err := v.UnmarshalText(input); err != nil {
		return err
	}
	if uint64(v) > math.MaxUint32 {
		return fmt.Errorf("账户编号超出 u32 范围: %d", uint64(v))
	}
	*id = AccountID(v)
	return nil
}

// ShortScriptHash 脚本哈希的前20字节
type ShortScriptHash [ShortScriptHashLen]byte

// ShortScriptHashFromHash 截取脚本哈希前20字节
func ShortScriptHashFromHash(h common.Hash) ShortScriptHash {
	var s ShortScriptHash
	copy(s[:], h[:ShortScriptHashLen])
	return s
}

func (s ShortScriptHash) Hex() string {
	return hexutil.Encode(s[:])
}

func (s ShortScriptHash) MarshalText() ([]byte, error) {
	return hexutil.Bytes(s[:]).MarshalText()
}

// Script CKB 风格的锁/类型脚本
type Script struct {
	CodeHash common.Hash   `json:"code_hash"`
	HashType string        `json:"hash_type"`
	Args     hexutil.Bytes `json:"args"`
}

// RawL2Transaction 未签名的原生交易
type RawL2Transaction struct {
	FromID AccountID
	ToID   AccountID
	Nonce  uint32
	Args   []byte
}

type rawL2TransactionJSON struct {
	FromID AccountID      `json:"from_id"`
	ToID   AccountID      `json:"to_id"`
	Nonce  hexutil.Uint64 `json:"nonce"`
	Args   hexutil.Bytes  `json:"args"`
}

func (raw RawL2Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(rawL2TransactionJSON{
		FromID: raw.FromID,
		ToID:   raw.ToID,
		Nonce:  hexutil.Uint64(raw.Nonce),
		Args:   raw.Args,
	})
}

func (raw *RawL2Transaction) UnmarshalJSON(input []byte) error {
	var dec rawL2TransactionJSON
	if err := json.Unmarshal(input, &dec); err != nil {
		return err
	}
	if uint64(dec.Nonce) > math.MaxUint32 {
		return fmt.Errorf("nonce 超出 u32 范围: %d", uint64(dec.Nonce))
	}
	raw.FromID = dec.FromID
	raw.ToID = dec.ToID
	raw.Nonce = uint32(dec.Nonce)
	raw.Args = dec.Args
	return nil
}

// L2Transaction 已签名的原生交易，签名为 r ‖ s ‖ recoveryId
type L2Transaction struct {
	Raw       RawL2Transaction
	Signature [65]byte
}

type l2TransactionJSON struct {
	Raw       RawL2Transaction `json:"raw"`
	Signature hexutil.Bytes    `json:"signature"`
}

func (tx L2Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(l2TransactionJSON{Raw: tx.Raw, Signature: tx.Signature[:]})
}

func (tx *L2Transaction) UnmarshalJSON(input []byte) error {
	var dec l2TransactionJSON
	if err := json.Unmarshal(input, &dec); err != nil {
		return err
	}
	if len(dec.Signature) != len(tx.Signature) {
		return fmt.Errorf("签名长度应为 %d, 实际为 %d", len(tx.Signature), len(dec.Signature))
	}
	tx.Raw = dec.Raw
	copy(tx.Signature[:], dec.Signature)
	return nil
}

// TransactionStatus 节点返回的交易状态
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCommitted TransactionStatus = "committed"
)

// TransactionWithStatus gw_get_transaction 的返回值
type TransactionWithStatus struct {
	Transaction *L2Transaction    `json:"transaction"`
	Status      TransactionStatus `json:"status"`
}

// LogItem 原生回执中的日志项
type LogItem struct {
	AccountID   AccountID     `json:"account_id"`
	ServiceFlag hexutil.Uint  `json:"service_flag"`
	Data        hexutil.Bytes `json:"data"`
}

// AccountMerkleState 交易执行后的账户树状态
type AccountMerkleState struct {
	MerkleRoot common.Hash    `json:"merkle_root"`
	Count      hexutil.Uint64 `json:"count"`
}

// TxReceipt gw_get_transaction_receipt 的返回值
type TxReceipt struct {
	TxWitnessHash common.Hash         `json:"tx_witness_hash"`
	PostState     *AccountMerkleState `json:"post_state,omitempty"`
	ReadDataHash  common.Hash         `json:"read_data_hash"`
	Logs          []LogItem           `json:"logs"`
}

// RunResult gw_execute_raw_l2transaction 的返回值
type RunResult struct {
	ReturnData hexutil.Bytes `json:"return_data"`
	Logs       []LogItem     `json:"logs"`
}
