package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// LegacyTxType legacy 交易类型
const LegacyTxType = 0

// EthTransaction 返回给 web3 客户端的以太坊交易
// 待打包交易的 blockHash、blockNumber、transactionIndex 为 null
type EthTransaction struct {
	Hash             common.Hash     `json:"hash"`
	BlockHash        *common.Hash    `json:"blockHash"`
	BlockNumber      *hexutil.Big    `json:"blockNumber"`
	TransactionIndex *hexutil.Uint64 `json:"transactionIndex"`
	From             common.Address  `json:"from"`
	To               *common.Address `json:"to"`
	Gas              hexutil.Uint64  `json:"gas"`
	GasPrice         *hexutil.Big    `json:"gasPrice"`
	Value            *hexutil.Big    `json:"value"`
	Input            hexutil.Bytes   `json:"input"`
	Nonce            hexutil.Uint64  `json:"nonce"`
	Type             hexutil.Uint64  `json:"type"`
	V                *hexutil.Big    `json:"v"`
	R                *hexutil.Big    `json:"r"`
	S                *hexutil.Big    `json:"s"`
}

// IsPending 是否为待打包交易
func (t *EthTransaction) IsPending() bool {
	return t.BlockHash == nil
}

// EthLog 返回给 web3 客户端的以太坊日志
type EthLog struct {
	Address          common.Address  `json:"address"`
	Topics           []common.Hash   `json:"topics"`
	Data             hexutil.Bytes   `json:"data"`
	BlockNumber      *hexutil.Big    `json:"blockNumber"`
	TransactionHash  common.Hash     `json:"transactionHash"`
	TransactionIndex *hexutil.Uint64 `json:"transactionIndex"`
	BlockHash        *common.Hash    `json:"blockHash"`
	LogIndex         hexutil.Uint64  `json:"logIndex"`
	Removed          bool            `json:"removed"`
}

// BigFromBytes 将大端字节转换为 JSON 数量
func BigFromBytes(b []byte) *hexutil.Big {
	return (*hexutil.Big)(new(big.Int).SetBytes(b))
}
