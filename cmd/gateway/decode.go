package main

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"gateway/internal/ethtx"
	"gateway/internal/polyjuice"
)

// txSummary 离线解析结果
type txSummary struct {
	Hash     common.Hash
	From     common.Address
	To       *common.Address
	ChainID  uint64
	Nonce    uint64
	GasLimit uint64
	GasPrice string
	Value    string
	Data     hexutil.Bytes
	Args     hexutil.Bytes // Polyjuice 调用参数
}

func describeTx(raw []byte) (*txSummary, error) {
	tx, err := ethtx.DecodeLegacyTx(raw)
	if err != nil {
		return nil, err
	}
	chainID, err := ethtx.ChainIDFromV(tx.V)
	if err != nil {
		return nil, err
	}
	msgHash, err := ethtx.SigningMessageHash(tx)
	if err != nil {
		return nil, err
	}
	from, err := ethtx.RecoverSender(tx.Signature(), msgHash)
	if err != nil {
		return nil, err
	}

	callArgs := &polyjuice.CallArgs{
		IsCreate: tx.IsCreate(),
		GasLimit: tx.GasLimit,
		GasPrice: tx.GasPrice,
		Value:    tx.Value,
		Data:     tx.Data,
	}
	args, err := callArgs.Encode()
	if err != nil {
		return nil, err
	}

	summary := &txSummary{
		Hash:     crypto.Keccak256Hash(raw),
		From:     from,
		ChainID:  chainID,
		Nonce:    tx.Nonce,
		GasLimit: tx.GasLimit,
		GasPrice: tx.GasPrice.Dec(),
		Value:    tx.Value.Dec(),
		Data:     tx.Data,
		Args:     args,
	}
	if !tx.IsCreate() {
		summary.To = tx.To
	}
	return summary, nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	raw, err := hexutil.Decode(strings.TrimSpace(args[0]))
	if err != nil {
		return fmt.Errorf("交易十六进制解码失败: %w", err)
	}

	summary, err := describeTx(raw)
	if err != nil {
		return err
	}

	to := "(合约创建)"
	if summary.To != nil {
		to = summary.To.Hex()
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "交易解析结果")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintf(out, "%-12s: %s\n", "hash", summary.Hash.Hex())
	fmt.Fprintf(out, "%-12s: %s\n", "from", summary.From.Hex())
	fmt.Fprintf(out, "%-12s: %s\n", "to", to)
	fmt.Fprintf(out, "%-12s: %d\n", "chain_id", summary.ChainID)
	fmt.Fprintf(out, "%-12s: %d\n", "nonce", summary.Nonce)
	fmt.Fprintf(out, "%-12s: %d\n", "gas_limit", summary.GasLimit)
	fmt.Fprintf(out, "%-12s: %s\n", "gas_price", summary.GasPrice)
	fmt.Fprintf(out, "%-12s: %s\n", "value", summary.Value)
	fmt.Fprintf(out, "%-12s: %s\n", "data", summary.Data)
	fmt.Fprintf(out, "%-12s: %s\n", "call_args", summary.Args)
	return nil
}
