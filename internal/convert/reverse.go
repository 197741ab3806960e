package convert

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"gateway/internal/gw"
	"gateway/internal/polyjuice"
	"gateway/pkg/models"
)

const (
	// eth EOA 锁脚本 args：rollup type hash(32) ‖ eth address(20)
	eoaLockArgsLen = common.HashLength + common.AddressLength
	// Polyjuice 合约账户脚本 args 中以太坊地址的偏移
	contractAddressOffset = 37
)

// ScriptResolver 账户编号到脚本的反向查询
type ScriptResolver interface {
	AccountScript(ctx context.Context, id gw.AccountID) (common.Hash, *gw.Script, bool, error)
}

// RollupParams 反向转换所需的链参数
type RollupParams struct {
	RollupTypeHash             common.Hash
	EthEoaLockTypeHash         common.Hash
	PolyjuiceValidatorTypeHash common.Hash
}

// Translator 把原生待打包交易与回执还原成以太坊形状
type Translator struct {
	scripts ScriptResolver
	params  RollupParams
	logger  *logrus.Logger
}

// NewTranslator 创建反向转换器
func NewTranslator(scripts ScriptResolver, params RollupParams, logger *logrus.Logger) *Translator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Translator{scripts: scripts, params: params, logger: logger}
}

// ToEthTransaction 还原以太坊交易；返回 false 表示不是以太坊兼容交易，应当忽略
func (t *Translator) ToEthTransaction(ctx context.Context, ethTxHash common.Hash, tx *gw.L2Transaction) (*models.EthTransaction, bool, error) {
	logger := t.logger.WithField("tx_hash", ethTxHash.Hex())

	_, fromScript, found, err := t.scripts.AccountScript(ctx, tx.Raw.FromID)
	if err != nil {
		return nil, false, err
	}
	if !found || fromScript.CodeHash != t.params.EthEoaLockTypeHash {
		logger.WithField("from_id", tx.Raw.FromID).Debug("发送方不是 eth EOA 账户")
		return nil, false, nil
	}

	if len(fromScript.Args) != eoaLockArgsLen ||
		common.BytesToHash(fromScript.Args[:common.HashLength]) != t.params.RollupTypeHash {
		logger.WithField("from_id", tx.Raw.FromID).Debug("发送方锁脚本 args 不属于当前 rollup")
		return nil, false, nil
	}
	from := common.BytesToAddress(fromScript.Args[common.HashLength:])

	_, toScript, found, err := t.scripts.AccountScript(ctx, tx.Raw.ToID)
	if err != nil {
		return nil, false, err
	}
	if !found || toScript.CodeHash != t.params.PolyjuiceValidatorTypeHash {
		logger.WithField("to_id", tx.Raw.ToID).Debug("接收方不是 Polyjuice 账户")
		return nil, false, nil
	}

	args, err := polyjuice.DecodeCallArgs(tx.Raw.Args)
	if err != nil {
		return nil, false, err
	}

	var to *common.Address
	if !args.IsCreate {
		if len(toScript.Args) < contractAddressOffset+common.AddressLength {
			logger.WithField("to_id", tx.Raw.ToID).Debug("合约账户脚本 args 过短")
			return nil, false, nil
		}
		addr := common.BytesToAddress(toScript.Args[contractAddressOffset : contractAddressOffset+common.AddressLength])
		to = &addr
	}

	sig := tx.Signature
	return &models.EthTransaction{
		Hash:     ethTxHash,
		From:     from,
		To:       to,
		Gas:      hexutil.Uint64(args.GasLimit),
		GasPrice: (*hexutil.Big)(args.GasPrice.ToBig()),
		Value:    (*hexutil.Big)(args.Value.ToBig()),
		Input:    args.Data,
		Nonce:    hexutil.Uint64(tx.Raw.Nonce),
		Type:     models.LegacyTxType,
		// v 为签名中的 recoveryId (0/1)，不折算 EIP-155 链 ID
		V:        (*hexutil.Big)(new(big.Int).SetUint64(uint64(sig[64]))),
		R:        models.BigFromBytes(sig[0:32]),
		S:        models.BigFromBytes(sig[32:64]),
	}, true, nil
}

// ToEthLogs 从回执中提取 Polyjuice 用户日志，logIndex 为交易内序号
func (t *Translator) ToEthLogs(ethTxHash common.Hash, receipt *gw.TxReceipt) ([]*models.EthLog, error) {
	logs := make([]*models.EthLog, 0, len(receipt.Logs))
	for _, item := range receipt.Logs {
		if item.ServiceFlag != gw.GwLogPolyjuiceUser {
			continue
		}
		userLog, err := polyjuice.ParseUserLog(item.Data)
		if err != nil {
			return nil, err
		}

		data := userLog.Data
		if len(data) == 0 {
			data = make([]byte, common.HashLength)
		}

		logs = append(logs, &models.EthLog{
			Address:         userLog.Address,
			Topics:          userLog.Topics,
			Data:            data,
			TransactionHash: ethTxHash,
			LogIndex:        hexutil.Uint64(len(logs)),
			Removed:         false,
		})
	}
	return logs, nil
}
