package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	gwerrors "gateway/internal/errors"
	"gateway/internal/gw"
	"gateway/internal/polyjuice"
)

var (
	rollupTypeHash    = common.HexToHash("0x11")
	eoaLockTypeHash   = common.HexToHash("0x22")
	validatorTypeHash = common.HexToHash("0x33")

	testParams = RollupParams{
		RollupTypeHash:             rollupTypeHash,
		EthEoaLockTypeHash:         eoaLockTypeHash,
		PolyjuiceValidatorTypeHash: validatorTypeHash,
	}

	senderAddr   = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	contractAddr = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
)

type mockScripts struct {
	mock.Mock
}

func (m *mockScripts) AccountScript(ctx context.Context, id gw.AccountID) (common.Hash, *gw.Script, bool, error) {
	args := m.Called(ctx, id)
	script, _ := args.Get(1).(*gw.Script)
	return args.Get(0).(common.Hash), script, args.Bool(2), args.Error(3)
}

func eoaScript(prefix common.Hash, addr common.Address) *gw.Script {
	return &gw.Script{
		CodeHash: eoaLockTypeHash,
		HashType: "type",
		Args:     append(prefix.Bytes(), addr.Bytes()...),
	}
}

func contractScript(addr common.Address) *gw.Script {
	args := append(rollupTypeHash.Bytes(), 0x04, 0x00, 0x00, 0x00, 0x00)
	args = append(args, addr.Bytes()...)
	return &gw.Script{CodeHash: validatorTypeHash, HashType: "type", Args: args}
}

func nativeTx(t *testing.T, isCreate bool) *gw.L2Transaction {
	t.Helper()
	args, err := (&polyjuice.CallArgs{
		IsCreate: isCreate,
		GasLimit: 50_000,
		GasPrice: uint256.NewInt(7),
		Value:    uint256.NewInt(9),
		Data:     []byte{0xde, 0xad},
	}).Encode()
	require.NoError(t, err)

	tx := &gw.L2Transaction{Raw: gw.RawL2Transaction{FromID: 100, ToID: 200, Nonce: 5, Args: args}}
	tx.Signature[31] = 0x01
	tx.Signature[63] = 0x02
	tx.Signature[64] = 0x01
	return tx
}

func TestToEthTransaction_Call(t *testing.T) {
	ctx := context.Background()
	ethHash := common.HexToHash("0xfeed")

	scripts := new(mockScripts)
	scripts.On("AccountScript", ctx, gw.AccountID(100)).Return(common.HexToHash("0x01"), eoaScript(rollupTypeHash, senderAddr), true, nil)
	scripts.On("AccountScript", ctx, gw.AccountID(200)).Return(common.HexToHash("0x02"), contractScript(contractAddr), true, nil)

	got, ok, err := NewTranslator(scripts, testParams, quietLogger()).ToEthTransaction(ctx, ethHash, nativeTx(t, false))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, ethHash, got.Hash)
	assert.Equal(t, senderAddr, got.From)
	require.NotNil(t, got.To)
	assert.Equal(t, contractAddr, *got.To)
	assert.Equal(t, uint64(50_000), uint64(got.Gas))
	assert.Equal(t, int64(7), got.GasPrice.ToInt().Int64())
	assert.Equal(t, int64(9), got.Value.ToInt().Int64())
	assert.Equal(t, []byte{0xde, 0xad}, []byte(got.Input))
	assert.Equal(t, uint64(5), uint64(got.Nonce))
	assert.Equal(t, int64(1), got.V.ToInt().Int64())
	assert.Equal(t, int64(1), got.R.ToInt().Int64())
	assert.Equal(t, int64(2), got.S.ToInt().Int64())
	assert.True(t, got.IsPending())

	// 待打包字段序列化为 null
	out, err := json.Marshal(got)
	require.NoError(t, err)
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &fields))
	assert.Nil(t, fields["blockHash"])
	assert.Nil(t, fields["blockNumber"])
	assert.Nil(t, fields["transactionIndex"])
	assert.Equal(t, "0xc350", fields["gas"])
}

func TestToEthTransaction_CreateHasNullTo(t *testing.T) {
	ctx := context.Background()
	scripts := new(mockScripts)
	scripts.On("AccountScript", ctx, gw.AccountID(100)).Return(common.HexToHash("0x01"), eoaScript(rollupTypeHash, senderAddr), true, nil)
	scripts.On("AccountScript", ctx, gw.AccountID(200)).
		Return(common.HexToHash("0x02"), &gw.Script{CodeHash: validatorTypeHash, Args: rollupTypeHash.Bytes()}, true, nil)

	got, ok, err := NewTranslator(scripts, testParams, quietLogger()).ToEthTransaction(ctx, common.Hash{}, nativeTx(t, true))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, got.To)
}

func TestToEthTransaction_Omitted(t *testing.T) {
	ctx := context.Background()
	foreignLock := &gw.Script{CodeHash: common.HexToHash("0x99"), Args: append(rollupTypeHash.Bytes(), senderAddr.Bytes()...)}
	shortContract := &gw.Script{CodeHash: validatorTypeHash, Args: make([]byte, 40)}
	sudt := &gw.Script{CodeHash: common.HexToHash("0x77")}

	tests := []struct {
		name       string
		fromScript *gw.Script
		fromFound  bool
		toScript   *gw.Script
		toFound    bool
	}{
		{"sender lock code hash differs", foreignLock, true, contractScript(contractAddr), true},
		{"sender script missing", nil, false, contractScript(contractAddr), true},
		{"sender args from another rollup", eoaScript(common.HexToHash("0x12"), senderAddr), true, contractScript(contractAddr), true},
		{"sender args wrong length", &gw.Script{CodeHash: eoaLockTypeHash, Args: senderAddr.Bytes()}, true, contractScript(contractAddr), true},
		{"recipient missing", eoaScript(rollupTypeHash, senderAddr), true, nil, false},
		{"recipient not polyjuice", eoaScript(rollupTypeHash, senderAddr), true, sudt, true},
		{"recipient args too short", eoaScript(rollupTypeHash, senderAddr), true, shortContract, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scripts := new(mockScripts)
			scripts.On("AccountScript", ctx, gw.AccountID(100)).Return(common.Hash{}, tt.fromScript, tt.fromFound, nil)
			scripts.On("AccountScript", ctx, gw.AccountID(200)).Return(common.Hash{}, tt.toScript, tt.toFound, nil)

			got, ok, err := NewTranslator(scripts, testParams, quietLogger()).ToEthTransaction(ctx, common.Hash{}, nativeTx(t, false))
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Nil(t, got)
		})
	}
}

func TestToEthTransaction_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("lookup failure propagates", func(t *testing.T) {
		scripts := new(mockScripts)
		scripts.On("AccountScript", ctx, gw.AccountID(100)).Return(common.Hash{}, nil, false, gwerrors.ErrNodeRPC.New("timeout"))

		_, ok, err := NewTranslator(scripts, testParams, quietLogger()).ToEthTransaction(ctx, common.Hash{}, nativeTx(t, false))
		assert.False(t, ok)
		assert.True(t, errors.Is(err, gwerrors.ErrNodeRPC))
	})

	t.Run("malformed call args", func(t *testing.T) {
		scripts := new(mockScripts)
		scripts.On("AccountScript", ctx, gw.AccountID(100)).Return(common.Hash{}, eoaScript(rollupTypeHash, senderAddr), true, nil)
		scripts.On("AccountScript", ctx, gw.AccountID(200)).Return(common.Hash{}, contractScript(contractAddr), true, nil)

		tx := nativeTx(t, false)
		tx.Raw.Args = tx.Raw.Args[:20]
		_, _, err := NewTranslator(scripts, testParams, quietLogger()).ToEthTransaction(ctx, common.Hash{}, tx)
		assert.True(t, errors.Is(err, gwerrors.ErrMalformedArgs))
	})
}

func TestToEthLogs(t *testing.T) {
	ethHash := common.HexToHash("0xfeed")

	withData := (&polyjuice.UserLog{
		Address: contractAddr,
		Data:    []byte{0xaa, 0xbb},
		Topics:  []common.Hash{common.HexToHash("0x01")},
	}).Encode()
	empty := (&polyjuice.UserLog{Address: senderAddr}).Encode()

	receipt := &gw.TxReceipt{Logs: []gw.LogItem{
		{AccountID: 1, ServiceFlag: 0x00, Data: []byte{0x01}},
		{AccountID: 200, ServiceFlag: gw.GwLogPolyjuiceUser, Data: withData},
		{AccountID: 1, ServiceFlag: 0x02, Data: []byte{0x02}},
		{AccountID: 200, ServiceFlag: gw.GwLogPolyjuiceUser, Data: empty},
	}}

	logs, err := NewTranslator(new(mockScripts), testParams, quietLogger()).ToEthLogs(ethHash, receipt)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	assert.Equal(t, contractAddr, logs[0].Address)
	assert.Equal(t, []byte{0xaa, 0xbb}, []byte(logs[0].Data))
	assert.Equal(t, []common.Hash{common.HexToHash("0x01")}, logs[0].Topics)
	assert.Equal(t, uint64(0), uint64(logs[0].LogIndex))
	assert.Equal(t, ethHash, logs[0].TransactionHash)
	assert.Nil(t, logs[0].BlockHash)
	assert.Nil(t, logs[0].BlockNumber)
	assert.Nil(t, logs[0].TransactionIndex)
	assert.False(t, logs[0].Removed)

	assert.Equal(t, senderAddr, logs[1].Address)
	assert.Equal(t, bytes.Repeat([]byte{0}, 32), []byte(logs[1].Data))
	assert.Empty(t, logs[1].Topics)
	assert.Equal(t, uint64(1), uint64(logs[1].LogIndex))
}

func TestToEthLogs_Corrupt(t *testing.T) {
	good := (&polyjuice.UserLog{Address: contractAddr}).Encode()
	receipt := &gw.TxReceipt{Logs: []gw.LogItem{
		{ServiceFlag: gw.GwLogPolyjuiceUser, Data: append(good, 0x00)},
	}}

	_, err := NewTranslator(new(mockScripts), testParams, quietLogger()).ToEthLogs(common.Hash{}, receipt)
	assert.True(t, errors.Is(err, gwerrors.ErrLogCorrupt))
}
