package convert

import (
	"context"
	"errors"
	"math"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	gwerrors "gateway/internal/errors"
	"gateway/internal/ethtx"
	"gateway/internal/gw"
	"gateway/internal/polyjuice"
)

const (
	testKeyHex  = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testChainID = 71393
	creatorID   = gw.AccountID(4)
)

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) EthAddressToAccountID(ctx context.Context, addr common.Address) (gw.AccountID, bool, error) {
	args := m.Called(ctx, addr)
	return args.Get(0).(gw.AccountID), args.Bool(1), args.Error(2)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func testSender(t *testing.T) common.Address {
	t.Helper()
	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	return crypto.PubkeyToAddress(key.PublicKey)
}

func signedRaw(t *testing.T, chainID int64, inner *types.LegacyTx) []byte {
	t.Helper()
	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	signed, err := types.SignTx(types.NewTx(inner), types.NewEIP155Signer(big.NewInt(chainID)), key)
	require.NoError(t, err)
	raw, err := signed.MarshalBinary()
	require.NoError(t, err)
	return raw
}

func TestBuild_EndToEnd(t *testing.T) {
	ctx := context.Background()
	to := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	raw := signedRaw(t, testChainID, &types.LegacyTx{
		Nonce:    12,
		GasPrice: big.NewInt(1_000_000_000),
		Gas:      300_000,
		To:       &to,
		Value:    big.NewInt(5_000),
		Data:     []byte{0x12, 0x34},
	})

	resolver := new(mockResolver)
	resolver.On("EthAddressToAccountID", ctx, testSender(t)).Return(gw.AccountID(100), true, nil)
	resolver.On("EthAddressToAccountID", ctx, to).Return(gw.AccountID(200), true, nil)

	tx, err := NewBuilder(resolver, creatorID, testChainID, quietLogger()).Build(ctx, raw)
	require.NoError(t, err)

	assert.Equal(t, gw.AccountID(100), tx.Raw.FromID)
	assert.Equal(t, gw.AccountID(200), tx.Raw.ToID)
	assert.Equal(t, uint32(12), tx.Raw.Nonce)
	assert.Equal(t, polyjuice.Magic[:], tx.Raw.Args[:7])

	args, err := polyjuice.DecodeCallArgs(tx.Raw.Args)
	require.NoError(t, err)
	assert.False(t, args.IsCreate)
	assert.Equal(t, uint64(300_000), args.GasLimit)
	assert.Equal(t, uint256.NewInt(1_000_000_000), args.GasPrice)
	assert.Equal(t, uint256.NewInt(5_000), args.Value)
	assert.Equal(t, []byte{0x12, 0x34}, args.Data)

	// 签名与原交易一致，可再次恢复出发送方
	decoded, err := ethtx.DecodeLegacyTx(raw)
	require.NoError(t, err)
	assert.Equal(t, decoded.Signature(), tx.Signature)
	hash, err := ethtx.SigningMessageHash(decoded)
	require.NoError(t, err)
	sender, err := ethtx.RecoverSender(tx.Signature, hash)
	require.NoError(t, err)
	assert.Equal(t, testSender(t), sender)

	resolver.AssertExpectations(t)
}

func TestBuild_ZeroToIsCreation(t *testing.T) {
	ctx := context.Background()
	zero := common.Address{}
	raw := signedRaw(t, testChainID, &types.LegacyTx{
		Nonce:    0,
		GasPrice: big.NewInt(0),
		Gas:      1_000_000,
		To:       &zero,
		Value:    big.NewInt(0),
		Data:     []byte{0x60, 0x80},
	})

	resolver := new(mockResolver)
	resolver.On("EthAddressToAccountID", ctx, testSender(t)).Return(gw.AccountID(100), true, nil)

	tx, err := NewBuilder(resolver, creatorID, testChainID, quietLogger()).Build(ctx, raw)
	require.NoError(t, err)

	assert.Equal(t, creatorID, tx.Raw.ToID)
	assert.Equal(t, polyjuice.CallKindCreate, tx.Raw.Args[7])
	resolver.AssertNotCalled(t, "EthAddressToAccountID", ctx, zero)
	resolver.AssertNumberOfCalls(t, "EthAddressToAccountID", 1)
}

func TestBuild_EmptyToIsCreation(t *testing.T) {
	ctx := context.Background()
	raw := signedRaw(t, testChainID, &types.LegacyTx{Gas: 100_000, GasPrice: big.NewInt(1), Value: big.NewInt(0)})

	resolver := new(mockResolver)
	resolver.On("EthAddressToAccountID", ctx, testSender(t)).Return(gw.AccountID(100), true, nil)

	tx, err := NewBuilder(resolver, creatorID, testChainID, quietLogger()).BuildHex(ctx, hexutil.Encode(raw))
	require.NoError(t, err)
	assert.Equal(t, creatorID, tx.Raw.ToID)
	assert.Equal(t, polyjuice.CallKindCreate, tx.Raw.Args[7])
	resolver.AssertNumberOfCalls(t, "EthAddressToAccountID", 1)
}

func TestBuild_SenderNotRegistered(t *testing.T) {
	ctx := context.Background()
	to := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	raw := signedRaw(t, testChainID, &types.LegacyTx{Gas: 21000, GasPrice: big.NewInt(1), To: &to, Value: big.NewInt(1)})

	resolver := new(mockResolver)
	resolver.On("EthAddressToAccountID", ctx, testSender(t)).Return(gw.AccountID(0), false, nil)

	_, err := NewBuilder(resolver, creatorID, testChainID, quietLogger()).Build(ctx, raw)
	assert.True(t, errors.Is(err, gwerrors.ErrSenderNotRegistered), "got %v", err)
	resolver.AssertNotCalled(t, "EthAddressToAccountID", ctx, to)
}

func TestBuild_RecipientNotRegistered(t *testing.T) {
	ctx := context.Background()
	to := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	raw := signedRaw(t, testChainID, &types.LegacyTx{Gas: 21000, GasPrice: big.NewInt(1), To: &to, Value: big.NewInt(1)})

	resolver := new(mockResolver)
	resolver.On("EthAddressToAccountID", ctx, testSender(t)).Return(gw.AccountID(100), true, nil)
	resolver.On("EthAddressToAccountID", ctx, to).Return(gw.AccountID(0), false, nil)

	_, err := NewBuilder(resolver, creatorID, testChainID, quietLogger()).Build(ctx, raw)
	assert.True(t, errors.Is(err, gwerrors.ErrRecipientNotRegistered), "got %v", err)
}

func TestBuild_ResolverErrorPropagates(t *testing.T) {
	ctx := context.Background()
	raw := signedRaw(t, testChainID, &types.LegacyTx{Gas: 21000, GasPrice: big.NewInt(1), Value: big.NewInt(0)})

	resolver := new(mockResolver)
	resolver.On("EthAddressToAccountID", ctx, mock.Anything).
		Return(gw.AccountID(0), false, gwerrors.ErrNodeRPC.New("connection refused"))

	_, err := NewBuilder(resolver, creatorID, testChainID, quietLogger()).Build(ctx, raw)
	assert.True(t, errors.Is(err, gwerrors.ErrNodeRPC))
}

func TestBuild_Rejections(t *testing.T) {
	ctx := context.Background()
	resolver := new(mockResolver)
	resolver.On("EthAddressToAccountID", ctx, mock.Anything).Return(gw.AccountID(1), true, nil)
	builder := NewBuilder(resolver, creatorID, testChainID, quietLogger())

	t.Run("wrong chain id", func(t *testing.T) {
		raw := signedRaw(t, 1, &types.LegacyTx{Gas: 21000, GasPrice: big.NewInt(1), Value: big.NewInt(0)})
		_, err := builder.Build(ctx, raw)
		assert.True(t, errors.Is(err, gwerrors.ErrInvalidParams))
	})

	t.Run("nonce overflow", func(t *testing.T) {
		raw := signedRaw(t, testChainID, &types.LegacyTx{Nonce: math.MaxUint32 + 1, Gas: 21000, GasPrice: big.NewInt(1), Value: big.NewInt(0)})
		_, err := builder.Build(ctx, raw)
		assert.True(t, errors.Is(err, gwerrors.ErrValueOverflow))
	})

	t.Run("value over 128 bits", func(t *testing.T) {
		huge := new(big.Int).Lsh(big.NewInt(1), 130)
		raw := signedRaw(t, testChainID, &types.LegacyTx{Gas: 21000, GasPrice: big.NewInt(1), Value: huge})
		_, err := builder.Build(ctx, raw)
		assert.True(t, errors.Is(err, gwerrors.ErrValueOverflow))
	})

	t.Run("bad hex", func(t *testing.T) {
		_, err := builder.BuildHex(ctx, "0xzz")
		assert.True(t, errors.Is(err, gwerrors.ErrDecode))
	})

	t.Run("not rlp", func(t *testing.T) {
		_, err := builder.BuildHex(ctx, "0x01")
		assert.True(t, errors.Is(err, gwerrors.ErrDecode))
	})
}

func TestBuild_NonceOverflowBeforeLookup(t *testing.T) {
	ctx := context.Background()
	resolver := new(mockResolver)
	builder := NewBuilder(resolver, creatorID, testChainID, quietLogger())

	to := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	raw := signedRaw(t, testChainID, &types.LegacyTx{Nonce: math.MaxUint32 + 1, To: &to, Gas: 21000, GasPrice: big.NewInt(1), Value: big.NewInt(0)})
	_, err := builder.Build(ctx, raw)
	assert.True(t, errors.Is(err, gwerrors.ErrValueOverflow))
	resolver.AssertNotCalled(t, "EthAddressToAccountID", mock.Anything, mock.Anything)
}
