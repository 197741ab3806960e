package gwclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerrors "gateway/internal/errors"
	"gateway/internal/gw"
	"gateway/internal/resolver"
	"gateway/internal/retry"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// fakeNode 按方法名返回预设结果的节点
type fakeNode struct {
	results map[string]interface{}
	errs    map[string]rpcErrorBody
	seen    map[string][]json.RawMessage
	fail503 int32
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		results: make(map[string]interface{}),
		errs:    make(map[string]rpcErrorBody),
		seen:    make(map[string][]json.RawMessage),
	}
}

func (f *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if atomic.AddInt32(&f.fail503, -1) >= 0 {
		http.Error(w, "busy", http.StatusServiceUnavailable)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.seen[req.Method] = req.Params

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if e, ok := f.errs[req.Method]; ok {
		resp["error"] = e
	} else {
		resp["result"] = f.results[req.Method]
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func dialFake(t *testing.T, node *fakeNode) *Client {
	t.Helper()
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	c, err := Dial(context.Background(), srv.URL, time.Second, logger)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestClient_ReadCalls(t *testing.T) {
	node := newFakeNode()
	scriptHash := common.HexToHash("0xabcd")
	node.results[methodGetNonce] = "0x5"
	node.results[methodGetScriptHash] = scriptHash.Hex()
	node.results[methodGetScript] = map[string]string{
		"code_hash": common.HexToHash("0x01").Hex(),
		"hash_type": "type",
		"args":      "0x0102",
	}
	node.results[methodGetAccountIDByScriptHash] = "0x11"

	c := dialFake(t, node)
	ctx := context.Background()

	nonce, err := c.GetNonce(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), nonce)
	assert.JSONEq(t, `"0x3"`, string(node.seen[methodGetNonce][0]))

	hash, err := c.GetScriptHash(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, scriptHash, hash)

	script, err := c.GetScript(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, script)
	assert.Equal(t, "type", script.HashType)
	assert.Equal(t, hexutil.Bytes{0x01, 0x02}, script.Args)

	id, found, err := c.GetAccountIDByScriptHash(ctx, hash)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, gw.AccountID(17), id)
}

func TestClient_NullResults(t *testing.T) {
	node := newFakeNode()
	c := dialFake(t, node)
	ctx := context.Background()

	script, err := c.GetScript(ctx, common.Hash{})
	require.NoError(t, err)
	assert.Nil(t, script)

	_, found, err := c.GetAccountIDByScriptHash(ctx, common.Hash{})
	require.NoError(t, err)
	assert.False(t, found)

	tx, err := c.GetTransaction(ctx, common.Hash{})
	require.NoError(t, err)
	assert.Nil(t, tx)

	receipt, err := c.GetTransactionReceipt(ctx, common.Hash{})
	require.NoError(t, err)
	assert.Nil(t, receipt)
}

func TestClient_NonceOverflow(t *testing.T) {
	node := newFakeNode()
	node.results[methodGetNonce] = "0x100000000"
	c := dialFake(t, node)

	_, err := c.GetNonce(context.Background(), 1)
	assert.True(t, errors.Is(err, gwerrors.ErrValueOverflow))
}

func TestClient_ErrorClassification(t *testing.T) {
	node := newFakeNode()
	node.errs[methodExecuteRawL2Transaction] = rpcErrorBody{Code: -32000, Message: "Account not found: eth address"}
	node.errs[methodSubmitL2Transaction] = rpcErrorBody{Code: -32602, Message: "invalid nonce"}
	c := dialFake(t, node)
	ctx := context.Background()

	_, err := c.ExecuteRawL2Transaction(ctx, &gw.RawL2Transaction{FromID: 2, ToID: 4})
	assert.True(t, errors.Is(err, gwerrors.ErrAccountNotFound), "got %v", err)

	_, err = c.SubmitL2Transaction(ctx, &gw.L2Transaction{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, gwerrors.ErrNodeRPC))
	assert.False(t, errors.Is(err, gwerrors.ErrAccountNotFound))
	assert.False(t, retry.IsRetryableError(err))
}

func TestClient_OnlyAccountNotFoundClassIsNotFound(t *testing.T) {
	tests := []struct {
		name     string
		body     rpcErrorBody
		notFound bool
	}{
		{"账户不存在", rpcErrorBody{Code: -32000, Message: "account not found"}, true},
		{"服务端码段下界", rpcErrorBody{Code: -32099, Message: "Account not found: 0x01"}, true},
		{"方法不存在", rpcErrorBody{Code: -32601, Message: "Method not found"}, false},
		{"标准码下的同名消息", rpcErrorBody{Code: -32602, Message: "account not found"}, false},
		{"内部错误", rpcErrorBody{Code: -32603, Message: "account not found"}, false},
		{"交易不存在", rpcErrorBody{Code: -32000, Message: "transaction not found"}, false},
		{"区块不存在", rpcErrorBody{Code: -32001, Message: "block not found"}, false},
		{"消息中间含有前缀", rpcErrorBody{Code: -32000, Message: "script: account not found"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := newFakeNode()
			node.errs[methodExecuteRawL2Transaction] = tt.body
			c := dialFake(t, node)

			_, err := c.ExecuteRawL2Transaction(context.Background(), &gw.RawL2Transaction{FromID: 3, ToID: 2})
			require.Error(t, err)
			assert.Equal(t, tt.notFound, errors.Is(err, gwerrors.ErrAccountNotFound), "got %v", err)
			if !tt.notFound {
				assert.True(t, errors.Is(err, gwerrors.ErrNodeRPC))
			}
		})
	}
}

func TestResolver_MethodNotFoundPropagates(t *testing.T) {
	node := newFakeNode()
	node.results[methodGetNonce] = "0x1"
	node.errs[methodExecuteRawL2Transaction] = rpcErrorBody{Code: -32601, Message: "Method not found"}
	c := dialFake(t, node)

	res := resolver.New(c, resolver.Accounts{
		CreatorAccountID:     4,
		RegistryAccountID:    2,
		DefaultFromAccountID: 3,
	}, nil)

	id, found, err := res.EthAddressToAccountID(context.Background(), common.HexToAddress("0x1234"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, gwerrors.ErrNodeRPC))
	assert.False(t, errors.Is(err, gwerrors.ErrAccountNotFound))
	assert.False(t, found)
	assert.Equal(t, gw.AccountID(0), id)
}

func TestClient_SubmitSendsMoleculePayload(t *testing.T) {
	node := newFakeNode()
	txHash := common.HexToHash("0xbeef")
	node.results[methodSubmitL2Transaction] = txHash.Hex()
	c := dialFake(t, node)

	tx := &gw.L2Transaction{Raw: gw.RawL2Transaction{FromID: 9, ToID: 4, Nonce: 2, Args: []byte{0xff}}}
	tx.Signature[64] = 1

	got, err := c.SubmitL2Transaction(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, txHash, got)

	var payload hexutil.Bytes
	require.NoError(t, json.Unmarshal(node.seen[methodSubmitL2Transaction][0], &payload))
	decoded, err := gw.DeserializeL2Transaction(payload)
	require.NoError(t, err)
	assert.Equal(t, tx, decoded)
}

func TestClient_TransportErrorIsRetryable(t *testing.T) {
	node := newFakeNode()
	node.fail503 = 1
	c := dialFake(t, node)

	_, err := c.GetNonce(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gwerrors.ErrNodeRPC))
	assert.True(t, retry.IsRetryableError(err))
}

func TestRetryingClient_RetriesReads(t *testing.T) {
	node := newFakeNode()
	node.fail503 = 2
	c := dialFake(t, node)

	rc := NewRetryingClient(c, &retry.RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		BackoffFactor:   2,
	})

	// 两次 503 之后成功，空结果表示交易不存在
	tx, err := rc.GetTransaction(context.Background(), common.HexToHash("0x01"))
	require.NoError(t, err)
	assert.Nil(t, tx)
}

func TestRetryingClient_SubmitNotRetried(t *testing.T) {
	node := newFakeNode()
	node.results[methodSubmitL2Transaction] = common.HexToHash("0xbeef").Hex()
	node.fail503 = 1
	c := dialFake(t, node)

	rc := NewRetryingClient(c, &retry.RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		BackoffFactor:   2,
	})

	_, err := rc.SubmitL2Transaction(context.Background(), &gw.L2Transaction{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, gwerrors.ErrNodeRPC))
	assert.Empty(t, node.seen[methodSubmitL2Transaction])
}
