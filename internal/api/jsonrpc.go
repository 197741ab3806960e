package api

import (
	"bytes"
	"encoding/json"
	stderrors "errors"

	gwerrors "gateway/internal/errors"
)

const jsonrpcVersion = "2.0"

// JSON-RPC 错误码
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeServerError    = -32000 // 转换、账户解析与节点错误
)

var nullID = json.RawMessage("null")

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func responseID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return nullID
	}
	return id
}

func errorResponse(id json.RawMessage, code int, message string) *rpcResponse {
	return &rpcResponse{
		JSONRPC: jsonrpcVersion,
		ID:      responseID(id),
		Error:   &rpcError{Code: code, Message: message},
	}
}

// resultResponse nil 结果编码为 null
func resultResponse(id json.RawMessage, result interface{}) *rpcResponse {
	data, err := json.Marshal(result)
	if err != nil {
		return errorResponse(id, codeInternalError, "结果序列化失败: "+err.Error())
	}
	return &rpcResponse{
		JSONRPC: jsonrpcVersion,
		ID:      responseID(id),
		Result:  data,
	}
}

// parseParams 只接受位置参数
func parseParams(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var params []json.RawMessage
	if err := json.Unmarshal(trimmed, &params); err != nil {
		return nil, gwerrors.ErrInvalidParams.Wrap(err, "params 必须是数组")
	}
	return params, nil
}

// isBatch 判断请求体是否为批量请求
func isBatch(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

// toRPCError 把网关错误映射为 JSON-RPC 错误对象
func toRPCError(err *gwerrors.GatewayError) *rpcError {
	code := codeServerError
	if stderrors.Is(err, gwerrors.ErrInvalidParams) {
		code = codeInvalidParams
	}

	message := err.Message
	if err.Cause != nil {
		message += ": " + err.Cause.Error()
	}

	data := map[string]interface{}{
		"code":      err.Code,
		"retryable": err.Retryable,
	}
	if err.TxHash != nil {
		data["tx_hash"] = *err.TxHash
	}
	return &rpcError{Code: code, Message: message, Data: data}
}
