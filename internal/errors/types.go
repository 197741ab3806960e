package errors

import (
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 网络相关错误
	ErrorTypeNetwork ErrorType = iota
	ErrorTypeTimeout
	ErrorTypeNodeRPC

	// 结构性错误（数据损坏，不可重试）
	ErrorTypeMalformedArgs
	ErrorTypeDecode
	ErrorTypeLogCorrupt
	ErrorTypeOverflow

	// 签名错误
	ErrorTypeRecovery

	// 账户解析错误
	ErrorTypeNotFound
	ErrorTypeNotRegistered

	// 系统相关错误
	ErrorTypeValidation
	ErrorTypeConfig
	ErrorTypeSystem

	// 外部服务错误
	ErrorTypeKafka
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// GatewayError 网关错误类型
type GatewayError struct {
	Type      ErrorType              `json:"type"`
	Severity  ErrorSeverity          `json:"severity"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"cause,omitempty"`
	Retryable bool                   `json:"retryable"`
	Component string                 `json:"component"`
	TxHash    *string                `json:"tx_hash,omitempty"`
}

// Error 实现error接口
func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// Is 按错误码匹配，使 errors.Is(err, ErrMalformedArgs) 对派生出的错误实例同样成立
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// IsRetryable 判断是否可重试
func (e *GatewayError) IsRetryable() bool {
	return e.Retryable
}

// WithContext 添加上下文信息
func (e *GatewayError) WithContext(key string, value interface{}) *GatewayError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithTxHash 添加交易哈希
func (e *GatewayError) WithTxHash(txHash string) *GatewayError {
	e.TxHash = &txHash
	return e
}

// WithComponent 标记出错组件
func (e *GatewayError) WithComponent(component string) *GatewayError {
	e.Component = component
	return e
}

// New 以当前错误为模板派生新实例，保留类型与错误码
func (e *GatewayError) New(format string, args ...interface{}) *GatewayError {
	return e.Wrap(nil, format, args...)
}

// Wrap 以当前错误为模板包装底层错误
func (e *GatewayError) Wrap(cause error, format string, args ...interface{}) *GatewayError {
	return &GatewayError{
		Type:      e.Type,
		Severity:  e.Severity,
		Code:      e.Code,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
		Cause:     cause,
		Retryable: e.Retryable,
		Component: e.Component,
	}
}

// NewGatewayError 创建新的错误
func NewGatewayError(errorType ErrorType, severity ErrorSeverity, code, message string) *GatewayError {
	return &GatewayError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: determineRetryable(errorType),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *GatewayError {
	return &GatewayError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Retryable: determineRetryable(errorType),
	}
}

// determineRetryable 根据错误类型判断是否可重试
func determineRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeNodeRPC:
		return true
	case ErrorTypeKafka:
		return true
	default:
		return false
	}
}

// 预定义错误
var (
	// 结构性错误
	ErrMalformedArgs = NewGatewayError(
		ErrorTypeMalformedArgs,
		SeverityMedium,
		"MALFORMED_ARGS",
		"Polyjuice调用参数格式错误",
	)

	ErrDecode = NewGatewayError(
		ErrorTypeDecode,
		SeverityMedium,
		"DECODE_ERROR",
		"交易解码失败",
	)

	ErrLogCorrupt = NewGatewayError(
		ErrorTypeLogCorrupt,
		SeverityHigh,
		"LOG_CORRUPT",
		"用户日志数据损坏",
	)

	ErrValueOverflow = NewGatewayError(
		ErrorTypeOverflow,
		SeverityMedium,
		"VALUE_OVERFLOW",
		"数值超出字段宽度",
	)

	// 签名错误
	ErrRecovery = NewGatewayError(
		ErrorTypeRecovery,
		SeverityMedium,
		"RECOVERY_ERROR",
		"签名恢复公钥失败",
	)

	// 账户错误
	ErrAccountNotFound = NewGatewayError(
		ErrorTypeNotFound,
		SeverityLow,
		"ACCOUNT_NOT_FOUND",
		"账户不存在",
	)

	ErrSenderNotRegistered = NewGatewayError(
		ErrorTypeNotRegistered,
		SeverityMedium,
		"SENDER_NOT_REGISTERED",
		"发送方地址未注册账户",
	)

	ErrRecipientNotRegistered = NewGatewayError(
		ErrorTypeNotRegistered,
		SeverityMedium,
		"RECIPIENT_NOT_REGISTERED",
		"接收方地址未注册账户",
	)

	// 网络错误
	ErrNodeRPC = NewGatewayError(
		ErrorTypeNodeRPC,
		SeverityHigh,
		"NODE_RPC_FAILED",
		"节点RPC调用失败",
	)

	// 系统错误
	ErrInvalidParams = NewGatewayError(
		ErrorTypeValidation,
		SeverityLow,
		"INVALID_PARAMS",
		"请求参数无效",
	)

	ErrConfigInvalid = NewGatewayError(
		ErrorTypeConfig,
		SeverityCritical,
		"CONFIG_INVALID",
		"配置无效",
	)

	// 外部服务错误
	ErrKafkaProduceFailed = NewGatewayError(
		ErrorTypeKafka,
		SeverityHigh,
		"KAFKA_PRODUCE_FAILED",
		"Kafka消息发送失败",
	)
)

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeNetwork:       "Network",
	ErrorTypeTimeout:       "Timeout",
	ErrorTypeNodeRPC:       "NodeRPC",
	ErrorTypeMalformedArgs: "MalformedArgs",
	ErrorTypeDecode:        "Decode",
	ErrorTypeLogCorrupt:    "LogCorrupt",
	ErrorTypeOverflow:      "Overflow",
	ErrorTypeRecovery:      "Recovery",
	ErrorTypeNotFound:      "NotFound",
	ErrorTypeNotRegistered: "NotRegistered",
	ErrorTypeValidation:    "Validation",
	ErrorTypeConfig:        "Config",
	ErrorTypeSystem:        "System",
	ErrorTypeKafka:         "Kafka",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}

// ErrorStats 错误统计
type ErrorStats struct {
	TotalErrors       int                   `json:"total_errors"`
	ErrorsByType      map[ErrorType]int     `json:"errors_by_type"`
	ErrorsBySeverity  map[ErrorSeverity]int `json:"errors_by_severity"`
	ErrorsByComponent map[string]int        `json:"errors_by_component"`
	RecentErrors      []*GatewayError       `json:"recent_errors"`
	LastError         *GatewayError         `json:"last_error"`
	LastErrorTime     time.Time             `json:"last_error_time"`
}

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ErrorsByType:      make(map[ErrorType]int),
		ErrorsBySeverity:  make(map[ErrorSeverity]int),
		ErrorsByComponent: make(map[string]int),
		RecentErrors:      make([]*GatewayError, 0),
	}
}

// RecordError 记录错误
func (es *ErrorStats) RecordError(err *GatewayError) {
	es.TotalErrors++
	es.ErrorsByType[err.Type]++
	es.ErrorsBySeverity[err.Severity]++
	if err.Component != "" {
		es.ErrorsByComponent[err.Component]++
	}

	es.LastError = err
	es.LastErrorTime = err.Timestamp

	// 保留最近100个错误
	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > 100 {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// GetErrorRate 获取错误率（错误/小时）
func (es *ErrorStats) GetErrorRate(duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-duration)
	recentCount := 0

	for _, err := range es.RecentErrors {
		if err.Timestamp.After(cutoff) {
			recentCount++
		}
	}

	hours := duration.Hours()
	if hours == 0 {
		return float64(recentCount)
	}

	return float64(recentCount) / hours
}
