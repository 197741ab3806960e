package errors

import (
	stderrors "errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrorHandler 错误处理器，记录统计并按严重级别输出日志
type ErrorHandler struct {
	logger *logrus.Logger
	stats  *ErrorStats
	mu     sync.RWMutex

	// 错误回调
	callbacks []ErrorCallback
}

// ErrorCallback 错误回调函数
type ErrorCallback func(err *GatewayError)

// NewErrorHandler 创建错误处理器
func NewErrorHandler(logger *logrus.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger:    logger,
		stats:     NewErrorStats(),
		callbacks: make([]ErrorCallback, 0),
	}
}

// HandleError 处理错误，返回归一化后的 GatewayError
func (eh *ErrorHandler) HandleError(component string, err error) *GatewayError {
	if err == nil {
		return nil
	}

	var gatewayErr *GatewayError
	if !stderrors.As(err, &gatewayErr) {
		// 节点或传输层返回的普通错误
		gatewayErr = ErrNodeRPC.Wrap(err, "节点调用失败")
	}
	if gatewayErr.Component == "" {
		gatewayErr.Component = component
	}

	eh.mu.Lock()
	eh.stats.RecordError(gatewayErr)
	callbacks := make([]ErrorCallback, len(eh.callbacks))
	copy(callbacks, eh.callbacks)
	eh.mu.Unlock()

	eh.log(gatewayErr)

	for _, cb := range callbacks {
		cb(gatewayErr)
	}

	return gatewayErr
}

// log 根据严重级别选择日志级别
func (eh *ErrorHandler) log(err *GatewayError) {
	entry := eh.logger.WithFields(logrus.Fields{
		"error_type": err.Type.String(),
		"error_code": err.Code,
		"component":  err.Component,
		"retryable":  err.Retryable,
	})
	if err.TxHash != nil {
		entry = entry.WithField("tx_hash", *err.TxHash)
	}
	if err.Cause != nil {
		entry = entry.WithField("cause", err.Cause.Error())
	}

	switch err.Severity {
	case SeverityLow:
		entry.Debug(err.Message)
	case SeverityMedium:
		entry.Warn(err.Message)
	default:
		entry.Error(err.Message)
	}
}

// AddCallback 添加错误回调
func (eh *ErrorHandler) AddCallback(callback ErrorCallback) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.callbacks = append(eh.callbacks, callback)
}

// Snapshot 返回统计信息摘要
func (eh *ErrorHandler) Snapshot() map[string]interface{} {
	eh.mu.RLock()
	defer eh.mu.RUnlock()

	byType := make(map[string]int, len(eh.stats.ErrorsByType))
	for t, n := range eh.stats.ErrorsByType {
		byType[t.String()] = n
	}
	bySeverity := make(map[string]int, len(eh.stats.ErrorsBySeverity))
	for s, n := range eh.stats.ErrorsBySeverity {
		bySeverity[s.String()] = n
	}
	byComponent := make(map[string]int, len(eh.stats.ErrorsByComponent))
	for c, n := range eh.stats.ErrorsByComponent {
		byComponent[c] = n
	}

	return map[string]interface{}{
		"total_errors":        eh.stats.TotalErrors,
		"errors_by_type":      byType,
		"errors_by_severity":  bySeverity,
		"errors_by_component": byComponent,
	}
}

// ClearStats 清除统计信息
func (eh *ErrorHandler) ClearStats() {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.stats = NewErrorStats()
}
