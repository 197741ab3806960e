package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"gateway/internal/config"
	gwerrors "gateway/internal/errors"
	"gateway/internal/logging"
	"gateway/internal/output"
	"gateway/internal/validation"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultMaxBatchSize   = 100
	maxDebugLogs          = 1000
)

// Deps JSON-RPC 方法依赖的组件
type Deps struct {
	Builder    TxBuilder
	Translator TxTranslator
	Node       NodeClient
	Accounts   AddressLookup
	Index      TxIndex // 可为 nil
	Publisher  output.Publisher
	Validator  *validation.Validator
	Configs    ConfigStore // 可为 nil，仅配置数据库时提供
}

// Server JSON-RPC 服务器
type Server struct {
	cfg          *config.ServerConfig
	chainID      uint64
	deps         Deps
	logger       *logrus.Logger
	slogger      *logging.StructuredLogger
	errorHandler *gwerrors.ErrorHandler
	logManager   *LogManager
	router       *gin.Engine
	server       *http.Server
	startedAt    time.Time
	publishWG    sync.WaitGroup
	mu           sync.Mutex
}

// NewServer 创建新的JSON-RPC服务器
func NewServer(cfg *config.ServerConfig, chainID uint64, deps Deps, logger *logrus.Logger, slogger *logging.StructuredLogger) *Server {
	s := &Server{
		cfg:          cfg,
		chainID:      chainID,
		deps:         deps,
		logger:       logger,
		slogger:      slogger,
		errorHandler: gwerrors.NewErrorHandler(logger),
		startedAt:    time.Now(),
	}
	if s.deps.Validator == nil {
		s.deps.Validator = validation.NewValidator(logger, false)
	}
	if s.slogger == nil {
		sl, err := logging.NewStructuredLogger(logging.DefaultLogConfig)
		if err != nil {
			logger.Fatalf("创建结构化日志器失败: %v", err)
		}
		s.slogger = sl
	}

	if cfg.DebugLogs {
		s.logManager = NewLogManager(maxDebugLogs)
		logger.AddHook(NewLogHook(s.logManager))
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(corsMiddleware())
	router.Use(s.accessLog())
	router.Use(gin.Recovery())
	s.setupRoutes(router)
	s.router = router

	return s
}

// Handler 返回 HTTP 处理器
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动服务器，阻塞直到关闭
func (s *Server) Start() error {
	s.mu.Lock()
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Infof("JSON-RPC服务器启动在 %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 停止接收请求并等待未完成的推送
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.publishWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("等待推送任务超时")
	}
	return err
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// accessLog 以 logrus 记录 HTTP 访问
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.WithFields(logrus.Fields{
			"status":   c.Writer.Status(),
			"path":     c.Request.URL.Path,
			"client":   c.ClientIP(),
			"duration": time.Since(start).String(),
		}).Debug("HTTP请求")
	}
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(router *gin.Engine) {
	router.POST("/", s.handleRPC)
	router.GET("/health", s.healthCheck)

	if s.logManager != nil {
		router.GET("/debug/logs", s.getLogs)
		router.DELETE("/debug/logs", s.clearLogs)
	}

	if s.deps.Configs != nil {
		cm := NewConfigManager(s.deps.Configs, s.logger)
		admin := router.Group("/admin")
		{
			admin.GET("/config", cm.GetConfig)
			admin.PUT("/config", cm.UpdateConfig)
		}
	}
}

// handleRPC 处理单个或批量 JSON-RPC 请求
func (s *Server) handleRPC(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil || !json.Valid(body) {
		c.JSON(http.StatusOK, errorResponse(nil, codeParseError, "请求体不是合法的 JSON"))
		return
	}

	ctx := c.Request.Context()
	remoteAddr := c.ClientIP()

	if !isBatch(body) {
		resp := s.handleMessage(ctx, body, remoteAddr)
		if resp == nil {
			c.Status(http.StatusOK)
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(body, &batch); err != nil {
		c.JSON(http.StatusOK, errorResponse(nil, codeParseError, "批量请求格式错误"))
		return
	}
	if len(batch) == 0 {
		c.JSON(http.StatusOK, errorResponse(nil, codeInvalidRequest, "批量请求为空"))
		return
	}
	if len(batch) > s.maxBatchSize() {
		c.JSON(http.StatusOK, errorResponse(nil, codeInvalidRequest,
			fmt.Sprintf("批量请求数量 %d 超过上限 %d", len(batch), s.maxBatchSize())))
		return
	}

	responses := make([]*rpcResponse, len(batch))
	var wg sync.WaitGroup
	for i, msg := range batch {
		wg.Add(1)
		go func(i int, msg json.RawMessage) {
			defer wg.Done()
			responses[i] = s.handleMessage(ctx, msg, remoteAddr)
		}(i, msg)
	}
	wg.Wait()

	// 通知不回包，全是通知时返回空响应体
	replies := responses[:0]
	for _, resp := range responses {
		if resp != nil {
			replies = append(replies, resp)
		}
	}
	if len(replies) == 0 {
		c.Status(http.StatusOK)
		return
	}
	c.JSON(http.StatusOK, replies)
}

// handleMessage 校验请求结构并分派到方法表，通知（无 id）照常执行但返回 nil
func (s *Server) handleMessage(ctx context.Context, raw json.RawMessage, remoteAddr string) *rpcResponse {
	var req rpcRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(nil, codeInvalidRequest, "请求必须是 JSON 对象")
	}
	if req.JSONRPC != jsonrpcVersion || req.Method == "" {
		return errorResponse(req.ID, codeInvalidRequest, "jsonrpc 版本或 method 无效")
	}

	resp := s.dispatch(ctx, &req, remoteAddr)
	if len(req.ID) == 0 {
		return nil
	}
	return resp
}

func (s *Server) dispatch(ctx context.Context, req *rpcRequest, remoteAddr string) *rpcResponse {

	handler, ok := methods[req.Method]
	if !ok {
		return errorResponse(req.ID, codeMethodNotFound, fmt.Sprintf("方法 %s 不存在", req.Method))
	}

	rpcLogger := logging.NewRPCLogger(s.slogger, req.Method, remoteAddr)

	params, err := parseParams(req.Params)
	if err != nil {
		return s.failure(req.ID, err, rpcLogger)
	}

	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout())
	defer cancel()

	start := time.Now()
	result, err := handler(s, ctx, params)
	if err != nil {
		return s.failure(req.ID, err, rpcLogger)
	}

	rpcLogger.Debug("请求完成", "duration_ms", time.Since(start).Milliseconds())
	return resultResponse(req.ID, result)
}

func (s *Server) failure(id json.RawMessage, err error, rpcLogger *logging.FieldLogger) *rpcResponse {
	gwErr := s.errorHandler.HandleError("jsonrpc", err)
	rpcLogger.Warn("请求失败", "error", gwErr.Error(), "code", gwErr.Code)
	return &rpcResponse{
		JSONRPC: jsonrpcVersion,
		ID:      responseID(id),
		Error:   toRPCError(gwErr),
	}
}

func (s *Server) requestTimeout() time.Duration {
	if s.cfg.RequestTimeout > 0 {
		return s.cfg.RequestTimeout
	}
	return defaultRequestTimeout
}

func (s *Server) maxBatchSize() int {
	if s.cfg.MaxBatchSize > 0 {
		return s.cfg.MaxBatchSize
	}
	return defaultMaxBatchSize
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	health := gin.H{
		"status":     "healthy",
		"timestamp":  time.Now().Unix(),
		"service":    "gateway",
		"version":    s.cfg.ClientVersion,
		"chain_id":   s.chainID,
		"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		"errors":     s.errorHandler.Snapshot(),
		"validation": s.deps.Validator.GetValidationStats(),
	}
	if s.deps.Index != nil {
		health["store"] = s.deps.Index.GetStats()
	}
	c.JSON(http.StatusOK, health)
}

// getLogs 获取日志
func (s *Server) getLogs(c *gin.Context) {
	level := c.Query("level")

	page := 1 // 默认第1页
	if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
		page = p
	}

	pageSize := 20 // 默认每页20条
	if ps, err := strconv.Atoi(c.Query("pageSize")); err == nil && ps > 0 {
		pageSize = ps
	}

	logs, total := s.logManager.GetLogsWithPagination(level, page, pageSize)

	c.JSON(http.StatusOK, gin.H{
		"logs":     logs,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
		"level":    level,
	})
}

// clearLogs 清空日志
func (s *Server) clearLogs(c *gin.Context) {
	s.logManager.ClearLogs()

	c.JSON(http.StatusOK, gin.H{
		"message": "日志已清空",
	})
}
