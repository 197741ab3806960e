package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// 停机顺序，数字越小越早执行
const (
	OrderStopServer    = 10 // 停止接收 JSON-RPC 请求并等待推送完成
	OrderCloseProducer = 20 // 关闭 Kafka 生产者
	OrderCloseNode     = 30 // 关闭节点连接
	OrderCloseStore    = 40 // 关闭本地存储
	OrderCloseDatabase = 50 // 关闭配置数据库
)

// ErrTimeout 停机超时
var ErrTimeout = errors.New("停机超时")

// Hook 停机处理函数
type Hook struct {
	Name  string
	Order int
	Func  func(ctx context.Context) error
}

// GracefulShutdown 优雅停机管理器
type GracefulShutdown struct {
	logger  *logrus.Logger
	timeout time.Duration
	hooks   []Hook
	mu      sync.Mutex

	once sync.Once
	done chan struct{}
	err  error
}

// NewGracefulShutdown 创建优雅停机管理器
func NewGracefulShutdown(timeout time.Duration, logger *logrus.Logger) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second // 默认30秒超时
	}
	return &GracefulShutdown{
		logger:  logger,
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// Register 注册停机处理函数
func (gs *GracefulShutdown) Register(name string, order int, fn func(ctx context.Context) error) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	gs.hooks = append(gs.hooks, Hook{Name: name, Order: order, Func: fn})
	gs.logger.Debugf("注册停机处理函数: %s (order: %d)", name, order)
}

// Hooks 按执行顺序返回已注册的处理函数名
func (gs *GracefulShutdown) Hooks() []string {
	hooks := gs.sorted()
	names := make([]string, len(hooks))
	for i, h := range hooks {
		names[i] = h.Name
	}
	return names
}

func (gs *GracefulShutdown) sorted() []Hook {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	hooks := make([]Hook, len(gs.hooks))
	copy(hooks, gs.hooks)
	sort.SliceStable(hooks, func(i, j int) bool { return hooks[i].Order < hooks[j].Order })
	return hooks
}

// WaitForSignal 阻塞直到收到 SIGINT/SIGTERM/SIGQUIT 或 ctx 结束
func (gs *GracefulShutdown) WaitForSignal(ctx context.Context) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		gs.logger.Infof("收到停机信号: %v", sig)
	case <-ctx.Done():
		gs.logger.Info("运行上下文结束，开始停机")
	}
}

// Shutdown 按顺序执行全部处理函数，只执行一次；重复调用返回第一次的结果
func (gs *GracefulShutdown) Shutdown() error {
	gs.once.Do(func() {
		gs.err = gs.perform()
		close(gs.done)
	})
	<-gs.done
	return gs.err
}

// Done 停机完成后关闭
func (gs *GracefulShutdown) Done() <-chan struct{} {
	return gs.done
}

func (gs *GracefulShutdown) perform() error {
	gs.logger.Info("开始优雅停机流程...")

	ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
	defer cancel()

	var errs []error
	for _, hook := range gs.sorted() {
		if ctx.Err() != nil {
			gs.logger.Warnf("停机超时，跳过: %s", hook.Name)
			errs = append(errs, fmt.Errorf("%s: %w", hook.Name, ErrTimeout))
			continue
		}

		start := time.Now()
		err := hook.Func(ctx)
		entry := gs.logger.WithFields(logrus.Fields{
			"hook":     hook.Name,
			"duration": time.Since(start).String(),
		})
		if err != nil {
			entry.WithError(err).Error("停机处理失败")
			errs = append(errs, fmt.Errorf("%s: %w", hook.Name, err))
			continue
		}
		entry.Info("停机处理完成")
	}

	if len(errs) > 0 {
		gs.logger.Errorf("停机过程中发生 %d 个错误", len(errs))
		return errors.Join(errs...)
	}
	gs.logger.Info("优雅停机流程完成")
	return nil
}
