package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"gateway/internal/api"
	"gateway/internal/config"
	"gateway/internal/convert"
	"gateway/internal/gw"
	"gateway/internal/gwclient"
	"gateway/internal/logging"
	"gateway/internal/output"
	"gateway/internal/resolver"
	"gateway/internal/shutdown"
	"gateway/internal/store"
	"gateway/internal/validation"
)

// cachedAccounts 账户编号走缓存，其余查询直接访问节点
type cachedAccounts struct {
	*resolver.Resolver
	cache *resolver.CachedResolver
}

func (a cachedAccounts) EthAddressToAccountID(ctx context.Context, addr common.Address) (gw.AccountID, bool, error) {
	return a.cache.EthAddressToAccountID(ctx, addr)
}

// newResolver 地址解析器直接使用节点客户端，不经过重试层
func newResolver(client *gwclient.Client, rollup *config.RollupConfig, logger *logrus.Logger) *resolver.Resolver {
	return resolver.New(client, resolver.Accounts{
		CreatorAccountID:     gw.AccountID(rollup.CreatorAccountID),
		RegistryAccountID:    gw.AccountID(rollup.RegistryAccountID),
		DefaultFromAccountID: gw.AccountID(rollup.DefaultFromAccountID),
	}, logger)
}

func runServe(cmd *cobra.Command, args []string) error {
	bootLogger := logrus.New()
	bootLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadConfig(configFile, bootLogger)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("创建日志器失败: %w", err)
	}
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	slogger, err := logging.NewStructuredLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("创建结构化日志器失败: %w", err)
	}

	gs := shutdown.NewGracefulShutdown(cfg.Server.RequestTimeout, logger)
	// 启动中途失败时释放已打开的资源
	started := false
	defer func() {
		if !started {
			_ = gs.Shutdown()
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	client, err := gwclient.Dial(ctx, cfg.Node.URL, cfg.Node.Timeout, logger)
	if err != nil {
		return err
	}
	gs.Register("node", shutdown.OrderCloseNode, func(context.Context) error {
		client.Close()
		return nil
	})
	res := newResolver(client, cfg.Rollup, logger)

	var accounts api.AddressLookup = res
	var index api.TxIndex
	if cfg.Cache != nil && cfg.Cache.Enabled {
		st, err := store.Open(cfg.Cache.Path, logger)
		if err != nil {
			return err
		}
		gs.Register("store", shutdown.OrderCloseStore, func(context.Context) error {
			return st.Close()
		})
		accounts = cachedAccounts{Resolver: res, cache: resolver.NewCachedResolver(res, st, logger)}
		index = st
	}

	publisher, err := output.NewPublisher(cfg.Output, logger)
	if err != nil {
		return err
	}
	gs.Register("publisher", shutdown.OrderCloseProducer, func(context.Context) error {
		return publisher.Close()
	})

	deps := api.Deps{
		Builder: convert.NewBuilder(accounts, res.CreatorAccountID(), cfg.Rollup.ChainID, logger),
		Translator: convert.NewTranslator(res, convert.RollupParams{
			RollupTypeHash:             cfg.Rollup.RollupTypeHash,
			EthEoaLockTypeHash:         cfg.Rollup.EthEoaLockTypeHash,
			PolyjuiceValidatorTypeHash: cfg.Rollup.PolyjuiceValidatorTypeHash,
		}, logger),
		Node:      gwclient.NewRetryingClient(client, cfg.Retry),
		Accounts:  accounts,
		Index:     index,
		Publisher: publisher,
		Validator: validation.NewValidator(logger, false),
	}

	if dsn := os.Getenv(config.DBDSNEnv); dsn != "" {
		dbConfig, err := config.NewDatabaseConfig(dsn, logger)
		if err != nil {
			return err
		}
		gs.Register("database", shutdown.OrderCloseDatabase, func(context.Context) error {
			return dbConfig.Close()
		})
		deps.Configs = dbConfig
	}

	server := api.NewServer(cfg.Server, cfg.Rollup.ChainID, deps, logger, slogger)
	gs.Register("server", shutdown.OrderStopServer, server.Stop)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start()
		cancel()
	}()
	started = true

	logger.WithFields(logrus.Fields{
		"node":     client.URL(),
		"chain_id": cfg.Rollup.ChainID,
		"kafka":    cfg.Output.Kafka != nil && cfg.Output.Kafka.Enabled,
	}).Info("网关已启动")

	gs.WaitForSignal(runCtx)

	shutdownErr := gs.Shutdown()
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("JSON-RPC 服务异常退出: %w", err)
		}
	default:
	}
	return shutdownErr
}
