package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gateway",
		Short: "Godwoken 以太坊兼容 JSON-RPC 网关",
		Long:  `把以太坊 legacy 交易转换成 Godwoken/Polyjuice 原生交易，并以以太坊形状回显待打包交易与日志`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 JSON-RPC 服务",
		RunE:  runServe,
	}

	decodeCmd := &cobra.Command{
		Use:   "decode <rawTxHex>",
		Short: "离线解析已签名的 legacy 交易",
		Args:  cobra.ExactArgs(1),
		RunE:  runDecode,
	}

	rootCmd.AddCommand(serveCmd, decodeCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}
