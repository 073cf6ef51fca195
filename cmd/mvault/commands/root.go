package commands

import (
	"context"
	"fmt"
	"os"

	"mediavault/pkg/app"
	"mediavault/pkg/config"
	"mediavault/pkg/storage"
	"mediavault/pkg/types"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	// 全局应用实例，供子命令使用
	MV *app.App
)

var rootCmd = &cobra.Command{
	Use:   "mvault",
	Short: "MediaVault: version control for large binary media",
	// 【关键】PersistentPreRunE 会在所有子命令执行前运行
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 跳过 init 命令的依赖检查 (因为它就是去创建环境的)
		if cmd.Name() == "init" {
			return nil
		}

		// 统一初始化 App
		var err error
		MV, err = app.NewApp(cmd.Context())
		if err != nil {
			// 友好的错误提示
			return fmt.Errorf("failed to initialize mediavault: %w\n(Did you run 'mvault init'?)", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if MV == nil {
			return nil
		}
		return MV.Close()
	},
}

// Execute 是入口
func Execute() error {
	return rootCmd.Execute()
}

// resolveHash 把用户输入的短哈希展开成完整哈希
// 完整的 64 位哈希直接透传，不用查存储。
func resolveHash(ctx context.Context, input string) (types.Hash, error) {
	if full := types.Hash(input); full.IsValid() {
		return full, nil
	}
	expander, ok := MV.Backend.(storage.HashExpander)
	if !ok {
		return "", fmt.Errorf("storage backend does not support short hashes, use the full hash")
	}
	return expander.ExpandHash(ctx, types.HashPrefix(input))
}

func init() {
	// 在初始化时，加载配置
	cobra.OnInitialize(initConfig)

	// 1. 定义全局参数 --config
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mv/config.yaml)")

	// 2. 定义 storage.path 参数，并绑定到 Viper
	// 这样用户既可以在 yaml 里写，也可以用 --storage-path 覆盖
	rootCmd.PersistentFlags().String("storage-path", "", "Directory to store objects")
	err := viper.BindPFlag("storage.path", rootCmd.PersistentFlags().Lookup("storage-path"))
	if err != nil {
		fmt.Println("Failed to bind flag:", err)
		os.Exit(1)
	}
}

// initConfig 读取配置文件和环境变量
func initConfig() {
	if err := config.Load(cfgFile); err != nil {
		fmt.Println("Config error:", err)
		os.Exit(1)
	}
}
