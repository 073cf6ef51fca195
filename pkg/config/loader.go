package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"mediavault/pkg/chunker"
)

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) error {
	// 1. 设置默认值 (Defaults)
	setDefaults()

	// 2. 配置搜索路径
	if cfgFile != "" {
		// 如果用户指定了文件，直接使用
		viper.SetConfigFile(cfgFile)
	} else {
		// 否则按优先级搜索
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		// 搜索顺序：
		// 1. 当前目录
		viper.AddConfigPath(".")
		// 2. 当前目录下的 .mv
		viper.AddConfigPath(".mv")
		// 3. 用户主目录下的 .mv
		viper.AddConfigPath(filepath.Join(home, ".mv"))

		viper.SetConfigType("yaml")
		viper.SetConfigName("config") // 找 config.yaml
	}

	// 3. 读取环境变量 (MV_DATABASE_HOST 等)
	viper.SetEnvPrefix("MV")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 4. 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		// 如果只是没找到配置文件，但可能有环境变量，不一定算错
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("⚠️  No config file found, using defaults/env vars")
		} else {
			return fmt.Errorf("fatal error config file: %w", err)
		}
	} else {
		fmt.Println("🔧 Using config file:", viper.ConfigFileUsed())
	}

	return nil
}

func setDefaults() {
	wd, _ := os.Getwd()
	repoDir := filepath.Join(wd, ".mv")

	// 存储默认值
	viper.SetDefault("storage.type", "disk") // disk | s3
	viper.SetDefault("storage.path", filepath.Join(repoDir, "objects"))
	viper.SetDefault("storage.s3.region", "us-east-1")
	viper.SetDefault("storage.s3.bucket", "mediavault")

	// 元数据库默认值 (单机默认 SQLite，多人仓库切 Postgres)
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.path", filepath.Join(repoDir, "meta.db"))
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")

	// Redis 存在性缓存 (默认关闭，单机磁盘后端用不上)
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.url", "redis://localhost:6379/0")
	viper.SetDefault("redis.ttl", "24h")

	// 切分参数
	// 注意：改动这些值会让新旧版本的切点错开，跨版本去重失效
	viper.SetDefault("chunking.min_size", chunker.DefaultMinSize)
	viper.SetDefault("chunking.avg_size", chunker.DefaultAvgSize)
	viper.SetDefault("chunking.max_size", chunker.DefaultMaxSize)
	viper.SetDefault("chunking.norm_level", chunker.DefaultNormLevel)
	viper.SetDefault("chunking.hint_tolerance", 8192)

	// 压缩与 GC
	viper.SetDefault("compression.codec", "zstd")
	viper.SetDefault("gc.grace_period", "24h")
	viper.SetDefault("gc.interval", "1h")
	viper.SetDefault("gc.batch_size", 256)
	viper.SetDefault("gc.background", false)
}

// ChunkerOptions 从配置组装切分参数
// 合法性检查交给 chunker 自己 (engine 初始化时会触发 ConfigError)。
func ChunkerOptions() chunker.Options {
	return chunker.Options{
		MinSize:       viper.GetInt("chunking.min_size"),
		AvgSize:       viper.GetInt("chunking.avg_size"),
		MaxSize:       viper.GetInt("chunking.max_size"),
		NormLevel:     viper.GetInt("chunking.norm_level"),
		HintTolerance: viper.GetInt("chunking.hint_tolerance"),
	}
}

// GracePeriod 解析 GC 宽限期，解析失败回退默认 24h
func GracePeriod() time.Duration {
	d, err := time.ParseDuration(viper.GetString("gc.grace_period"))
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// GCInterval 解析后台 GC 周期
func GCInterval() time.Duration {
	d, err := time.ParseDuration(viper.GetString("gc.interval"))
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// RedisTTL 解析缓存过期时间
func RedisTTL() time.Duration {
	d, err := time.ParseDuration(viper.GetString("redis.ttl"))
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}
