// pkg/app/app.go
package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"

	"mediavault/pkg/compress"
	"mediavault/pkg/config"
	"mediavault/pkg/engine"
	"mediavault/pkg/meta"
	"mediavault/pkg/storage"
	"mediavault/pkg/storage/cache"
	"mediavault/pkg/storage/disk"
	"mediavault/pkg/storage/s3"
	"mediavault/pkg/store"
)

// App 是整个应用程序的依赖容器 (Dependency Container)
// 它持有所有“单例”服务
type App struct {
	Engine   *engine.Engine
	Backend  storage.Backend
	DB       *meta.DB
	Repo     *meta.Repository
	RepoPath string
}

// NewApp 是工厂函数，负责按 Viper 配置组装整台机器
// 它不知道具体的 CLI 命令长什么样
func NewApp(ctx context.Context) (*App, error) {
	// 1. 字节后端 (disk 或 s3)
	backend, repoPath, err := buildBackend(ctx)
	if err != nil {
		return nil, err
	}

	// 2. 可选的 Redis 存在性缓存 (装饰器)
	if viper.GetBool("redis.enabled") {
		cached, err := cache.NewCachedBackend(backend, cache.Config{
			RedisURL: viper.GetString("redis.url"),
			TTL:      config.RedisTTL(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init redis cache: %w", err)
		}
		backend = cached
	}

	// 3. 元数据库 (引用计数索引)
	db, err := meta.NewDB(ctx, meta.Config{
		Driver:   viper.GetString("database.driver"),
		Path:     viper.GetString("database.path"),
		Host:     viper.GetString("database.host"),
		Port:     viper.GetInt("database.port"),
		User:     viper.GetString("database.user"),
		Password: viper.GetString("database.password"),
		DBName:   viper.GetString("database.dbname"),
		SSLMode:  viper.GetString("database.sslmode"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init metadata db: %w", err)
	}
	repo := meta.NewRepository(db)

	// 4. Chunk 仓库 + 引擎门面
	codec, err := compress.Parse(viper.GetString("compression.codec"))
	if err != nil {
		return nil, err
	}
	chunks := store.New(backend, repo, store.Config{
		Codec:       codec,
		GracePeriod: config.GracePeriod(),
		GCBatchSize: viper.GetInt("gc.batch_size"),
	})

	eng := engine.New(backend, repo, chunks, config.ChunkerOptions())

	// 长驻进程 (如守护模式) 打开后台回收循环；CLI 一次性进程保持关闭
	if viper.GetBool("gc.background") {
		eng.StartBackgroundGC(config.GCInterval())
	}

	return &App{
		Engine:   eng,
		Backend:  backend,
		DB:       db,
		Repo:     repo,
		RepoPath: repoPath,
	}, nil
}

// Close 按依赖顺序收尾
func (a *App) Close() error {
	a.Engine.Stop()
	return a.DB.Close()
}

func buildBackend(ctx context.Context) (storage.Backend, string, error) {
	switch viper.GetString("storage.type") {
	case "s3":
		adapter, err := s3.NewAdapter(ctx, s3.Config{
			Endpoint:        viper.GetString("storage.s3.endpoint"),
			Region:          viper.GetString("storage.s3.region"),
			Bucket:          viper.GetString("storage.s3.bucket"),
			AccessKeyID:     viper.GetString("storage.s3.access_key_id"),
			SecretAccessKey: viper.GetString("storage.s3.secret_access_key"),
		})
		if err != nil {
			return nil, "", fmt.Errorf("failed to init s3 storage: %w", err)
		}
		return adapter, "", nil

	case "disk", "":
		storePath := viper.GetString("storage.path")
		if storePath == "" {
			return nil, "", fmt.Errorf("storage path not set")
		}
		adapter, err := disk.NewAdapter(storePath)
		if err != nil {
			return nil, "", fmt.Errorf("failed to init disk storage: %w", err)
		}
		// storePath: .../.mv/objects -> repoPath: .../.mv
		return adapter, filepath.Dir(storePath), nil

	default:
		return nil, "", fmt.Errorf("unknown storage type: %q", viper.GetString("storage.type"))
	}
}
