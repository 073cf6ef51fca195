// Package engine 是对外的门面，把切分、存储、配方、快照、还原、GC
// 组合成一套完整的版本化媒体仓库操作。
//
// 引用计数的记账规则集中在这里:
//   - 摄取 (ChunkAndStore) 为每个 Chunk 记一次引用，作为它将进入的
//     第一个快照的预留；这期间 Asset 处于 "staged" 状态
//   - CommitManifest 消费 staged 预留；复用已有 Asset 时补记引用
//   - DeleteManifest 对快照覆盖的所有 Chunk 逐一减引用
//   - 减到 0 的 Chunk 进入宽限期，由 GC 周期性回收
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mediavault/pkg/chunker"
	"mediavault/pkg/core"
	"mediavault/pkg/diff"
	"mediavault/pkg/exporter"
	"mediavault/pkg/ingester"
	"mediavault/pkg/meta"
	"mediavault/pkg/storage"
	"mediavault/pkg/store"
	"mediavault/pkg/types"
)

type Engine struct {
	chunks  *store.ChunkStore
	backend storage.Backend // Asset / Manifest 对象的 CBOR 原文也放这里
	repo    *meta.Repository
	ing     *ingester.Ingester
	exp     *exporter.Exporter
	log     *logrus.Entry

	// 后台 GC 循环
	gcStop chan struct{}
	gcWg   sync.WaitGroup
}

func New(backend storage.Backend, repo *meta.Repository, chunks *store.ChunkStore, chunkerOpts chunker.Options) *Engine {
	return &Engine{
		chunks:  chunks,
		backend: backend,
		repo:    repo,
		ing:     ingester.New(chunks, chunkerOpts),
		exp:     exporter.NewExporter(chunks),
		log:     logrus.WithField("component", "engine"),
	}
}

// WithHintProvider 给摄取管线挂一个格式感知切点提示器
func (e *Engine) WithHintProvider(h chunker.HintProvider) *Engine {
	e.ing.WithHintProvider(h)
	return e
}

// -----------------------------------------------------------------------------
// 1. 摄取
// -----------------------------------------------------------------------------

// ChunkAndStore 摄取一个字节流: 切分、去重存储、持久化 Asset 配方
// 返回的 Asset 处于 staged 状态，等待 CommitManifest 收编。
func (e *Engine) ChunkAndStore(ctx context.Context, reader io.Reader, metadata []byte, hints []int64) (*core.Asset, error) {
	asset, err := e.ing.IngestStream(ctx, reader, metadata, hints)
	if err != nil {
		return nil, err
	}
	if err := e.persistAsset(ctx, asset); err != nil {
		return nil, err
	}
	return asset, nil
}

// AddFile 摄取单个本地文件
func (e *Engine) AddFile(ctx context.Context, path string, metadata []byte, hints []int64) (*core.Asset, error) {
	asset, err := e.ing.IngestFile(ctx, path, metadata, hints)
	if err != nil {
		return nil, err
	}
	if err := e.persistAsset(ctx, asset); err != nil {
		return nil, err
	}
	return asset, nil
}

// AddDir 并行摄取整个目录树 (服从 .mvignore)
func (e *Engine) AddDir(ctx context.Context, root string) ([]ingester.DirEntry, error) {
	entries, err := e.ing.IngestDir(ctx, root)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if err := e.persistAsset(ctx, entry.Asset); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// persistAsset 存 CBOR 原文、建索引、标记 staged
// 同一个 Asset 重复摄取是幂等的: 对象和索引都按 Hash 去重。
func (e *Engine) persistAsset(ctx context.Context, asset *core.Asset) error {
	if err := e.backend.Put(ctx, asset.ID(), asset.Bytes()); err != nil {
		return fmt.Errorf("persist asset %s: %w", asset.ID().Short(), err)
	}
	if err := e.repo.IndexAsset(ctx, asset); err != nil {
		return err
	}

	// staged 标记落在元数据库里，跨进程生效 (CLI 的 add 和 commit 是两次进程)
	// 同样的内容被摄取了两次: 两次都记了引用，但 staged 预留只有一份。
	// 退掉多出来的那次，保持 "一个 staged Asset 恰好一份预留" 的不变量。
	newlyStaged, err := e.repo.MarkStaged(ctx, asset.ID())
	if err != nil {
		return err
	}
	if !newlyStaged {
		if err := e.releaseAssetRefs(ctx, asset); err != nil {
			return err
		}
	}
	return nil
}

// DiscardAsset 丢弃一个不打算提交的 staged Asset，释放它预留的引用
func (e *Engine) DiscardAsset(ctx context.Context, hash types.Hash) error {
	consumed, err := e.repo.ConsumeStaged(ctx, hash)
	if err != nil {
		return err
	}
	if !consumed {
		return fmt.Errorf("asset %s is not staged", hash.Short())
	}

	asset, err := e.LoadAsset(ctx, hash)
	if err != nil {
		return err
	}
	return e.releaseAssetRefs(ctx, asset)
}

// -----------------------------------------------------------------------------
// 2. 快照 (Manifest)
// -----------------------------------------------------------------------------

// ManifestInput 是提交快照时的一个条目
type ManifestInput struct {
	Path  string
	Asset types.Hash
}

// CommitManifest 把一组 (路径, Asset) 固化成不可变快照
// 引用记账:
//   - staged Asset: 摄取时已经记过，直接消费预留
//   - 复用的 Asset (出现在旧快照里，或同一快照的第二个路径): 补记一次
func (e *Engine) CommitManifest(ctx context.Context, label string, inputs []ManifestInput, extra map[string]any) (*core.Manifest, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("manifest needs at least one entry")
	}

	// 记账是逐条发生的，中途任何一步失败都要把前面已经消费的 staged
	// 预留和已经补记的引用原样退回去，否则半截提交会永久泄漏引用。
	type accounted struct {
		asset    *core.Asset
		consumed bool
	}
	var done []accounted
	rollback := func() {
		for i := len(done) - 1; i >= 0; i-- {
			d := done[i]
			if d.consumed {
				if _, err := e.repo.MarkStaged(ctx, d.asset.ID()); err != nil {
					e.log.WithError(err).WithField("asset", d.asset.ID().Short()).
						Warn("commit rollback: restage failed")
				}
				continue
			}
			if err := e.releaseAssetRefs(ctx, d.asset); err != nil {
				e.log.WithError(err).WithField("asset", d.asset.ID().Short()).
					Warn("commit rollback: release refs failed")
			}
		}
	}

	entries := make([]core.ManifestEntry, 0, len(inputs))
	for _, input := range inputs {
		asset, err := e.LoadAsset(ctx, input.Asset)
		if err != nil {
			rollback()
			return nil, fmt.Errorf("resolve asset for %s: %w", input.Path, err)
		}

		consumed, err := e.repo.ConsumeStaged(ctx, input.Asset)
		if err != nil {
			rollback()
			return nil, err
		}
		if !consumed {
			if err := e.holdAssetRefs(ctx, asset); err != nil {
				rollback()
				return nil, fmt.Errorf("reference asset for %s: %w", input.Path, err)
			}
		}
		done = append(done, accounted{asset: asset, consumed: consumed})

		entries = append(entries, core.ManifestEntry{
			Path: input.Path,
			Cid:  core.Link{Hash: input.Asset},
			Size: asset.TotalSize,
		})
	}

	manifest, err := core.NewManifest(entries)
	if err != nil {
		rollback()
		return nil, err
	}

	if err := e.backend.Put(ctx, manifest.ID(), manifest.Bytes()); err != nil {
		rollback()
		return nil, fmt.Errorf("persist manifest: %w", err)
	}
	if err := e.repo.IndexManifest(ctx, manifest, label, extra); err != nil {
		rollback()
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"manifest": manifest.ID().Short(),
		"label":    label,
		"entries":  len(entries),
	}).Info("manifest committed")

	return manifest, nil
}

// DeleteManifest 删除一个快照并释放它持有的全部引用
// 先删索引行: 它的存在性检查保证同一个快照不会被重复扣引用。
func (e *Engine) DeleteManifest(ctx context.Context, hash types.Hash) error {
	manifest, err := e.LoadManifest(ctx, hash)
	if err != nil {
		return err
	}

	if err := e.repo.DeleteManifest(ctx, hash); err != nil {
		return err
	}

	for _, entry := range manifest.Entries {
		asset, err := e.LoadAsset(ctx, entry.Cid.Hash)
		if err != nil {
			return fmt.Errorf("resolve asset for %s: %w", entry.Path, err)
		}
		if err := e.releaseAssetRefs(ctx, asset); err != nil {
			return fmt.Errorf("release refs for %s: %w", entry.Path, err)
		}
	}

	// 对象原文删掉即可，没有别的索引指着它
	if err := e.backend.Delete(ctx, hash); err != nil {
		e.log.WithError(err).WithField("manifest", hash.Short()).Warn("manifest bytes not deleted")
	}

	e.log.WithField("manifest", hash.Short()).Info("manifest deleted")
	return nil
}

// holdAssetRefs 为一个 Asset 覆盖的所有 Chunk (含元数据 Blob) 记引用
func (e *Engine) holdAssetRefs(ctx context.Context, asset *core.Asset) error {
	if !asset.Metadata.IsZero() {
		if err := e.chunks.IncrementRef(ctx, asset.Metadata.Hash); err != nil {
			return err
		}
	}
	for _, h := range asset.ChunkHashes() {
		if err := e.chunks.IncrementRef(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

// releaseAssetRefs 是 holdAssetRefs 的逆操作
func (e *Engine) releaseAssetRefs(ctx context.Context, asset *core.Asset) error {
	if !asset.Metadata.IsZero() {
		if err := e.chunks.DecrementRef(ctx, asset.Metadata.Hash); err != nil {
			return err
		}
	}
	for _, h := range asset.ChunkHashes() {
		if err := e.chunks.DecrementRef(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// 3. 对象读取
// -----------------------------------------------------------------------------

func (e *Engine) LoadAsset(ctx context.Context, hash types.Hash) (*core.Asset, error) {
	data, err := e.loadObject(ctx, hash)
	if err != nil {
		return nil, err
	}
	return core.DecodeAsset(data)
}

func (e *Engine) LoadManifest(ctx context.Context, hash types.Hash) (*core.Manifest, error) {
	data, err := e.loadObject(ctx, hash)
	if err != nil {
		return nil, err
	}
	return core.DecodeManifest(data)
}

func (e *Engine) loadObject(ctx context.Context, hash types.Hash) ([]byte, error) {
	rc, err := e.backend.Get(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("load object %s: %w", hash.Short(), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", hash.Short(), err)
	}
	// 对象原文也走一遍完整性检查
	if err := core.VerifyBlob(hash, data); err != nil {
		return nil, err
	}
	return data, nil
}

// -----------------------------------------------------------------------------
// 4. 还原 / 检出
// -----------------------------------------------------------------------------

// Materialize 把 Asset 还原成字节流写入 writer
func (e *Engine) Materialize(ctx context.Context, assetHash types.Hash, writer io.Writer) error {
	asset, err := e.LoadAsset(ctx, assetHash)
	if err != nil {
		return err
	}
	return e.exp.Materialize(ctx, asset, writer)
}

// MaterializeRange 只还原 [offset, offset+length) 区间
func (e *Engine) MaterializeRange(ctx context.Context, assetHash types.Hash, offset, length int64, writer io.Writer) error {
	asset, err := e.LoadAsset(ctx, assetHash)
	if err != nil {
		return err
	}
	return e.exp.MaterializeRange(ctx, asset, offset, length, writer)
}

// CheckoutManifest 把整个快照还原到目标目录
// 单个文件的完整性错误立即中止并报出文件路径，不会写出半截文件。
func (e *Engine) CheckoutManifest(ctx context.Context, manifestHash types.Hash, targetDir string) error {
	manifest, err := e.LoadManifest(ctx, manifestHash)
	if err != nil {
		return err
	}

	for _, entry := range manifest.Entries {
		target := filepath.Join(targetDir, filepath.FromSlash(entry.Path))
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("create dir for %s: %w", entry.Path, err)
		}

		asset, err := e.LoadAsset(ctx, entry.Cid.Hash)
		if err != nil {
			return fmt.Errorf("checkout %s: %w", entry.Path, err)
		}
		if err := e.exp.MaterializeToFile(ctx, asset, target); err != nil {
			return fmt.Errorf("checkout %s: %w", entry.Path, err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// 5. Diff / 统计 / 层级
// -----------------------------------------------------------------------------

// DiffAssets 比较两个版本的配方
func (e *Engine) DiffAssets(ctx context.Context, oldHash, newHash types.Hash) (*diff.Result, error) {
	oldAsset, err := e.LoadAsset(ctx, oldHash)
	if err != nil {
		return nil, err
	}
	newAsset, err := e.LoadAsset(ctx, newHash)
	if err != nil {
		return nil, err
	}
	return diff.Assets(oldAsset, newAsset), nil
}

func (e *Engine) Stats(ctx context.Context) (*meta.Stats, error) {
	return e.repo.GetStats(ctx)
}

func (e *Engine) SetTier(ctx context.Context, hash types.Hash, tier types.StorageTier) error {
	return e.chunks.SetTier(ctx, hash, tier)
}

// -----------------------------------------------------------------------------
// 6. 垃圾回收
// -----------------------------------------------------------------------------

// GC 手动触发一次回收扫描
func (e *Engine) GC(ctx context.Context) (*store.GCResult, error) {
	return e.chunks.GC(ctx)
}

// StartBackgroundGC 启动后台回收循环
// 每个 interval 扫一轮，Stop 时退出。重复调用是错误的使用方式，直接忽略。
func (e *Engine) StartBackgroundGC(interval time.Duration) {
	if e.gcStop != nil {
		return
	}
	e.gcStop = make(chan struct{})
	e.gcWg.Add(1)

	go func() {
		defer e.gcWg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		e.log.WithField("interval", interval).Info("background gc started")
		for {
			select {
			case <-ticker.C:
				if _, err := e.chunks.GC(context.Background()); err != nil {
					e.log.WithError(err).Warn("background gc sweep failed")
				}
			case <-e.gcStop:
				e.log.Info("background gc stopped")
				return
			}
		}
	}()
}

// Stop 停掉后台 GC 并等它退出
func (e *Engine) Stop() {
	if e.gcStop == nil {
		return
	}
	close(e.gcStop)
	e.gcWg.Wait()
	e.gcStop = nil
}
