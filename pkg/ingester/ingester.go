// Package ingester 是写入路径的编排层:
// 字节流 → 切分 (chunker) → 去重存储 (store) → Asset 配方 (core)。
//
// 失败语义是全或无：任何一步出错都会回滚本次已经记下的引用计数，
// 绝不留下"半个文件"的幻影引用。
package ingester

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mediavault/pkg/chunker"
	"mediavault/pkg/core"
	"mediavault/pkg/ignore"
	"mediavault/pkg/store"
	"mediavault/pkg/types"
)

// DefaultDirConcurrency 是目录摄取的并行文件数
// Chunk 级别天然串行 (边界依赖前文)，并行度放在文件粒度。
const DefaultDirConcurrency = 4

type Ingester struct {
	chunks *store.ChunkStore
	opts   chunker.Options
	hinter chunker.HintProvider // 可选: 文件摄取时自动探测偏好切点
	log    *logrus.Entry
}

func New(chunks *store.ChunkStore, opts chunker.Options) *Ingester {
	return &Ingester{
		chunks: chunks,
		opts:   opts,
		log:    logrus.WithField("component", "ingester"),
	}
}

// WithHintProvider 挂载一个格式感知的切点提示器
// IngestFile 在没有显式 hints 时会用它对文件做一次预扫描。
func (ing *Ingester) WithHintProvider(h chunker.HintProvider) *Ingester {
	ing.hinter = h
	return ing
}

// IngestStream 切分并存储一个字节流，返回可还原它的 Asset
//
// metadata 是独立寻址的小头部数据 (容器头、EXIF 等)；可以为空。
// 它单独存储，所以纯元数据修改不会触发 payload 重新切分。
//
// hints 是格式感知的偏好切点 (升序绝对偏移)，没有就传 nil。
// 提示只影响去重效率，从不影响正确性。
func (ing *Ingester) IngestStream(ctx context.Context, reader io.Reader, metadata []byte, hints []int64) (*core.Asset, error) {
	opts := ing.opts
	opts.Hints = hints

	cdc, err := chunker.New(reader, opts)
	if err != nil {
		return nil, err
	}

	// stored 记录本次已经 +1 的引用，失败时逐个回滚
	var stored []types.Hash
	rollback := func() {
		for _, h := range stored {
			if err := ing.chunks.DecrementRef(context.Background(), h); err != nil {
				ing.log.WithError(err).WithField("hash", h.Short()).Warn("rollback: failed to release chunk ref")
			}
		}
	}

	// 1. 元数据 Blob 先行 (它也是一个带引用计数的 Chunk)
	var metaHash types.Hash
	if len(metadata) > 0 {
		metaHash, err = ing.chunks.Put(ctx, metadata)
		if err != nil {
			return nil, fmt.Errorf("store metadata blob: %w", err)
		}
		stored = append(stored, metaHash)
	}

	// 2. 流式切分 + 存储
	var refs []core.ChunkRef
	var totalSize int64

	for {
		// 取消检查放在块边界: 一个块内的工作不可分割
		if err := ctx.Err(); err != nil {
			rollback()
			return nil, err
		}

		chunk, err := cdc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			rollback()
			return nil, err
		}

		hash, err := ing.chunks.Put(ctx, chunk.Data)
		if err != nil {
			rollback()
			return nil, fmt.Errorf("store chunk at offset %d: %w", chunk.Offset, err)
		}

		stored = append(stored, hash)
		refs = append(refs, core.ChunkRef{Cid: core.Link{Hash: hash}, Size: int64(chunk.Length)})
		totalSize += int64(chunk.Length)
	}

	// 3. 组装配方 (空文件: 零个 Chunk，规范的空序列哈希)
	asset, err := core.NewAsset(metaHash, totalSize, refs)
	if err != nil {
		rollback()
		return nil, fmt.Errorf("build asset: %w", err)
	}

	ing.log.WithFields(logrus.Fields{
		"asset":  asset.ID().Short(),
		"size":   totalSize,
		"chunks": len(refs),
	}).Debug("stream ingested")

	return asset, nil
}

// IngestFile 打开并摄取单个文件
func (ing *Ingester) IngestFile(ctx context.Context, path string, metadata []byte, hints []int64) (*core.Asset, error) {
	// 没有显式提示时让 hinter 预扫描一遍文件
	// 提示失败不阻断摄取，退化成纯内容定义切分。
	if hints == nil && ing.hinter != nil {
		if hf, err := os.Open(path); err == nil {
			hints, err = ing.hinter.Hints(hf)
			hf.Close()
			if err != nil {
				ing.log.WithError(err).WithField("path", path).Warn("hint scan failed, falling back to plain cdc")
				hints = nil
			}
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	asset, err := ing.IngestStream(ctx, f, metadata, hints)
	if err != nil {
		return nil, fmt.Errorf("ingest %s: %w", path, err)
	}
	return asset, nil
}

// DirEntry 是目录摄取的单个产出
type DirEntry struct {
	Path  string // 相对仓库根的正斜杠路径
	Asset *core.Asset
}

// IngestDir 并行摄取一个目录树，返回按路径排序的条目
// 跳过 .mvignore 和内建规则匹配的文件。任何一个文件失败就整体失败，
// 已经摄取的文件的引用由各自的回滚 (或上层丢弃后 GC) 处理。
func (ing *Ingester) IngestDir(ctx context.Context, root string) ([]DirEntry, error) {
	matcher, err := ignore.NewMatcher(root)
	if err != nil {
		return nil, fmt.Errorf("compile ignore rules: %w", err)
	}

	// 1. 先收集文件清单 (walk 本身很快，没必要并行)
	var paths []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if matcher.Matches(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	// 2. errgroup 按文件并行摄取
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultDirConcurrency)

	var mu sync.Mutex
	entries := make([]DirEntry, 0, len(paths))

	for _, rel := range paths {
		g.Go(func() error {
			asset, err := ing.IngestFile(gctx, filepath.Join(root, filepath.FromSlash(rel)), nil, nil)
			if err != nil {
				return err
			}
			mu.Lock()
			entries = append(entries, DirEntry{Path: rel, Asset: asset})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// 3. 并行完成顺序不定，按路径排稳
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	ing.log.WithFields(logrus.Fields{
		"root":  root,
		"files": len(entries),
	}).Info("directory ingested")

	return entries, nil
}
