// Package store 组装出完整的 Chunk 存储：
// 字节后端 (storage.Backend) + 压缩 (compress) + 引用计数索引 (meta.Repository)。
//
// 身份永远是未压缩内容的 SHA-256。压缩发生在身份之下：
// 同一个 Chunk 用不同 Codec 存储，Hash 不变，引用关系不变。
package store

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mediavault/pkg/compress"
	"mediavault/pkg/core"
	"mediavault/pkg/meta"
	"mediavault/pkg/storage"
	"mediavault/pkg/types"
)

const (
	DefaultGracePeriod = 24 * time.Hour
	DefaultGCBatchSize = 256
)

var ErrLeaseNotFound = errors.New("lease not found")

// Config 控制写入路径的压缩和 GC 的节奏
type Config struct {
	// Codec 是新 Chunk 的压缩算法 (已有 Chunk 按索引里记录的算法解压)
	Codec compress.Codec

	// GracePeriod: 引用计数降到 0 后，至少保留这么久才允许物理删除
	GracePeriod time.Duration

	// GCBatchSize: 单次 GC 扫描的最大候选数
	GCBatchSize int
}

// ChunkStore 是去重 Chunk 仓库
type ChunkStore struct {
	backend storage.Backend
	repo    *meta.Repository
	cfg     Config
	log     *logrus.Entry

	// 读租约：持有租约的读取者正在用的 Chunk 不允许 GC
	// 单进程内存态即可，进程挂了租约自然消失，宽限期兜底
	mu     sync.Mutex
	leases map[uuid.UUID]map[types.Hash]struct{}

	// 按 Hash 分片的锁，把 Put 的 (写字节, 写索引) 和 GC 的
	// (删索引, 删字节) 两对操作串行化。不加锁的话，GC 删掉索引行
	// 之后、删掉字节之前，并发的 Put 会插入新索引行并复用旧字节，
	// 随后 GC 把字节删走，索引里留下悬空引用。
	hashLocks [64]sync.Mutex
}

func New(backend storage.Backend, repo *meta.Repository, cfg Config) *ChunkStore {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.GCBatchSize <= 0 {
		cfg.GCBatchSize = DefaultGCBatchSize
	}
	if cfg.Codec == "" {
		cfg.Codec = compress.CodecZstd
	}

	return &ChunkStore{
		backend: backend,
		repo:    repo,
		cfg:     cfg,
		log:     logrus.WithField("component", "chunkstore"),
		leases:  make(map[uuid.UUID]map[types.Hash]struct{}),
	}
}

// -----------------------------------------------------------------------------
// 1. 写入 / 读取
// -----------------------------------------------------------------------------

// Put 存入一个 Chunk 并记一次引用
// 返回内容哈希。重复内容不会重复存储，只会让 ref_count + 1。
//
// 顺序很重要：先写字节，再写索引。
// 索引失败时留下的孤儿字节无害 (没有索引行，后续 Put 会收敛)；
// 反过来 (索引成功、字节丢失) 会造成读取时的悬空引用。
func (s *ChunkStore) Put(ctx context.Context, data []byte) (types.Hash, error) {
	hash := core.CalculateBlobHash(data)

	stored, codec, err := compress.Compress(s.cfg.Codec, data)
	if err != nil {
		return "", fmt.Errorf("compress chunk %s: %w", hash.Short(), err)
	}

	lock := s.lockFor(hash)
	lock.Lock()
	defer lock.Unlock()

	if err := s.backend.Put(ctx, hash, stored); err != nil {
		return "", fmt.Errorf("store chunk %s: %w", hash.Short(), err)
	}

	info := meta.ChunkInfo{
		Hash:           hash,
		Size:           int64(len(data)),
		CompressedSize: int64(len(stored)),
		Codec:          codec,
	}
	if err := s.repo.UpsertChunkRef(ctx, info); err != nil {
		return "", fmt.Errorf("index chunk %s: %w", hash.Short(), err)
	}

	return hash, nil
}

// Get 读出未压缩的 Chunk 字节，并校验完整性
// 后端字节损坏时返回 *core.IntegrityError，绝不把坏数据交给调用方。
func (s *ChunkStore) Get(ctx context.Context, hash types.Hash) ([]byte, error) {
	entry, err := s.repo.GetChunk(ctx, hash)
	if err != nil {
		return nil, err
	}

	rc, err := s.backend.Get(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("read chunk %s: %w", hash.Short(), err)
	}
	defer rc.Close()

	stored, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read chunk %s: %w", hash.Short(), err)
	}

	data, err := compress.Decompress(compress.Codec(entry.Codec), stored, int(entry.Size))
	if err != nil {
		// 压缩字节被破坏时走不到重哈希那一步，解压失败本身就是读路径损坏，
		// 同样按完整性错误上报。
		return nil, fmt.Errorf("decompress chunk (%v): %w",
			err, &core.IntegrityError{Expected: hash, Index: -1})
	}

	if err := core.VerifyBlob(hash, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Has 检查 Chunk 是否在索引中
func (s *ChunkStore) Has(ctx context.Context, hash types.Hash) (bool, error) {
	_, err := s.repo.GetChunk(ctx, hash)
	if errors.Is(err, meta.ErrChunkNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Stat 返回 Chunk 的索引行 (大小、压缩、层级、引用计数)
func (s *ChunkStore) Stat(ctx context.Context, hash types.Hash) (*meta.ChunkEntry, error) {
	return s.repo.GetChunk(ctx, hash)
}

// -----------------------------------------------------------------------------
// 2. 引用计数
// -----------------------------------------------------------------------------

// IncrementRef 给已入库的 Chunk 记一次引用 (快照复用已有 Asset 时)
func (s *ChunkStore) IncrementRef(ctx context.Context, hash types.Hash) error {
	return s.repo.IncrementRef(ctx, hash)
}

// DecrementRef 减一次引用，降到 0 进入宽限期
func (s *ChunkStore) DecrementRef(ctx context.Context, hash types.Hash) error {
	return s.repo.DecrementRef(ctx, hash)
}

// SetTier 修改层级标注 (纯元数据，不搬字节)
func (s *ChunkStore) SetTier(ctx context.Context, hash types.Hash, tier types.StorageTier) error {
	return s.repo.SetTier(ctx, hash, tier)
}

// -----------------------------------------------------------------------------
// 3. 读租约 (Reader Lease)
// -----------------------------------------------------------------------------

// AcquireLease 把一批 Chunk 钉住，GC 不碰它们
// 长时间的导出 (Materialize) 过程中，引用计数可能被并发删除操作扣到 0，
// 租约保证读到一半的 Chunk 不会被物理回收。
func (s *ChunkStore) AcquireLease(hashes []types.Hash) uuid.UUID {
	id := uuid.New()
	pinned := make(map[types.Hash]struct{}, len(hashes))
	for _, h := range hashes {
		pinned[h] = struct{}{}
	}

	s.mu.Lock()
	s.leases[id] = pinned
	s.mu.Unlock()

	return id
}

// ReleaseLease 释放租约。未知 ID 返回 ErrLeaseNotFound (帮调用方发现 double-release)。
func (s *ChunkStore) ReleaseLease(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.leases[id]; !ok {
		return ErrLeaseNotFound
	}
	delete(s.leases, id)
	return nil
}

// lockFor 返回某个 Hash 所属分片的锁
func (s *ChunkStore) lockFor(hash types.Hash) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(hash))
	return &s.hashLocks[h.Sum32()%uint32(len(s.hashLocks))]
}

// isLeased 检查某个 Chunk 是否被任何租约钉住
func (s *ChunkStore) isLeased(hash types.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pinned := range s.leases {
		if _, ok := pinned[hash]; ok {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// 4. 垃圾回收
// -----------------------------------------------------------------------------

// GCResult 汇总一次 GC 扫描的结果
type GCResult struct {
	Scanned   int   // 候选数
	Removed   int   // 实际物理删除数
	Skipped   int   // 被租约或错误跳过的数目
	Reclaimed int64 // 回收的物理字节数 (按压缩后大小算)
}

// GC 扫一批过了宽限期的零引用 Chunk 并物理删除
// 单个 Chunk 失败只记日志并跳过，下一轮再试；GC 必须能在部分失败下推进。
func (s *ChunkStore) GC(ctx context.Context) (*GCResult, error) {
	cutoff := time.Now().Add(-s.cfg.GracePeriod)

	candidates, err := s.repo.GCCandidates(ctx, cutoff, s.cfg.GCBatchSize)
	if err != nil {
		return nil, fmt.Errorf("list gc candidates: %w", err)
	}

	result := &GCResult{Scanned: len(candidates)}
	for _, entry := range candidates {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		hash := types.Hash(entry.Hash)
		if s.isLeased(hash) {
			result.Skipped++
			continue
		}

		// 先删索引行，再删字节，整对操作持有该 Hash 的分片锁，
		// 并发的 Put 只能整体排在这对操作之前或之后。
		// DeleteChunk 带 ref_count = 0 守卫：候选查询之后、删除之前
		// 被重新引用的 Chunk 会在这里被拦下 (ErrStillReferenced)，字节毫发无损。
		// 行删掉之后就没人能再引用它了，删字节是安全的。
		if err := s.deleteChunk(ctx, hash); err != nil {
			s.log.WithError(err).WithField("hash", hash.Short()).Warn("gc: skip chunk")
			result.Skipped++
			continue
		}

		result.Removed++
		result.Reclaimed += entry.CompressedSize
	}

	if result.Removed > 0 || result.Skipped > 0 {
		s.log.WithFields(logrus.Fields{
			"scanned":   result.Scanned,
			"removed":   result.Removed,
			"skipped":   result.Skipped,
			"reclaimed": result.Reclaimed,
		}).Info("gc sweep finished")
	}
	return result, nil
}

// deleteChunk 在分片锁保护下删掉索引行和后端字节
func (s *ChunkStore) deleteChunk(ctx context.Context, hash types.Hash) error {
	lock := s.lockFor(hash)
	lock.Lock()
	defer lock.Unlock()

	if err := s.repo.DeleteChunk(ctx, hash); err != nil {
		return err
	}
	if err := s.backend.Delete(ctx, hash); err != nil {
		// 索引已删、字节还在: 留下一个孤儿 Blob
		// 无害 (没有索引行就没人能读到它)，同 Hash 的下次 Put 会直接复用
		return fmt.Errorf("index row deleted but backing bytes remain: %w", err)
	}
	return nil
}

