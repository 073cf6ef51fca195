package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mediavault/pkg/compress"
	"mediavault/pkg/core"
	"mediavault/pkg/types"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrChunkNotFound    = errors.New("chunk not found in metadata")
	ErrAssetNotFound    = errors.New("asset not found in metadata")
	ErrManifestNotFound = errors.New("manifest not found in metadata")
	ErrStillReferenced  = errors.New("chunk is still referenced")
)

// ChunkInfo 是写入索引时的 Chunk 描述
type ChunkInfo struct {
	Hash           types.Hash
	Size           int64
	CompressedSize int64
	Codec          compress.Codec
}

// Stats 是仓库级别的汇总数据 (mvault stat 用)
type Stats struct {
	ChunkCount    int64
	LogicalBytes  int64 // 所有 Chunk 未压缩大小之和
	PhysicalBytes int64 // 实际落盘字节之和
	AssetCount    int64
	ManifestCount int64
}

// Repository 封装所有对 SQL 数据库的操作
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// -----------------------------------------------------------------------------
// 1. Chunk 索引与引用计数
// -----------------------------------------------------------------------------

// UpsertChunkRef 原子地 "插入或加一"
// 新 Chunk: 创建索引行，ref_count = 1
// 已有 Chunk: ref_count + 1，并清掉 zero_since (从 GC 候选里捞回来)
//
// 关键：这是单条带 ON CONFLICT 的 SQL，不是 "先查再写"。
// 两个并发写入者同时提交同一个 Hash 时，数据库保证最终 ref_count = 2。
func (r *Repository) UpsertChunkRef(ctx context.Context, info ChunkInfo) error {
	entry := ChunkEntry{
		Hash:           string(info.Hash),
		Size:           info.Size,
		CompressedSize: info.CompressedSize,
		Codec:          string(info.Codec),
		Tier:           string(types.TierStandard),
		RefCount:       1,
	}

	err := r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "hash"}},
			DoUpdates: clause.Assignments(map[string]any{
				"ref_count":  gorm.Expr("ref_count + 1"),
				"zero_since": nil,
				"updated_at": time.Now(),
			}),
		}).
		Create(&entry).Error

	if err != nil {
		return fmt.Errorf("failed to upsert chunk ref: %w", err)
	}
	return nil
}

// IncrementRef 给已有 Chunk 的引用计数 +1 (Manifest 复用已入库的 Asset 时走这里)
func (r *Repository) IncrementRef(ctx context.Context, hash types.Hash) error {
	result := r.db.GetConn().WithContext(ctx).
		Model(&ChunkEntry{}).
		Where("hash = ?", string(hash)).
		Updates(map[string]any{
			"ref_count":  gorm.Expr("ref_count + 1"),
			"zero_since": nil,
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	// 引用一个不存在的 Chunk 是调用方的 Bug，必须浮出来
	if result.RowsAffected == 0 {
		return ErrChunkNotFound
	}
	return nil
}

// DecrementRef 引用计数 -1，降到 0 时盖上 zero_since 时间戳 (宽限期起点)
// ref_count > 0 守卫保证计数永远不为负，多删一次也不会把别人的引用扣掉。
func (r *Repository) DecrementRef(ctx context.Context, hash types.Hash) error {
	return r.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&ChunkEntry{}).
			Where("hash = ? AND ref_count > 0", string(hash)).
			Updates(map[string]any{
				"ref_count":  gorm.Expr("ref_count - 1"),
				"updated_at": time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrChunkNotFound
		}

		// 刚好降到 0 的行打上时间戳；已经有时间戳的不覆盖
		return tx.Model(&ChunkEntry{}).
			Where("hash = ? AND ref_count = 0 AND zero_since IS NULL", string(hash)).
			Update("zero_since", time.Now()).Error
	})
}

// GetChunk 查询单个 Chunk 的索引行
func (r *Repository) GetChunk(ctx context.Context, hash types.Hash) (*ChunkEntry, error) {
	var entry ChunkEntry
	err := r.db.GetConn().WithContext(ctx).
		Where("hash = ?", string(hash)).
		First(&entry).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChunkNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// GCCandidates 返回过了宽限期的零引用 Chunk
// 条件: ref_count = 0 且 zero_since 早于 cutoff
func (r *Repository) GCCandidates(ctx context.Context, cutoff time.Time, limit int) ([]ChunkEntry, error) {
	var entries []ChunkEntry
	err := r.db.GetConn().WithContext(ctx).
		Where("ref_count = 0 AND zero_since IS NOT NULL AND zero_since <= ?", cutoff).
		Order("zero_since ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// DeleteChunk 删除索引行 (GC 在物理删除后调用)
// ref_count = 0 守卫：宽限期内被重新引用的 Chunk 绝不能被误删。
func (r *Repository) DeleteChunk(ctx context.Context, hash types.Hash) error {
	result := r.db.GetConn().WithContext(ctx).
		Where("hash = ? AND ref_count = 0", string(hash)).
		Delete(&ChunkEntry{})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// 区分两种情况: 行不存在 vs 行还有引用
		var count int64
		r.db.GetConn().WithContext(ctx).
			Model(&ChunkEntry{}).
			Where("hash = ?", string(hash)).
			Count(&count)
		if count > 0 {
			return ErrStillReferenced
		}
		return nil // 已经没了，幂等
	}
	return nil
}

// SetTier 修改存储层级标注
func (r *Repository) SetTier(ctx context.Context, hash types.Hash, tier types.StorageTier) error {
	if !tier.IsValid() {
		return fmt.Errorf("invalid storage tier: %q", tier)
	}

	result := r.db.GetConn().WithContext(ctx).
		Model(&ChunkEntry{}).
		Where("hash = ?", string(hash)).
		Updates(map[string]any{
			"tier":       string(tier),
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrChunkNotFound
	}
	return nil
}

// -----------------------------------------------------------------------------
// 2. Asset 索引
// -----------------------------------------------------------------------------

// IndexAsset 把 core.Asset 投影到数据库 (幂等，主键冲突时忽略)
// 权威数据是 Backend 里的 CBOR 原文，这里只是查询加速。
func (r *Repository) IndexAsset(ctx context.Context, asset *core.Asset) error {
	hashes := asset.ChunkHashes()
	hashesJSON, err := json.Marshal(hashes)
	if err != nil {
		return fmt.Errorf("failed to marshal chunk hashes: %w", err)
	}

	model := AssetModel{
		Hash:         string(asset.ID()),
		MetadataHash: string(asset.Metadata.Hash),
		TotalSize:    asset.TotalSize,
		ChunkCount:   len(asset.Chunks),
		ChunkHashes:  datatypes.JSON(hashesJSON),
	}

	err = r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "hash"}},
			DoNothing: true,
		}).
		Create(&model).Error

	if err != nil {
		return fmt.Errorf("failed to index asset: %w", err)
	}
	return nil
}

// MarkStaged 把 Asset 标记为 staged，返回是否真的发生了状态翻转
// 返回 false 表示它本来就是 staged (重复摄取)，调用方应退还多记的引用。
func (r *Repository) MarkStaged(ctx context.Context, hash types.Hash) (bool, error) {
	result := r.db.GetConn().WithContext(ctx).
		Model(&AssetModel{}).
		Where("hash = ? AND staged = ?", string(hash), false).
		Update("staged", true)

	if result.Error != nil {
		return false, fmt.Errorf("failed to mark asset staged: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ConsumeStaged 原子地取走 staged 标记，返回是否取到
// 提交和丢弃都走这里，保证一份预留只被消费一次。
func (r *Repository) ConsumeStaged(ctx context.Context, hash types.Hash) (bool, error) {
	result := r.db.GetConn().WithContext(ctx).
		Model(&AssetModel{}).
		Where("hash = ? AND staged = ?", string(hash), true).
		Update("staged", false)

	if result.Error != nil {
		return false, fmt.Errorf("failed to consume staged mark: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *Repository) GetAsset(ctx context.Context, hash types.AssetHash) (*AssetModel, error) {
	var model AssetModel
	err := r.db.GetConn().WithContext(ctx).
		Where("hash = ?", string(hash)).
		First(&model).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAssetNotFound
	}
	if err != nil {
		return nil, err
	}
	return &model, nil
}

// -----------------------------------------------------------------------------
// 3. Manifest 索引
// -----------------------------------------------------------------------------

// IndexManifest 记录一个已提交的快照
func (r *Repository) IndexManifest(ctx context.Context, m *core.Manifest, label string, extra map[string]any) error {
	var totalSize int64
	for _, e := range m.Entries {
		totalSize += e.Size
	}

	var metaJSON datatypes.JSON
	if len(extra) > 0 {
		raw, err := json.Marshal(extra)
		if err != nil {
			return fmt.Errorf("failed to marshal manifest meta: %w", err)
		}
		metaJSON = datatypes.JSON(raw)
	}

	model := ManifestModel{
		Hash:       string(m.ID()),
		Label:      label,
		EntryCount: len(m.Entries),
		TotalSize:  totalSize,
		Meta:       metaJSON,
	}

	err := r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "hash"}},
			DoNothing: true,
		}).
		Create(&model).Error

	if err != nil {
		return fmt.Errorf("failed to index manifest: %w", err)
	}
	return nil
}

func (r *Repository) GetManifest(ctx context.Context, hash types.Hash) (*ManifestModel, error) {
	var model ManifestModel
	err := r.db.GetConn().WithContext(ctx).
		Where("hash = ?", string(hash)).
		First(&model).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrManifestNotFound
	}
	if err != nil {
		return nil, err
	}
	return &model, nil
}

// DeleteManifest 删除快照索引行
// 引用计数的扣减在上层 (engine) 做，这里只管行本身。
func (r *Repository) DeleteManifest(ctx context.Context, hash types.Hash) error {
	result := r.db.GetConn().WithContext(ctx).
		Where("hash = ?", string(hash)).
		Delete(&ManifestModel{})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrManifestNotFound
	}
	return nil
}

// ListManifests 按创建时间倒序列出快照 (mvault stat / log 用)
func (r *Repository) ListManifests(ctx context.Context, limit int) ([]ManifestModel, error) {
	var models []ManifestModel
	err := r.db.GetConn().WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	return models, err
}

// -----------------------------------------------------------------------------
// 4. 仓库统计
// -----------------------------------------------------------------------------

func (r *Repository) GetStats(ctx context.Context) (*Stats, error) {
	conn := r.db.GetConn().WithContext(ctx)
	var stats Stats

	row := conn.Model(&ChunkEntry{}).
		Select("COUNT(*), COALESCE(SUM(size), 0), COALESCE(SUM(compressed_size), 0)").
		Row()
	if err := row.Scan(&stats.ChunkCount, &stats.LogicalBytes, &stats.PhysicalBytes); err != nil {
		return nil, fmt.Errorf("failed to aggregate chunk stats: %w", err)
	}

	if err := conn.Model(&AssetModel{}).Count(&stats.AssetCount).Error; err != nil {
		return nil, err
	}
	if err := conn.Model(&ManifestModel{}).Count(&stats.ManifestCount).Error; err != nil {
		return nil, err
	}

	return &stats, nil
}
