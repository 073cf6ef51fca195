package meta

import (
	"time"

	"gorm.io/datatypes"
)

// ChunkEntry 是 Chunk 在关系型数据库中的索引行
// 物理字节在 storage.Backend 里；这里存的是引用计数、压缩信息和生命周期状态。
// 每个 Hash 全局唯一一行，数据库的主键约束就是去重约束。
type ChunkEntry struct {
	// Hash 是主键 (未压缩内容的 SHA-256)
	Hash string `gorm:"primaryKey;type:char(64)"`

	// Size 是未压缩的逻辑大小。身份和引用都按这个算。
	Size int64 `gorm:"not null"`

	// CompressedSize 是后端实际存储的字节数 (Codec=none 时等于 Size)
	CompressedSize int64 `gorm:"not null"`

	// Codec 记录压缩算法: "none" / "lz4" / "zstd"
	// 读取路径必须按这个解压，所以它是持久元数据而不是运行时配置
	Codec string `gorm:"type:varchar(8);not null"`

	// Tier 存储层级: standard / infrequent / archived
	// 纯粹是元数据标注，不影响寻址
	Tier string `gorm:"type:varchar(16);not null;default:standard"`

	// RefCount 引用计数。多少个 Manifest 经由 Asset 引用了这个 Chunk。
	// 不允许为负：Decrement 带 ref_count > 0 守卫。
	RefCount int64 `gorm:"not null;default:0"`

	// ZeroSince 记录引用计数降到 0 的时刻 (宽限期的起点)
	// 非 NULL 且早于 now-grace 的行才是 GC 候选；重新被引用时清回 NULL。
	ZeroSince *time.Time `gorm:"index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ChunkEntry) TableName() string {
	return "chunks"
}

// AssetModel 是 core.Asset 在数据库中的投影 (索引)
// CBOR 原文存在 Backend 里，这一行用于快速查询，不是权威数据。
type AssetModel struct {
	// Hash 是主键 (Asset 的规范 CBOR 哈希)
	Hash string `gorm:"primaryKey;type:char(64)"`

	// MetadataHash 指向元数据 Blob (MIME 类型、原始文件名等)
	MetadataHash string `gorm:"type:char(64)"`

	TotalSize  int64 `gorm:"not null"`
	ChunkCount int   `gorm:"not null"`

	// ChunkHashes: JSON 数组 ["hash1", "hash2", ...]
	// 让 stat / gc 不用解 CBOR 就能拿到配方
	ChunkHashes datatypes.JSON

	// Staged: 已摄取但还没进入任何快照。
	// staged Asset 持有一份 Chunk 引用预留，提交时消费，丢弃时退还。
	Staged bool `gorm:"not null;default:false;index"`

	CreatedAt time.Time
}

func (AssetModel) TableName() string {
	return "assets"
}

// ManifestModel 是 Manifest (快照) 的数据库投影
// Manifest 是引用计数的根：Commit 一个 Manifest 给它覆盖的所有 Chunk +1，Delete -1。
type ManifestModel struct {
	Hash string `gorm:"primaryKey;type:char(64)"`

	// Label 是人类可读的快照名，例如 "v1.2-final"
	Label string `gorm:"index;type:varchar(255)"`

	EntryCount int   `gorm:"not null"`
	TotalSize  int64 `gorm:"not null"`

	// Meta: 任意快照级元数据 (作者、审核状态、项目标签...)
	Meta datatypes.JSON

	CreatedAt time.Time
}

func (ManifestModel) TableName() string {
	return "manifests"
}
