package core

import (
	"fmt"

	"mediavault/pkg/types"
)

// ChunkRef 描述了 Asset 对底层 Chunk 的一次引用
type ChunkRef struct {
	Cid  Link  `cbor:"h"`
	Size int64 `cbor:"s"` // 这个 Chunk 的大小 (关键：用于计算 offset)
}

// Asset 是单个文件在单个版本下的“配方”：
// metadata blob + 有序的 chunk 引用序列。按顺序拼接 chunk 即可
// bit-for-bit 还原 payload。
//
// Asset 的身份是对 (Metadata, TotalSize, Chunks) 规范编码的哈希，
// 而不是 payload 字节的哈希。这带来两个性质：
//   - 内容相同但 metadata 不同的两个文件，共享同一份 chunk 序列，
//     但仍是不同的 Asset (metadata-only 编辑不触发重新切分/上传)
//   - 不同路径/不同提交下完全相同的文件塌缩成同一个 Asset
type Asset struct {
	// 自身标识
	hash     types.AssetHash `cbor:"-"` // 不参与序列化
	rawBytes []byte          `cbor:"-"` // 缓存序列化后的数据

	// 核心数据
	TypeVal   ObjectType `cbor:"t"`  // 必须是 "asset"
	Metadata  Link       `cbor:"md"` // metadata blob 的引用，可以为空
	TotalSize int64      `cbor:"ts"` // payload 总大小
	Chunks    []ChunkRef `cbor:"cs"` // 有序的切片引用
}

// NewAsset 创建并密封一个 Asset
// 零长度文件产出空的 Chunks 序列，得到规范的“空序列哈希”。
func NewAsset(metadata types.Hash, totalSize int64, chunks []ChunkRef) (*Asset, error) {
	var sum int64
	for _, ref := range chunks {
		sum += ref.Size
	}
	if sum != totalSize {
		return nil, fmt.Errorf("asset size mismatch: chunks sum to %d, declared %d", sum, totalSize)
	}

	// nil 和空切片在规范 CBOR 里编码不同 (null vs [])
	// 归一成空切片，保证空配方只有一个身份哈希。
	if chunks == nil {
		chunks = []ChunkRef{}
	}

	a := &Asset{
		TypeVal:   TypeAsset,
		Metadata:  NewLink(metadata),
		TotalSize: totalSize,
		Chunks:    chunks,
	}
	h, b, err := CalculateHash(a)
	if err != nil {
		return nil, err
	}
	a.hash = types.AssetHash(h)
	a.rawBytes = b
	return a, nil
}

// DecodeAsset 从序列化数据还原 Asset，并重新密封以恢复身份哈希
func DecodeAsset(data []byte) (*Asset, error) {
	var a Asset
	if err := DecodeObject(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode asset: %w", err)
	}
	if a.TypeVal != TypeAsset {
		return nil, fmt.Errorf("object is not an asset, got: %s", a.TypeVal)
	}

	h, b, err := CalculateHash(&a)
	if err != nil {
		return nil, err
	}
	a.hash = types.AssetHash(h)
	a.rawBytes = b
	return &a, nil
}

func (a *Asset) Type() ObjectType         { return TypeAsset }
func (a *Asset) ID() types.Hash           { return a.hash.ToHash() }
func (a *Asset) AssetID() types.AssetHash { return a.hash }
func (a *Asset) Bytes() []byte            { return a.rawBytes }
func (a *Asset) Size() int64              { return a.TotalSize }

// ChunkHashes 返回有序的 chunk 哈希列表 (Diff 引擎的输入)
func (a *Asset) ChunkHashes() []types.Hash {
	out := make([]types.Hash, len(a.Chunks))
	for i, ref := range a.Chunks {
		out[i] = ref.Cid.Hash
	}
	return out
}
