package core

import "mediavault/pkg/types"

// Chunk 代表 CDC 切分出来的物理数据块，也用于独立存储的 metadata blob
// 它是不可变的：创建之后内容和 Hash 都不会再变。
type Chunk struct {
	hash types.Hash
	data []byte
}

// NewChunk 计算 Hash 并密封一个数据块
// 注意：data 不会被拷贝，调用方之后不得修改。
func NewChunk(data []byte) *Chunk {
	return &Chunk{
		hash: CalculateBlobHash(data),
		data: data,
	}
}

func (c *Chunk) Type() ObjectType { return TypeChunk }
func (c *Chunk) ID() types.Hash   { return c.hash }
func (c *Chunk) Bytes() []byte    { return c.data }
func (c *Chunk) Size() int64      { return int64(len(c.data)) }
