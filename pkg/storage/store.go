package storage

import (
	"context"
	"errors"
	"io"

	"mediavault/pkg/types"
)

var (
	ErrNotFound      = errors.New("object not found")
	ErrAmbiguousHash = errors.New("hash prefix is ambiguous")
)

// Backend 是 Chunk 字节存储后端的接口
// 实现可以是本地磁盘、S3 兼容对象存储，或测试用的内存实现。
//
// 注意：Backend 只管“按 Hash 存取字节”，它看到的可能是压缩后的字节。
// 引用计数、压缩元数据、完整性校验都在上层 (pkg/store) 处理。
type Backend interface {
	// Put 持久化一段字节；同一个 Hash 重复写入必须幂等
	Put(ctx context.Context, hash types.Hash, data []byte) error

	// Get 根据 Hash 读取原始数据
	// 注意：这里返回的是 io.ReadCloser 而不是 []byte
	// 原因：为了支持大对象的流式读取，避免一次性全部读进内存
	Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error)

	// Has 检查对象是否存在 (用于去重逻辑)
	Has(ctx context.Context, hash types.Hash) (bool, error)

	// Delete 物理删除一个对象 (只有 GC 会调用)
	// 对象不存在时返回 nil：幂等删除让 GC 的重试逻辑简单得多。
	Delete(ctx context.Context, hash types.Hash) error
}

// HashExpander 是可选能力：把短哈希前缀解析成唯一的完整 Hash
// CLI 需要它来支持 "mvault cat a8fd" 这种简写。
// 没有歧义时返回完整 Hash；匹配多个返回 ErrAmbiguousHash；没有匹配返回 ErrNotFound。
type HashExpander interface {
	ExpandHash(ctx context.Context, short types.HashPrefix) (types.Hash, error)
}
