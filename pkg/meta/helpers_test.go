package meta

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"mediavault/pkg/compress"
	"mediavault/pkg/core"
	"mediavault/pkg/types"

	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// 通用辅助函数 (Helpers)
// 注意：文件名必须以 _test.go 结尾，否则会被编译进生产代码！
// -----------------------------------------------------------------------------

// mockHash 生成合法的测试用 Hash
func mockHash(input string) types.Hash {
	sum := sha256.Sum256([]byte(input))
	return types.Hash(hex.EncodeToString(sum[:]))
}

// mockChunkInfo 生成一条索引描述 (未压缩存储)
func mockChunkInfo(input string, size int64) ChunkInfo {
	return ChunkInfo{
		Hash:           mockHash(input),
		Size:           size,
		CompressedSize: size,
		Codec:          compress.CodecNone,
	}
}

// mustUpsert 强制写入 Chunk 引用，失败则终止
func mustUpsert(t *testing.T, repo *Repository, info ChunkInfo, msgAndArgs ...any) {
	t.Helper() // 关键：报错时回溯栈帧
	err := repo.UpsertChunkRef(context.Background(), info)
	require.NoError(t, err, msgAndArgs...)
}

// mustNewAsset 创建 Asset，如果失败直接终止测试
func mustNewAsset(t *testing.T, metadata types.Hash, chunks []core.ChunkRef, msgAndArgs ...any) *core.Asset {
	t.Helper()
	var total int64
	for _, c := range chunks {
		total += c.Size
	}
	a, err := core.NewAsset(metadata, total, chunks)
	require.NoError(t, err, msgAndArgs...)
	return a
}
