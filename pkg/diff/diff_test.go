package diff

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediavault/pkg/core"
	"mediavault/pkg/types"
)

// TestChunks_SmallFilesSingleReplace: 两个 1KB 文件只差第一个字节，
// 且都小于 MinSize (各自只有一个块) 时，整个文件按一次替换处理，
// 即旧块删除加新块插入，统计上等价于 1 added + 1 removed。
func TestChunks_SmallFilesSingleReplace(t *testing.T) {
	dataA := make([]byte, 1024)
	for i := range dataA {
		dataA[i] = byte(i % 251)
	}
	dataB := make([]byte, 1024)
	copy(dataB, dataA)
	dataB[0] ^= 0xff

	chunkA := core.NewChunk(dataA)
	chunkB := core.NewChunk(dataB)

	oldSeq := []core.ChunkRef{{Cid: core.Link{Hash: chunkA.ID()}, Size: chunkA.Size()}}
	newSeq := []core.ChunkRef{{Cid: core.Link{Hash: chunkB.ID()}, Size: chunkB.Size()}}

	result := Chunks(oldSeq, newSeq)

	require.Equal(t, []OpKind{OpDelete, OpInsert}, kinds(result))
	assert.Equal(t, 0, result.Stats.Kept)
	assert.Equal(t, 1, result.Stats.Added)
	assert.Equal(t, 1, result.Stats.Removed)
	assert.Equal(t, float64(0), result.Stats.Similarity)
}

// ref 用内容字符串造一个 ChunkRef，哈希真实可重现
func ref(content string, size int64) core.ChunkRef {
	sum := sha256.Sum256([]byte(content))
	return core.ChunkRef{
		Cid:  core.Link{Hash: types.Hash(hex.EncodeToString(sum[:]))},
		Size: size,
	}
}

func kinds(result *Result) []OpKind {
	out := make([]OpKind, len(result.Ops))
	for i, op := range result.Ops {
		out[i] = op.Kind
	}
	return out
}

func TestDiff_IdenticalSequences(t *testing.T) {
	seq := []core.ChunkRef{ref("a", 100), ref("b", 200), ref("c", 300)}

	result := Chunks(seq, seq)

	// 同一律: 全 Keep，相似度 1.0
	assert.Equal(t, []OpKind{OpKeep, OpKeep, OpKeep}, kinds(result))
	assert.Equal(t, 3, result.Stats.Kept)
	assert.Equal(t, 0, result.Stats.Added)
	assert.Equal(t, 0, result.Stats.Removed)
	assert.Equal(t, 1.0, result.Stats.Similarity)
}

func TestDiff_EmptySequences(t *testing.T) {
	seq := []core.ChunkRef{ref("a", 100), ref("b", 200)}

	// 文件新增: 全 Insert
	added := Chunks(nil, seq)
	assert.Equal(t, []OpKind{OpInsert, OpInsert}, kinds(added))
	assert.Equal(t, int64(300), added.Stats.BytesAdded)
	assert.Equal(t, 0.0, added.Stats.Similarity)

	// 文件删除: 全 Delete
	removed := Chunks(seq, nil)
	assert.Equal(t, []OpKind{OpDelete, OpDelete}, kinds(removed))
	assert.Equal(t, int64(300), removed.Stats.BytesRemoved)

	// 两个空文件完全相同
	empty := Chunks(nil, nil)
	assert.Empty(t, empty.Ops)
	assert.Equal(t, 1.0, empty.Stats.Similarity)
}

func TestDiff_TailEdit(t *testing.T) {
	// 典型场景: 大文件尾部改了一块
	oldSeq := []core.ChunkRef{ref("a", 100), ref("b", 100), ref("c", 100), ref("old-tail", 50)}
	newSeq := []core.ChunkRef{ref("a", 100), ref("b", 100), ref("c", 100), ref("new-tail", 70)}

	result := Chunks(oldSeq, newSeq)

	// 前缀全 Keep，尾部一个 Replace
	assert.Equal(t, []OpKind{OpKeep, OpKeep, OpKeep, OpReplace}, kinds(result))
	assert.Equal(t, 3, result.Stats.Kept)
	assert.Equal(t, 1, result.Stats.Added)
	assert.Equal(t, 1, result.Stats.Removed)
	assert.Equal(t, int64(70), result.Stats.BytesAdded)
	assert.Equal(t, int64(50), result.Stats.BytesRemoved)
	assert.InDelta(t, 0.6, result.Stats.Similarity, 0.0001) // 3 / (3+1+1)
}

func TestDiff_PureInsertInMiddle(t *testing.T) {
	oldSeq := []core.ChunkRef{ref("a", 100), ref("b", 100)}
	newSeq := []core.ChunkRef{ref("a", 100), ref("x", 40), ref("b", 100)}

	result := Chunks(oldSeq, newSeq)

	// "x" 在旧序列里不存在 → Insert，然后 "b" 重新对齐成 Keep
	assert.Equal(t, []OpKind{OpKeep, OpInsert, OpKeep}, kinds(result))
	assert.Equal(t, 2, result.Stats.Kept)
	assert.Equal(t, 1, result.Stats.Added)
	assert.Equal(t, 0, result.Stats.Removed)
}

func TestDiff_PureDeleteInMiddle(t *testing.T) {
	oldSeq := []core.ChunkRef{ref("a", 100), ref("x", 40), ref("b", 100)}
	newSeq := []core.ChunkRef{ref("a", 100), ref("b", 100)}

	result := Chunks(oldSeq, newSeq)

	assert.Equal(t, []OpKind{OpKeep, OpDelete, OpKeep}, kinds(result))
	assert.Equal(t, 2, result.Stats.Kept)
	assert.Equal(t, 1, result.Stats.Removed)
	assert.Equal(t, int64(40), result.Stats.BytesRemoved)
}

func TestDiff_ReorderIsConservativeReplace(t *testing.T) {
	// 内容交换位置: 两边都有对方，但没对齐
	oldSeq := []core.ChunkRef{ref("a", 100), ref("b", 100)}
	newSeq := []core.ChunkRef{ref("b", 100), ref("a", 100)}

	result := Chunks(oldSeq, newSeq)

	// 线性算法不识别移动，给出保守的 Replace 对
	assert.Equal(t, []OpKind{OpReplace, OpReplace}, kinds(result))
	assert.Equal(t, 0, result.Stats.Kept)
	assert.Equal(t, 2, result.Stats.Added)
	assert.Equal(t, 2, result.Stats.Removed)
}

func TestDiff_DuplicateChunksConsumeInOrder(t *testing.T) {
	// "d" 在旧序列出现两次，新序列只剩一次
	// 成员测试必须按剩余未消费次数算，不能无限重配
	oldSeq := []core.ChunkRef{ref("d", 100), ref("d", 100), ref("e", 100)}
	newSeq := []core.ChunkRef{ref("d", 100), ref("e", 100)}

	result := Chunks(oldSeq, newSeq)

	// 第一个 "d" 对齐 Keep 并消费掉新序列里唯一的 "d"
	// 第二个 "d" 在新序列剩余部分已经不存在 → Delete
	assert.Equal(t, []OpKind{OpKeep, OpDelete, OpKeep}, kinds(result))
	assert.Equal(t, 2, result.Stats.Kept)
	assert.Equal(t, 1, result.Stats.Removed)
}

func TestDiff_SymmetryOfKeepSet(t *testing.T) {
	oldSeq := []core.ChunkRef{ref("a", 10), ref("b", 20), ref("c", 30), ref("x", 40)}
	newSeq := []core.ChunkRef{ref("a", 10), ref("y", 50), ref("c", 30)}

	forward := Chunks(oldSeq, newSeq)
	backward := Chunks(newSeq, oldSeq)

	// 两个方向的 Keep 集必须一致，Insert/Delete 互换
	assert.Equal(t, forward.Stats.Kept, backward.Stats.Kept)
	assert.Equal(t, forward.Stats.Added, backward.Stats.Removed)
	assert.Equal(t, forward.Stats.Removed, backward.Stats.Added)
	assert.Equal(t, forward.Stats.BytesAdded, backward.Stats.BytesRemoved)
	assert.Equal(t, forward.Stats.Similarity, backward.Stats.Similarity)
}

func TestDiff_OpOrdering(t *testing.T) {
	// Keep/Insert/Replace 按新序列顺序，Delete 按旧序列顺序
	oldSeq := []core.ChunkRef{ref("a", 10), ref("gone1", 10), ref("gone2", 10)}
	newSeq := []core.ChunkRef{ref("a", 10)}

	result := Chunks(oldSeq, newSeq)
	require.Len(t, result.Ops, 3)

	assert.Equal(t, OpKeep, result.Ops[0].Kind)
	assert.Equal(t, 1, result.Ops[1].OldIndex, "Delete 按旧序列下标顺序")
	assert.Equal(t, 2, result.Ops[2].OldIndex)
	assert.Equal(t, -1, result.Ops[1].NewIndex, "Delete 不涉及新序列")
}

func TestDiff_Assets(t *testing.T) {
	metaHash := types.Hash(ref("meta", 0).Cid.Hash)

	chunksA := []core.ChunkRef{ref("a", 100), ref("b", 100)}
	chunksB := []core.ChunkRef{ref("a", 100), ref("z", 100)}

	oldAsset, err := core.NewAsset(metaHash, 200, chunksA)
	require.NoError(t, err)
	newAsset, err := core.NewAsset(metaHash, 200, chunksB)
	require.NoError(t, err)

	result := Assets(oldAsset, newAsset)
	assert.Equal(t, []OpKind{OpKeep, OpReplace}, kinds(result))
	assert.InDelta(t, 1.0/3.0, result.Stats.Similarity, 0.0001)
}
