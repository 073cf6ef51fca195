// Package diff 比较两个版本的 Chunk 序列，产出编辑脚本和相似度统计。
//
// 算法是线性的位置对齐走查，不是通用的最小编辑距离 (LCS)：
// 大文件的 Chunk 数以万计，O(n²) 的最优解不划算。
// 内容被重排或边界漂移时会保守地给出 Replace，而不是识别移动。
// 想要更强的移动检测，应该在上层再做一遍整块复用分析，而不是改这里。
package diff

import (
	"mediavault/pkg/core"
	"mediavault/pkg/types"
)

type OpKind string

const (
	OpKeep    OpKind = "keep"    // 两边同位置同内容
	OpInsert  OpKind = "insert"  // 新版本独有
	OpDelete  OpKind = "delete"  // 旧版本独有
	OpReplace OpKind = "replace" // 两边都有这块内容，但没对齐 (保守配对)
)

// Op 是编辑脚本里的一步
// OldIndex / NewIndex 是该操作涉及的序列下标，不涉及的一侧为 -1。
type Op struct {
	Kind     OpKind
	OldIndex int
	NewIndex int
	Old      core.ChunkRef // Delete / Replace / Keep 时有效
	New      core.ChunkRef // Insert / Replace / Keep 时有效
}

// Stats 是聚合统计
// Replace 同时算一块移除和一块新增。
type Stats struct {
	Kept         int
	Added        int
	Removed      int
	BytesAdded   int64
	BytesRemoved int64

	// Similarity = Kept / (Kept + Added + Removed)，范围 [0, 1]
	// 两个空序列视为完全相同 (1.0)。
	Similarity float64
}

// Result 是一次 Diff 的完整产出
type Result struct {
	Ops   []Op
	Stats Stats
}

// Chunks 比较两个有序 Chunk 序列
//
// 走查规则 (两个游标 i / j):
//  1. 同位置哈希相同: Keep，双游标前进。小改动集中在文件尾部时这是绝对主路径。
//  2. 失配时做成员测试: 旧块在新序列剩余部分里找不到就是 Delete；
//     新块在旧序列剩余部分里找不到就是 Insert。
//  3. 两边都还有对方 (重排/边界漂移): 保守 Replace，双游标前进。
//
// 成员测试用的是"剩余未消费次数"而不是全序列：重复内容块按出现顺序
// 消费第一个未匹配的，绝不重复配对。
func Chunks(oldChunks, newChunks []core.ChunkRef) *Result {
	// 剩余出现次数表 (随游标前进递减)
	remainingOld := countByHash(oldChunks)
	remainingNew := countByHash(newChunks)

	result := &Result{}
	i, j := 0, 0

	consumeOld := func() {
		remainingOld[oldChunks[i].Cid.Hash]--
		i++
	}
	consumeNew := func() {
		remainingNew[newChunks[j].Cid.Hash]--
		j++
	}

	for i < len(oldChunks) && j < len(newChunks) {
		oldRef, newRef := oldChunks[i], newChunks[j]

		if oldRef.Cid.Hash == newRef.Cid.Hash {
			result.Ops = append(result.Ops, Op{
				Kind: OpKeep, OldIndex: i, NewIndex: j,
				Old: oldRef, New: newRef,
			})
			result.Stats.Kept++
			consumeOld()
			consumeNew()
			continue
		}

		oldStillInNew := remainingNew[oldRef.Cid.Hash] > 0
		newStillInOld := remainingOld[newRef.Cid.Hash] > 0

		switch {
		case !oldStillInNew:
			// 旧块彻底消失了
			result.Ops = append(result.Ops, Op{
				Kind: OpDelete, OldIndex: i, NewIndex: -1, Old: oldRef,
			})
			result.Stats.Removed++
			result.Stats.BytesRemoved += oldRef.Size
			consumeOld()

		case !newStillInOld:
			// 新块是全新内容
			result.Ops = append(result.Ops, Op{
				Kind: OpInsert, OldIndex: -1, NewIndex: j, New: newRef,
			})
			result.Stats.Added++
			result.Stats.BytesAdded += newRef.Size
			consumeNew()

		default:
			// 内容都在，位置变了: 保守配对
			result.Ops = append(result.Ops, Op{
				Kind: OpReplace, OldIndex: i, NewIndex: j,
				Old: oldRef, New: newRef,
			})
			result.Stats.Removed++
			result.Stats.Added++
			result.Stats.BytesRemoved += oldRef.Size
			result.Stats.BytesAdded += newRef.Size
			consumeOld()
			consumeNew()
		}
	}

	// 尾部: 一边走完了，另一边剩下的全是单边操作
	for ; i < len(oldChunks); i++ {
		result.Ops = append(result.Ops, Op{
			Kind: OpDelete, OldIndex: i, NewIndex: -1, Old: oldChunks[i],
		})
		result.Stats.Removed++
		result.Stats.BytesRemoved += oldChunks[i].Size
	}
	for ; j < len(newChunks); j++ {
		result.Ops = append(result.Ops, Op{
			Kind: OpInsert, OldIndex: -1, NewIndex: j, New: newChunks[j],
		})
		result.Stats.Added++
		result.Stats.BytesAdded += newChunks[j].Size
	}

	total := result.Stats.Kept + result.Stats.Added + result.Stats.Removed
	if total == 0 {
		result.Stats.Similarity = 1.0 // 两个空文件完全相同
	} else {
		result.Stats.Similarity = float64(result.Stats.Kept) / float64(total)
	}

	return result
}

// Assets 比较两个 Asset 的配方
// 只看 Chunk 序列；元数据 Blob 的差异不属于 payload diff。
func Assets(oldAsset, newAsset *core.Asset) *Result {
	return Chunks(oldAsset.Chunks, newAsset.Chunks)
}

func countByHash(chunks []core.ChunkRef) map[types.Hash]int {
	counts := make(map[types.Hash]int, len(chunks))
	for _, c := range chunks {
		counts[c.Cid.Hash]++
	}
	return counts
}
