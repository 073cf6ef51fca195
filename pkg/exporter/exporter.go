// Package exporter 把 Asset 配方还原成原始字节流。
//
// 还原是流式的：一次只在内存里持有一个 Chunk，写给任何 io.Writer。
// 每个 Chunk 在写出前都经过双重校验 (内容哈希 + 配方声明的长度)，
// 校验失败立即中止，绝不写出半截损坏的文件。
package exporter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"mediavault/pkg/core"
	"mediavault/pkg/store"
)

type Exporter struct {
	chunks *store.ChunkStore
}

func NewExporter(chunks *store.ChunkStore) *Exporter {
	return &Exporter{chunks: chunks}
}

// Materialize 按配方顺序拼接所有 Chunk，写入 writer
// 空文件 (零个 Chunk) 合法：什么都不写，直接成功。
//
// 整个还原过程持有读租约：并发的快照删除可以把引用计数扣到 0，
// 但 GC 不会在我们读到一半时抽走物理字节。
func (e *Exporter) Materialize(ctx context.Context, asset *core.Asset, writer io.Writer) error {
	lease := e.chunks.AcquireLease(asset.ChunkHashes())
	defer e.chunks.ReleaseLease(lease)

	var offset int64
	for i, ref := range asset.Chunks {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, err := e.fetchVerified(ctx, asset, i, offset)
		if err != nil {
			return err
		}

		if _, err := writer.Write(data); err != nil {
			return fmt.Errorf("write chunk %d at offset %d: %w", i, offset, err)
		}
		offset += ref.Size
	}

	return nil
}

// MaterializeRange 只还原 [offset, offset+length) 这个字节区间
// 解析出覆盖该区间的 Chunk 子集，只取这些 Chunk，首尾按需裁剪。
// length < 0 表示一直读到文件末尾。
//
// 按需读取大型媒体文件的一小段 (比如视频预览连拉几秒) 不应该
// 付出整个文件的还原代价，这就是这个方法存在的理由。
func (e *Exporter) MaterializeRange(ctx context.Context, asset *core.Asset, offset, length int64, writer io.Writer) error {
	if offset < 0 {
		return fmt.Errorf("negative range offset: %d", offset)
	}
	if offset > asset.TotalSize {
		return fmt.Errorf("range offset %d exceeds asset size %d", offset, asset.TotalSize)
	}
	if length < 0 {
		length = asset.TotalSize - offset
	}
	if offset+length > asset.TotalSize {
		return fmt.Errorf("range [%d, %d) exceeds asset size %d", offset, offset+length, asset.TotalSize)
	}
	if length == 0 {
		return nil
	}

	lease := e.chunks.AcquireLease(asset.ChunkHashes())
	defer e.chunks.ReleaseLease(lease)

	end := offset + length
	var chunkStart int64

	for i, ref := range asset.Chunks {
		chunkEnd := chunkStart + ref.Size

		// 这个 Chunk 完全在区间之外: 跳过
		if chunkEnd <= offset {
			chunkStart = chunkEnd
			continue
		}
		if chunkStart >= end {
			break
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		data, err := e.fetchVerified(ctx, asset, i, chunkStart)
		if err != nil {
			return err
		}

		// 裁剪首尾: 区间边界不一定落在 Chunk 边界上
		lo, hi := int64(0), ref.Size
		if offset > chunkStart {
			lo = offset - chunkStart
		}
		if end < chunkEnd {
			hi = end - chunkStart
		}

		if _, err := writer.Write(data[lo:hi]); err != nil {
			return fmt.Errorf("write chunk %d range slice: %w", i, err)
		}
		chunkStart = chunkEnd
	}

	return nil
}

// MaterializeToFile 还原到目标文件
// 先写临时文件再 Rename：还原中途失败 (包括完整性错误) 不会留下半截文件。
func (e *Exporter) MaterializeToFile(ctx context.Context, asset *core.Asset, targetPath string) error {
	tmp, err := os.CreateTemp(filepath.Dir(targetPath), ".mvault-checkout-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := e.Materialize(ctx, asset, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), targetPath)
}

// fetchVerified 取出一个 Chunk 并做双重校验
// ChunkStore.Get 已经验过内容哈希；这里补上配方声明的长度检查，
// 并把序列位置和字节偏移填进 IntegrityError，让报错能定位到具体坏块。
func (e *Exporter) fetchVerified(ctx context.Context, asset *core.Asset, index int, offset int64) ([]byte, error) {
	ref := asset.Chunks[index]

	data, err := e.chunks.Get(ctx, ref.Cid.Hash)
	if err != nil {
		var integrityErr *core.IntegrityError
		if errors.As(err, &integrityErr) {
			integrityErr.Index = index
			integrityErr.Offset = offset
			return nil, integrityErr
		}
		return nil, fmt.Errorf("fetch chunk %d (%s) at offset %d: %w", index, ref.Cid.Hash.Short(), offset, err)
	}

	if int64(len(data)) != ref.Size {
		// 内容哈希对但长度和配方不符: 配方本身已经不可信了
		return nil, &core.IntegrityError{
			Expected: ref.Cid.Hash,
			Actual:   core.CalculateBlobHash(data),
			Index:    index,
			Offset:   offset,
		}
	}

	return data, nil
}
