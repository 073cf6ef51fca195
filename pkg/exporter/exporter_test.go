package exporter

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mediavault/pkg/compress"
	"mediavault/pkg/core"
	"mediavault/pkg/meta"
	"mediavault/pkg/storage"
	"mediavault/pkg/store"
)

// setup 构建内存后端 + SQLite 内存索引的完整测试环境
func setup(t *testing.T) (*Exporter, *store.ChunkStore, *storage.MemoryBackend) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	metaDB := meta.NewWithConn(db)
	require.NoError(t, metaDB.AutoMigrate(&meta.ChunkEntry{}, &meta.AssetModel{}, &meta.ManifestModel{}))

	backend := storage.NewMemoryBackend()
	chunks := store.New(backend, meta.NewRepository(metaDB), store.Config{Codec: compress.CodecNone})
	return NewExporter(chunks), chunks, backend
}

// storeAsset 把若干段字节写入仓库并组装成 Asset
func storeAsset(t *testing.T, chunks *store.ChunkStore, parts ...[]byte) *core.Asset {
	t.Helper()
	ctx := context.Background()

	var refs []core.ChunkRef
	var total int64
	for _, part := range parts {
		hash, err := chunks.Put(ctx, part)
		require.NoError(t, err)
		refs = append(refs, core.ChunkRef{Cid: core.Link{Hash: hash}, Size: int64(len(part))})
		total += int64(len(part))
	}

	asset, err := core.NewAsset(core.CalculateBlobHash([]byte("meta")), total, refs)
	require.NoError(t, err)
	return asset
}

func TestExporter_MaterializeRoundTrip(t *testing.T) {
	exp, chunks, _ := setup(t)

	p1 := bytes.Repeat([]byte("alpha-"), 100)
	p2 := bytes.Repeat([]byte("beta-"), 200)
	p3 := []byte("tail")
	asset := storeAsset(t, chunks, p1, p2, p3)

	var buf bytes.Buffer
	require.NoError(t, exp.Materialize(context.Background(), asset, &buf))

	want := append(append(append([]byte{}, p1...), p2...), p3...)
	assert.Equal(t, want, buf.Bytes(), "拼接结果必须和原始输入逐位一致")
}

func TestExporter_MaterializeEmptyAsset(t *testing.T) {
	exp, chunks, _ := setup(t)
	asset := storeAsset(t, chunks) // 零个 Chunk

	var buf bytes.Buffer
	require.NoError(t, exp.Materialize(context.Background(), asset, &buf))
	assert.Zero(t, buf.Len(), "空文件还原出零字节")
}

func TestExporter_MaterializeRange(t *testing.T) {
	exp, chunks, _ := setup(t)

	// 三个定长块: [0,100) [100,250) [250,300)
	p1 := bytes.Repeat([]byte("A"), 100)
	p2 := bytes.Repeat([]byte("B"), 150)
	p3 := bytes.Repeat([]byte("C"), 50)
	asset := storeAsset(t, chunks, p1, p2, p3)
	full := append(append(append([]byte{}, p1...), p2...), p3...)

	ctx := context.Background()
	cases := []struct {
		name           string
		offset, length int64
	}{
		{"跨越边界", 80, 60},
		{"单块内部", 120, 10},
		{"整文件", 0, 300},
		{"负长度读到末尾", 250, -1},
		{"零长度", 100, 0},
		{"恰好一整块", 100, 150},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, exp.MaterializeRange(ctx, asset, tc.offset, tc.length, &buf))

			end := tc.offset + tc.length
			if tc.length < 0 {
				end = asset.TotalSize
			}
			assert.True(t, bytes.Equal(full[tc.offset:end], buf.Bytes()),
				"区间读取必须等价于整文件的切片")
		})
	}

	// 越界区间要报错: 起点越界时负长度也不能悄悄变成空读
	var buf bytes.Buffer
	assert.Error(t, exp.MaterializeRange(ctx, asset, 290, 100, &buf))
	assert.Error(t, exp.MaterializeRange(ctx, asset, -1, 10, &buf))
	assert.Error(t, exp.MaterializeRange(ctx, asset, 301, -1, &buf))
	assert.Zero(t, buf.Len())
}

func TestExporter_CorruptionAborts(t *testing.T) {
	exp, chunks, backend := setup(t)

	p1 := bytes.Repeat([]byte("good"), 64)
	p2 := bytes.Repeat([]byte("evil"), 64)
	asset := storeAsset(t, chunks, p1, p2)

	// 损坏第二个 Chunk 的底层字节
	require.True(t, backend.Corrupt(asset.Chunks[1].Cid.Hash))

	var buf bytes.Buffer
	err := exp.Materialize(context.Background(), asset, &buf)

	var integrityErr *core.IntegrityError
	require.ErrorAs(t, err, &integrityErr)
	assert.Equal(t, 1, integrityErr.Index, "报错必须定位到坏块的序列位置")
	assert.Equal(t, int64(len(p1)), integrityErr.Offset, "报错必须给出字节偏移")
}

func TestExporter_RecipeSizeMismatch(t *testing.T) {
	exp, chunks, _ := setup(t)
	ctx := context.Background()

	data := []byte("honest content")
	hash, err := chunks.Put(ctx, data)
	require.NoError(t, err)

	// 配方声明的长度和实际内容不符
	lying := core.ChunkRef{Cid: core.Link{Hash: hash}, Size: int64(len(data)) + 7}
	asset, err := core.NewAsset(core.CalculateBlobHash([]byte("m")), lying.Size, []core.ChunkRef{lying})
	require.NoError(t, err)

	var buf bytes.Buffer
	err = exp.Materialize(ctx, asset, &buf)

	var integrityErr *core.IntegrityError
	require.ErrorAs(t, err, &integrityErr)
	assert.Zero(t, buf.Len(), "校验失败前不能写出任何字节")
}

func TestExporter_MaterializeToFile_NoPartialOutput(t *testing.T) {
	exp, chunks, backend := setup(t)

	p1 := bytes.Repeat([]byte("1234"), 64)
	p2 := bytes.Repeat([]byte("5678"), 64)
	asset := storeAsset(t, chunks, p1, p2)

	dir := t.TempDir()
	target := filepath.Join(dir, "restored.bin")

	// 1. 正常落盘
	require.NoError(t, exp.MaterializeToFile(context.Background(), asset, target))
	written, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, p1...), p2...), written)

	// 2. 损坏后重导: 不许留下半截文件
	require.True(t, backend.Corrupt(asset.Chunks[0].Cid.Hash))
	broken := filepath.Join(dir, "broken.bin")
	err = exp.MaterializeToFile(context.Background(), asset, broken)
	require.Error(t, err)

	_, statErr := os.Stat(broken)
	assert.True(t, os.IsNotExist(statErr), "失败的导出不能留下目标文件")
}
