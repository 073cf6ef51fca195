package ingester

import (
	"bytes"
	"context"
	"fmt"
	mrand "math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mediavault/pkg/chunker"
	"mediavault/pkg/compress"
	"mediavault/pkg/exporter"
	"mediavault/pkg/meta"
	"mediavault/pkg/storage"
	"mediavault/pkg/store"
)

// smallOpts 用小块参数让几百 KB 的测试数据也能切出很多块
func smallOpts() chunker.Options {
	return chunker.Options{
		MinSize:   128,
		AvgSize:   512,
		MaxSize:   4096,
		NormLevel: 2,
	}
}

func setup(t *testing.T) (*Ingester, *store.ChunkStore, *storage.MemoryBackend) {
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
	return New(chunks, smallOpts()), chunks, backend
}

func randomBytes(seed int64, n int) []byte {
	rng := mrand.New(mrand.NewSource(seed))
	data := make([]byte, n)
	rng.Read(data)
	return data
}

func TestIngestStream_RoundTrip(t *testing.T) {
	ing, chunks, _ := setup(t)
	ctx := context.Background()

	content := randomBytes(1, 200*1024)

	asset, err := ing.IngestStream(ctx, bytes.NewReader(content), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(len(content)), asset.TotalSize)
	assert.Greater(t, len(asset.Chunks), 1, "应该被切分成多个块")

	// 还原并逐位比对
	var buf bytes.Buffer
	exp := exporter.NewExporter(chunks)
	require.NoError(t, exp.Materialize(ctx, asset, &buf))
	assert.Equal(t, content, buf.Bytes())
}

func TestIngestStream_EmptyFile(t *testing.T) {
	ing, _, _ := setup(t)
	ctx := context.Background()

	a1, err := ing.IngestStream(ctx, bytes.NewReader(nil), nil, nil)
	require.NoError(t, err)
	a2, err := ing.IngestStream(ctx, bytes.NewReader(nil), nil, nil)
	require.NoError(t, err)

	assert.Zero(t, a1.TotalSize)
	assert.Empty(t, a1.Chunks)
	// 空文件有规范的空序列哈希: 两次摄取身份一致
	assert.Equal(t, a1.ID(), a2.ID())
}

func TestIngestStream_DedupAcrossVersions(t *testing.T) {
	ing, _, backend := setup(t)
	ctx := context.Background()

	base := randomBytes(7, 128*1024)

	// 第二个版本只在末尾追加了一点
	edited := append(append([]byte{}, base...), []byte("appended tail edit")...)

	a1, err := ing.IngestStream(ctx, bytes.NewReader(base), nil, nil)
	require.NoError(t, err)
	before := backend.Len()

	a2, err := ing.IngestStream(ctx, bytes.NewReader(edited), nil, nil)
	require.NoError(t, err)

	// 尾部小改动只应该新增一两个物理块
	added := backend.Len() - before
	assert.LessOrEqual(t, added, 2, "追加编辑不应重存整个文件 (新增 %d 块)", added)

	// 两版的前缀块完全共享
	shared := 0
	for i := 0; i < len(a1.Chunks) && i < len(a2.Chunks); i++ {
		if a1.Chunks[i].Cid.Hash == a2.Chunks[i].Cid.Hash {
			shared++
		} else {
			break
		}
	}
	assert.GreaterOrEqual(t, shared, len(a1.Chunks)-1, "除受影响的尾块外应全部共享")
}

func TestIngestStream_MetadataOnlyChange(t *testing.T) {
	ing, _, _ := setup(t)
	ctx := context.Background()

	payload := randomBytes(11, 64*1024)

	a1, err := ing.IngestStream(ctx, bytes.NewReader(payload), []byte(`{"title":"draft"}`), nil)
	require.NoError(t, err)
	a2, err := ing.IngestStream(ctx, bytes.NewReader(payload), []byte(`{"title":"final"}`), nil)
	require.NoError(t, err)

	// 元数据变了: 新身份
	assert.NotEqual(t, a1.ID(), a2.ID())
	// payload 没变: 配方完全共享，没有重新上传
	assert.Equal(t, a1.ChunkHashes(), a2.ChunkHashes())
}

// failingReader 在吐出 limit 字节后返回错误
type failingReader struct {
	data  []byte
	pos   int
	limit int
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.pos >= r.limit {
		return 0, fmt.Errorf("simulated disk failure")
	}
	n := copy(p, r.data[r.pos:r.limit])
	r.pos += n
	return n, nil
}

func TestIngestStream_ReadFailureRollsBackRefs(t *testing.T) {
	ing, chunks, _ := setup(t)
	ctx := context.Background()

	data := randomBytes(23, 64*1024)
	reader := &failingReader{data: data, limit: 32 * 1024}

	asset, err := ing.IngestStream(ctx, reader, nil, nil)
	require.Error(t, err, "坏掉的流必须报错")
	assert.Nil(t, asset)

	// 关键不变量: 失败的摄取不能留下幻影引用
	// 已经写入的块引用计数应被回滚到 0 (等 GC 清理)
	full, err := ing.IngestStream(ctx, bytes.NewReader(data), nil, nil)
	require.NoError(t, err)
	for _, h := range full.ChunkHashes() {
		entry, err := chunks.Stat(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, int64(1), entry.RefCount, "只有成功的那次摄取算引用")
	}
}

func TestIngestStream_Cancellation(t *testing.T) {
	ing, _, _ := setup(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // 开始前就取消

	_, err := ing.IngestStream(ctx, bytes.NewReader(randomBytes(3, 64*1024)), nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIngestDir(t *testing.T) {
	ing, _, _ := setup(t)
	ctx := context.Background()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "footage"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "cache"), 0755))

	files := map[string][]byte{
		"readme.txt":       []byte("project notes"),
		"footage/a001.bin": randomBytes(31, 8*1024),
		"footage/a002.bin": randomBytes(32, 8*1024),
		"cache/tmp.dat":    []byte("should be ignored"),
		"render.log":       []byte("also ignored"),
		".env":             []byte("SECRET=1"),
	}
	for rel, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, rel), content, 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, ".mvignore"), []byte("cache\n*.log\n"), 0644))

	entries, err := ing.IngestDir(ctx, root)
	require.NoError(t, err)

	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	// .mvignore 自己会被摄取吗? 会——它不匹配任何规则，这是刻意的
	// (检出后忽略规则应该还在)
	assert.Equal(t, []string{".mvignore", "footage/a001.bin", "footage/a002.bin", "readme.txt"}, paths,
		"结果按路径排序，忽略规则和内建规则生效")

	for _, e := range entries {
		assert.NotNil(t, e.Asset)
	}
}

func TestIngestStream_HintsDoNotBreakRoundTrip(t *testing.T) {
	ing, chunks, _ := setup(t)
	ctx := context.Background()

	content := randomBytes(41, 100*1024)
	hints := []int64{10_000, 50_000, 90_000}

	asset, err := ing.IngestStream(ctx, bytes.NewReader(content), nil, hints)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, exporter.NewExporter(chunks).Materialize(ctx, asset, &buf))
	assert.Equal(t, content, buf.Bytes(), "提示永远不能破坏逐位还原")
}

func TestIngestFile_HintProviderEquivalentToExplicitHints(t *testing.T) {
	ing, chunks, _ := setup(t)
	ctx := context.Background()

	content := randomBytes(43, 100*1024)
	path := filepath.Join(t.TempDir(), "clip.bin")
	require.NoError(t, os.WriteFile(path, content, 0644))

	hints := []int64{20_000, 60_000}

	// 同一份提示，一次显式传入，一次通过 HintProvider 预扫描
	explicit, err := ing.IngestFile(ctx, path, nil, hints)
	require.NoError(t, err)

	viaProvider, err := ing.WithHintProvider(chunker.StaticHints(hints)).IngestFile(ctx, path, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, explicit.ID(), viaProvider.ID(), "两条路径必须产出相同的切分")

	var buf bytes.Buffer
	require.NoError(t, exporter.NewExporter(chunks).Materialize(ctx, viaProvider, &buf))
	assert.Equal(t, content, buf.Bytes())
}
