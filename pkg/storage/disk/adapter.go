package disk

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"mediavault/pkg/storage"
	"mediavault/pkg/types"
)

// Adapter 实现了 storage.Backend 接口
type Adapter struct {
	rootPath string // 比如: /var/lib/mediavault/chunks
}

// NewAdapter 创建一个新的磁盘存储适配器
func NewAdapter(root string) (*Adapter, error) {
	// 确保根目录存在
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root storage dir: %w", err)
	}
	return &Adapter{rootPath: root}, nil
}

// layout 返回哈希对应的物理路径
// 策略：使用前 2 个字符作为子目录 (Sharding)，限制单目录扇出
// Example: hash "aabbcc..." -> root/aa/bbcc...
// 这只是物理摆放细节，不属于存储契约的一部分。
func (s *Adapter) layout(hash types.Hash) string {
	h := string(hash)
	if len(h) < 2 {
		return filepath.Join(s.rootPath, h)
	}
	return filepath.Join(s.rootPath, h[:2], h[2:])
}

func (s *Adapter) Put(ctx context.Context, hash types.Hash, data []byte) error {
	targetPath := s.layout(hash)

	// 1. 检查是否存在 (幂等性)
	if _, err := os.Stat(targetPath); err == nil {
		return nil // 已经存在，直接跳过 (CAS 的好处)
	}

	// 2. 准备目录
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// 3. 原子写入 (Atomic Write)
	// 技巧：先写到一个临时文件，然后 Rename。
	// 这样保证要么文件不存在，要么文件是完整的——
	// 并发写同一个 Hash 时，两个 Rename 落到同一个目标也没有问题，
	// 因为内容必然一致 (内容寻址)。
	tempFile, err := os.CreateTemp(dir, "temp-*")
	if err != nil {
		return err
	}
	// 确保临时文件会被清理（如果成功 Rename 了，这个删除会失效，或者无害）
	defer os.Remove(tempFile.Name())

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return err
	}
	tempFile.Close() // 必须先关闭才能 Rename

	// 4. 移动到最终位置
	if err := os.Rename(tempFile.Name(), targetPath); err != nil {
		return err
	}

	return nil
}

func (s *Adapter) Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error) {
	targetPath := s.layout(hash)

	f, err := os.Open(targetPath)
	if os.IsNotExist(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Adapter) Has(ctx context.Context, hash types.Hash) (bool, error) {
	targetPath := s.layout(hash)
	_, err := os.Stat(targetPath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *Adapter) Delete(ctx context.Context, hash types.Hash) error {
	err := os.Remove(s.layout(hash))
	if os.IsNotExist(err) {
		return nil // 幂等删除
	}
	return err
}

// ExpandHash 把短哈希前缀扩展为唯一的完整 Hash
// 实现方式：利用分片目录结构做 Glob 匹配
// "a8fd" -> glob "root/a8/fd*"
func (s *Adapter) ExpandHash(ctx context.Context, short types.HashPrefix) (types.Hash, error) {
	prefix := string(short)
	if len(prefix) < 4 {
		return "", fmt.Errorf("hash prefix too short: %q", prefix)
	}

	pattern := filepath.Join(s.rootPath, prefix[:2], prefix[2:]+"*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", err
	}

	switch len(matches) {
	case 0:
		return "", storage.ErrNotFound
	case 1:
		// 还原 Hash: 目录名 + 文件名
		return types.Hash(prefix[:2] + filepath.Base(matches[0])), nil
	default:
		return "", storage.ErrAmbiguousHash
	}
}
