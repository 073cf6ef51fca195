package core

import (
	"fmt"

	"mediavault/pkg/types"
)

// IntegrityError 表示读取到的字节重哈希后与期望的 Hash 不一致
// 这是数据损坏信号：绝不自动重试，绝不返回损坏的字节，直接上抛给调用方。
type IntegrityError struct {
	Expected types.Hash
	Actual   types.Hash
	Index    int   // 在 chunk 序列中的位置，单对象场景为 -1
	Offset   int64 // 在还原后字节流中的偏移
}

func (e *IntegrityError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("integrity violation: chunk %d at byte offset %d: expected %s, got %s",
			e.Index, e.Offset, e.Expected, e.Actual)
	}
	return fmt.Sprintf("integrity violation: expected %s, got %s", e.Expected, e.Actual)
}

// VerifyBlob 对原始字节做完整性校验
func VerifyBlob(expected types.Hash, data []byte) error {
	actual := CalculateBlobHash(data)
	if actual != expected {
		return &IntegrityError{Expected: expected, Actual: actual, Index: -1}
	}
	return nil
}
