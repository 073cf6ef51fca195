package core

import (
	"encoding/hex"
	"fmt"

	"mediavault/pkg/types"

	"github.com/fxamacker/cbor/v2"
)

// Link 代表对象之间的一条边 (指向子对象的哈希引用)
// 在 Go 层面，它只是一个包装了 Hash 的结构体
// 在 CBOR 层面，它会被序列化为 Tag 42 (0x00 + HashBytes)
type Link struct {
	Hash types.Hash
}

const linkTagNumber = 42

// NewLink 辅助函数
func NewLink(hash types.Hash) Link {
	return Link{Hash: hash}
}

// IsZero 表示空引用 (例如没有 metadata blob 的 Asset)
func (l Link) IsZero() bool { return l.Hash.IsZero() }

// MarshalCBOR 实现自定义序列化逻辑
// 规范：Tag 42, Content = [0x00, byte1, byte2...]
func (l Link) MarshalCBOR() ([]byte, error) {
	// 解码 Hex 字符串；空引用编码为只含前缀的字节串
	hashBytes, err := hex.DecodeString(string(l.Hash))
	if err != nil {
		return nil, fmt.Errorf("invalid hash format in link: %w", err)
	}

	// 添加 Identity 前缀 (0x00)，表示紧跟的是原始哈希
	cidBytes := append([]byte{0x00}, hashBytes...)

	return em.Marshal(cbor.Tag{
		Number:  linkTagNumber,
		Content: cidBytes,
	})
}

// UnmarshalCBOR 实现自定义反序列化逻辑
func (l *Link) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	if err := dm.Unmarshal(data, &tag); err != nil {
		return err
	}

	if tag.Number != linkTagNumber {
		return fmt.Errorf("expected tag 42 for Link, got %d", tag.Number)
	}

	bytes, ok := tag.Content.([]byte)
	if !ok {
		return fmt.Errorf("link content must be byte string")
	}

	if len(bytes) < 1 {
		return fmt.Errorf("invalid link: empty content")
	}
	if bytes[0] != 0x00 {
		return fmt.Errorf("invalid link: missing 0x00 identity prefix")
	}

	l.Hash = types.Hash(hex.EncodeToString(bytes[1:]))
	return nil
}
