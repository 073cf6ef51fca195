// pkg/types/common.go
package types

// Hash 代表内容对象的唯一标识符 (SHA256 Hex String)
// 这是一个“值对象”，应当是不可变的。
type Hash string

func (h Hash) String() string { return string(h) }

// 验证 Hash 合法性
func (h Hash) IsZero() bool  { return h == "" }
func (h Hash) IsValid() bool { return len(h) == 64 } // 简单的长度检查

// Short 返回前 12 位，日志和 CLI 输出用
func (h Hash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// AssetHash 是 Asset 身份的哈希 (metadata + chunk 序列的规范 CBOR 编码)
// 注意：它不是 payload 字节的线性哈希，所以用独立类型提醒开发者。
type AssetHash string

func (h AssetHash) String() string { return string(h) }
func (h AssetHash) IsValid() bool  { return len(h) == 64 }

// 辅助转换 (显式转换，提醒开发者注意)
func (h AssetHash) ToHash() Hash { return Hash(h) }

type HashPrefix string

func (p HashPrefix) String() string { return string(p) }

// StorageTier 表示 Chunk 在存储后端的温度层级
// 它是存储侧的属性，与内容身份 (Hash) 完全无关。
type StorageTier string

const (
	TierStandard   StorageTier = "standard"
	TierInfrequent StorageTier = "infrequent"
	TierArchived   StorageTier = "archived"
)

func (t StorageTier) IsValid() bool {
	switch t {
	case TierStandard, TierInfrequent, TierArchived:
		return true
	}
	return false
}

type RepoPath string
