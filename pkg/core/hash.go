package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"mediavault/pkg/types"

	"github.com/fxamacker/cbor/v2"
)

// 规范化 CBOR 编码选项
// 目标：相同的对象永远生成唯一的字节序列，进而生成唯一的 Hash。
var encOptions = cbor.EncOptions{
	// 强制 Map Key 排序 (Canonical)
	Sort: cbor.SortCanonical,

	// 浮点数不做缩短转换
	ShortestFloat: cbor.ShortestFloatNone,

	// 时间格式化为 Unix 整数，禁止自动生成 Tag 0/1
	Time:    cbor.TimeUnix,
	TimeTag: cbor.EncTagNone,

	// 禁止不定长编码：数组和 Map 必须在头部声明长度
	IndefLength: cbor.IndefLengthForbidden,

	// 大整数用最短编码
	BigIntConvert: cbor.BigIntConvertShortest,
}

// 全局复用的编码模式
var em, _ = encOptions.EncMode()

// 严格解码选项
var decOptions = cbor.DecOptions{
	// 防 DoS：限制容器元素数量和嵌套深度
	// MaxArrayElements 同时约束了单个 Asset 的 chunk 数上限
	MaxArrayElements: 1 << 20,
	MaxMapPairs:      1 << 20,
	MaxNestedLevels:  100,

	// 禁止不定长编码
	IndefLength: cbor.IndefLengthForbidden,

	// 禁止重复 Map Key
	DupMapKey: cbor.DupMapKeyEnforcedAPF,

	// Bignum Tag 必须显式处理，不自动解析
	BignumTag: cbor.BignumTagForbidden,

	// 忽略时间 Tag，由 Struct 类型决定解析方式
	TimeTag: cbor.DecTagIgnored,
}

// dm 供包内部使用 (如 link.go)
var dm, _ = decOptions.DecMode()

// CalculateHash 计算对象的规范编码和对应的 Hash
func CalculateHash(v any) (types.Hash, []byte, error) {
	data, err := em.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal object: %w", err)
	}

	hashBytes := sha256.Sum256(data)
	return types.Hash(hex.EncodeToString(hashBytes[:])), data, nil
}

// CalculateBlobHash 计算原始数据块的 Hash
// 这是 Chunk 身份的唯一来源：同样的字节永远得到同样的 Hash。
func CalculateBlobHash(data []byte) types.Hash {
	hashBytes := sha256.Sum256(data)
	return types.Hash(hex.EncodeToString(hashBytes[:]))
}

// DecodeObject 通用的解码函数 (供外部使用)
func DecodeObject(data []byte, v any) error {
	return dm.Unmarshal(data, v)
}
