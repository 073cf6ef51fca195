package core

import "mediavault/pkg/types"

// ObjectType 定义了 MediaVault 中的对象类型
type ObjectType string

const (
	TypeChunk    ObjectType = "chunk"    // 原始数据块 (payload chunk 或 metadata blob)
	TypeAsset    ObjectType = "asset"    // 单个文件一个版本的“配方” (metadata + chunk 序列)
	TypeManifest ObjectType = "manifest" // 一次提交的 path -> asset 映射
)

// Object 是所有内容寻址对象的通用接口
type Object interface {
	// Type 返回对象类型
	Type() ObjectType

	// ID 返回对象的内容哈希
	// 注意：在对象被密封(Seal/Serialize)之前，这可能为空
	ID() types.Hash

	// Bytes 返回对象的序列化数据 (用于存储)
	Bytes() []byte
}
