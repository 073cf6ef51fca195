package core

import (
	"fmt"
	"sort"

	"mediavault/pkg/types"
)

// ManifestEntry 是一条 path -> asset 的映射
type ManifestEntry struct {
	Path string `cbor:"p"`
	Cid  Link   `cbor:"a"` // Asset 的身份哈希
	Size int64  `cbor:"s"` // payload 大小 (冗余字段，方便列表展示)
}

// Manifest 记录了一次提交里所有路径指向的 Asset
// 创建后不可变，由上层 commit 记录引用。
type Manifest struct {
	hash     types.Hash `cbor:"-"`
	rawBytes []byte     `cbor:"-"`

	TypeVal ObjectType      `cbor:"t"`
	Entries []ManifestEntry `cbor:"e"`
}

// NewManifest 创建一个提交清单
// 为了保证 Hash 的确定性，条目必须按路径排序处理；重复路径是非法输入。
func NewManifest(entries []ManifestEntry) (*Manifest, error) {
	sorted := make([]ManifestEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Path == sorted[i-1].Path {
			return nil, fmt.Errorf("duplicate path in manifest: %s", sorted[i].Path)
		}
	}

	m := &Manifest{
		TypeVal: TypeManifest,
		Entries: sorted,
	}
	h, b, err := CalculateHash(m)
	if err != nil {
		return nil, err
	}
	m.hash = h
	m.rawBytes = b
	return m, nil
}

// DecodeManifest 从序列化数据还原 Manifest
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := DecodeObject(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if m.TypeVal != TypeManifest {
		return nil, fmt.Errorf("object is not a manifest, got: %s", m.TypeVal)
	}

	h, b, err := CalculateHash(&m)
	if err != nil {
		return nil, err
	}
	m.hash = h
	m.rawBytes = b
	return &m, nil
}

func (m *Manifest) Type() ObjectType { return TypeManifest }
func (m *Manifest) ID() types.Hash   { return m.hash }
func (m *Manifest) Bytes() []byte    { return m.rawBytes }

// Lookup 按路径查找条目
func (m *Manifest) Lookup(path string) (ManifestEntry, bool) {
	i := sort.Search(len(m.Entries), func(i int) bool { return m.Entries[i].Path >= path })
	if i < len(m.Entries) && m.Entries[i].Path == path {
		return m.Entries[i], true
	}
	return ManifestEntry{}, false
}
