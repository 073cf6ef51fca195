package compress

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec 标识 Chunk 在后端落盘时使用的压缩算法
// 关键约定：Chunk 的 Hash 永远对【未压缩】字节计算，
// 所以换压缩算法不会影响去重，也不会影响任何对象身份。
type Codec string

const (
	CodecNone Codec = "none"
	CodecLZ4  Codec = "lz4"  // 快速默认值 (~2x 压缩比，解压极快)
	CodecZstd Codec = "zstd" // 更高压缩比，适合文本类 metadata
)

// Parse 从配置字符串解析 Codec
func Parse(name string) (Codec, error) {
	switch Codec(name) {
	case CodecNone, CodecLZ4, CodecZstd:
		return Codec(name), nil
	case "":
		return CodecZstd, nil // 默认值
	}
	return "", fmt.Errorf("unknown compression codec: %q", name)
}

// errIncompressible 表示压缩产物不比原始数据小 (内部信号，不对外暴露)
var errIncompressible = errors.New("incompressible data")

// zstd 的 Encoder/Decoder 都是并发安全的，全局复用避免重复初始化
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress 用指定算法压缩数据，返回压缩产物和实际生效的 Codec
// 如果数据不可压缩 (产物不比原文小)，自动退回 CodecNone 存原始字节——
// 媒体文件大多已经是压缩格式，这是常态而不是异常。
func Compress(codec Codec, data []byte) ([]byte, Codec, error) {
	if len(data) == 0 {
		return data, CodecNone, nil
	}

	switch codec {
	case CodecNone:
		return data, CodecNone, nil

	case CodecLZ4:
		out, err := compressLZ4(data)
		if errors.Is(err, errIncompressible) {
			return data, CodecNone, nil
		}
		if err != nil {
			return nil, "", err
		}
		return out, CodecLZ4, nil

	case CodecZstd:
		out := zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)))
		if len(out) >= len(data) {
			return data, CodecNone, nil
		}
		return out, CodecZstd, nil
	}

	return nil, "", fmt.Errorf("unsupported compression codec: %q", codec)
}

// Decompress 还原压缩数据
// originalSize 必须与原始长度完全一致，不一致视为数据损坏。
func Decompress(codec Codec, data []byte, originalSize int) ([]byte, error) {
	switch codec {
	case CodecNone:
		if len(data) != originalSize {
			return nil, fmt.Errorf("uncompressed chunk: size %d does not match expected %d", len(data), originalSize)
		}
		return data, nil

	case CodecLZ4:
		return decompressLZ4(data, originalSize)

	case CodecZstd:
		out, err := zstdDecoder.DecodeAll(data, make([]byte, 0, originalSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != originalSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), originalSize)
		}
		return out, nil
	}

	return nil, fmt.Errorf("unsupported compression codec: %q", codec)
}

// LZ4 使用 block 模式：chunk 本身有界 (MaxSize)，不需要流式帧
func compressLZ4(data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	dst := make([]byte, bound)

	written, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock 返回 0 表示数据不可压缩
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return dst[:written], nil
}

func decompressLZ4(data []byte, originalSize int) ([]byte, error) {
	dst := make([]byte, originalSize)
	read, err := lz4.UncompressBlock(data, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != originalSize {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, originalSize)
	}
	return dst, nil
}
