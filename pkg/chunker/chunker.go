package chunker

import (
	"fmt"
	"io"
	"math"
	"sort"
)

// 针对大型二进制媒体文件的默认配置 (单位: 字节)
const (
	DefaultMinSize   = 16 * 1024  // 16KB
	DefaultAvgSize   = 64 * 1024  // 64KB (生产环境可调到 1MB，测试环境用小一点方便观察)
	DefaultMaxSize   = 256 * 1024 // 256KB
	DefaultNormLevel = 2
)

// ConfigError 表示切分参数非法 (例如 min >= max)
// 配置错误必须在 New 阶段暴露，绝不能等到切分中途才发现。
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "chunker: invalid config: " + e.Reason
}

// Options 控制切分行为
// 注意：这些参数是“协议常量”——改动它们不会破坏正确性，
// 但会让新旧版本的切点错开，跨版本去重随之失效。
type Options struct {
	MinSize   int
	AvgSize   int // 必须是 2 的幂
	MaxSize   int
	NormLevel int // 归一化等级 (0-3)，越高块大小越接近 AvgSize

	// Hints 是外部解析器给出的偏好切点 (绝对偏移，必须升序)
	// 例如视频关键帧位置。HintTolerance 是吸附容差窗口。
	Hints         []int64
	HintTolerance int
}

// DefaultOptions 返回默认配置
func DefaultOptions() Options {
	return Options{
		MinSize:   DefaultMinSize,
		AvgSize:   DefaultAvgSize,
		MaxSize:   DefaultMaxSize,
		NormLevel: DefaultNormLevel,
	}
}

func (o *Options) validate() error {
	if o.MinSize < 64 {
		return &ConfigError{Reason: fmt.Sprintf("min size %d below 64 bytes", o.MinSize)}
	}
	if o.AvgSize&(o.AvgSize-1) != 0 {
		return &ConfigError{Reason: fmt.Sprintf("avg size %d is not a power of two", o.AvgSize)}
	}
	if o.MinSize >= o.AvgSize {
		return &ConfigError{Reason: fmt.Sprintf("min size %d >= avg size %d", o.MinSize, o.AvgSize)}
	}
	if o.AvgSize > o.MaxSize {
		return &ConfigError{Reason: fmt.Sprintf("avg size %d > max size %d", o.AvgSize, o.MaxSize)}
	}
	if o.NormLevel < 0 || o.NormLevel > 3 {
		return &ConfigError{Reason: fmt.Sprintf("norm level %d out of range [0,3]", o.NormLevel)}
	}
	if o.HintTolerance < 0 {
		return &ConfigError{Reason: "hint tolerance must be >= 0"}
	}
	if !sort.SliceIsSorted(o.Hints, func(i, j int) bool { return o.Hints[i] < o.Hints[j] }) {
		return &ConfigError{Reason: "hints must be sorted ascending"}
	}
	return nil
}

// Chunk 是切分器产出的一个完整块
type Chunk struct {
	// Data 是块的原始字节。它是内部滑动窗口的一个切片，
	// 仅在下一次调用 Next 之前有效，需要持有时必须拷贝。
	Data []byte

	// Offset 是块在源数据流中的起始偏移 (仅溯源用，不参与身份)
	Offset int64

	// Length == len(Data)
	Length int

	// HintSnapped 表示切点是被格式提示吸附的，而不是纯内容定义的
	HintSnapped bool
}

// Chunker 基于 Gear 滚动哈希做内容定义切分 (CDC)
// 它以有界内存的滑动窗口流式工作，不要求整个文件驻留内存。
type Chunker struct {
	opts  Options
	maskS uint64 // 严掩码 (归一化区域，更难命中)
	maskL uint64 // 宽掩码 (普通区域，更容易命中)

	reader    io.Reader
	buf       []byte
	bufCursor int
	bufEnd    int
	streamPos int64
	readerEOF bool

	hints []int64 // 尚未消费的提示 (升序)
}

// New 创建一个流式切分器
// 同样的字节 + 同样的 Options 永远产出同样的切点，这是去重的根基。
func New(r io.Reader, opts Options) (*Chunker, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	// 预计算掩码
	bits := int(math.Round(math.Log2(float64(opts.AvgSize))))

	// 窗口至少容纳两个最大块，减少 read 系统调用
	bufSize := opts.MaxSize * 2

	hints := make([]int64, len(opts.Hints))
	copy(hints, opts.Hints)

	return &Chunker{
		opts:      opts,
		maskS:     uint64(1<<(bits+opts.NormLevel)) - 1,
		maskL:     uint64(1<<(bits-opts.NormLevel)) - 1,
		reader:    r,
		buf:       make([]byte, bufSize),
		bufCursor: bufSize,
		bufEnd:    bufSize,
		hints:     hints,
	}, nil
}

// fillBuffer 把未消费的尾部挪到窗口头部，然后从 reader 补满
// 只要窗口里还有 >= MaxSize 字节，就不需要真正读取。
func (c *Chunker) fillBuffer() error {
	available := c.bufEnd - c.bufCursor
	if available >= c.opts.MaxSize {
		return nil
	}

	copy(c.buf[:available], c.buf[c.bufCursor:c.bufEnd])
	c.bufCursor = 0

	if c.readerEOF {
		c.bufEnd = available
		return nil
	}

	n, err := io.ReadFull(c.reader, c.buf[available:])
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		// 正常收尾：流读完了
		c.bufEnd = available + n
		c.readerEOF = true
		return nil
	}
	if err != nil {
		// IO 错误原样上抛，让调用方决定是否重试
		return fmt.Errorf("chunker: read stream at offset %d: %w", c.streamPos+int64(available), err)
	}
	c.bufEnd = available + n
	return nil
}

// Next 返回下一个完整块，流结束时返回 io.EOF
// 返回的 Chunk.Data 仅在下一次调用 Next 前有效。
func (c *Chunker) Next() (Chunk, error) {
	if err := c.fillBuffer(); err != nil {
		return Chunk{}, err
	}
	if c.bufEnd-c.bufCursor == 0 {
		return Chunk{}, io.EOF
	}

	window := c.buf[c.bufCursor:c.bufEnd]
	length, snapped := c.cut(window, c.streamPos)

	chunk := Chunk{
		Data:        window[:length],
		Offset:      c.streamPos,
		Length:      length,
		HintSnapped: snapped,
	}

	c.bufCursor += length
	c.streamPos += int64(length)
	c.consumeHints()

	return chunk, nil
}

// consumeHints 丢弃已经被流位置越过的提示
func (c *Chunker) consumeHints() {
	for len(c.hints) > 0 && c.hints[0] <= c.streamPos {
		c.hints = c.hints[1:]
	}
}

// nextHint 返回落在当前块合法切分区间内的第一个提示 (相对长度)
// 没有时返回 -1。
func (c *Chunker) nextHint(base int64, maxLimit int) int {
	for _, h := range c.hints {
		rel := h - base
		if rel <= int64(c.opts.MinSize) {
			continue // 提示落在最小块约束之前，无法吸附
		}
		if rel > int64(maxLimit) {
			return -1 // 提示在本块范围之外
		}
		return int(rel)
	}
	return -1
}

// cut 在窗口内找一个切点，返回块长度和是否被提示吸附
// 核心规则：
//  1. 剩余不足 MinSize，整体作为最后一块收尾
//  2. [min, avg) 区间用严掩码，[avg, max) 区间用宽掩码 (归一化)
//  3. 扫到 max 还没命中，强制切分
//  4. 有提示时，容差窗口内离提示最近的合格切点优先
func (c *Chunker) cut(data []byte, base int64) (int, bool) {
	n := len(data)
	if n <= c.opts.MinSize {
		return n, false // 最后一块允许小于 MinSize
	}

	normLimit := min(c.opts.AvgSize, n)
	maxLimit := min(c.opts.MaxSize, n)

	hint := c.nextHint(base, maxLimit)

	// scanEnd: 没有提示时遇到第一个合格切点就可以返回；
	// 有提示时要扫到 hint+tolerance 为止，找离提示最近的合格切点。
	firstCut := -1
	bestCut := -1
	bestDist := math.MaxInt

	fp := uint64(0)
	for idx := c.opts.MinSize; idx < maxLimit; idx++ {
		fp = (fp << 1) + gearTable[data[idx]]

		mask := c.maskL
		if idx < normLimit {
			mask = c.maskS
		}
		if (fp & mask) != 0 {
			continue
		}

		cutLen := idx + 1
		if hint < 0 {
			return cutLen, false
		}

		if firstCut < 0 {
			firstCut = cutLen
		}
		if dist := abs(cutLen - hint); dist <= c.opts.HintTolerance && dist < bestDist {
			bestCut = cutLen
			bestDist = dist
		}

		// 越过容差窗口之后不会再出现更优吸附点，
		// 此时要么用吸附点，要么退回第一个合格切点。
		if cutLen > hint+c.opts.HintTolerance {
			break
		}
	}

	if bestCut > 0 {
		return bestCut, true
	}
	if firstCut > 0 {
		return firstCut, false
	}

	// 强制切分：正确性永远不依赖哈希命中
	return maxLimit, false
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
