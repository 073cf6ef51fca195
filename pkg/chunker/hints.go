package chunker

import "io"

// HintProvider 是格式感知切点提示的窄接口
// 由外部格式解析器实现 (例如视频关键帧探测、容器 atom 边界)。
// Chunker 只依赖这个接口，永远不依赖具体格式解析器。
//
// 返回的偏移必须升序。提示只是“偏好”：吸附失败时退回纯内容定义切点，
// 正确性永远不依赖提示被采纳。
type HintProvider interface {
	// Hints 扫描数据流，返回建议的切分偏移 (升序)
	// 实现可以只读流的头部；返回空切片表示没有建议。
	Hints(r io.Reader) ([]int64, error)
}

// StaticHints 把一组固定偏移包装成 HintProvider
// 主要用于测试，以及上游已经算好切点的场景 (例如暂存上传时随附的关键帧表)。
type StaticHints []int64

func (s StaticHints) Hints(_ io.Reader) ([]int64, error) {
	out := make([]int64, len(s))
	copy(out, s)
	return out, nil
}
