package chunker

// gearTable 是 Gear 滚动哈希的查找表
// 表内容是协议常量：由固定种子的 SplitMix64 确定性生成，
// 任何改动都会让所有历史切点失效。
var gearTable = buildGearTable(0x9b1a5bdc3f4c2d60)

func buildGearTable(seed uint64) [256]uint64 {
	var table [256]uint64
	s := seed
	for i := range table {
		// SplitMix64 (Steele et al.)，无依赖且跨平台稳定
		s += 0x9e3779b97f4a7c15
		z := s
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		table[i] = z ^ (z >> 31)
	}
	return table
}
