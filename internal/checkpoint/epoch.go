package checkpoint

import (
	"regexp"
	"strconv"
)

// NoEpoch 文件名里没有 epoch 标记；排序时低于任何显式 epoch（包括 0）
const NoEpoch = -1

// 文件名末尾的 epoch-<digits>.<ext>，如 c0_run-0_epoch-12.pt
var epochRe = regexp.MustCompile(`(?i)epoch-([0-9]+)\.[^.]+$`)

// ParseEpoch 从检查点文件名中提取 epoch。
// 返回 (epoch, ok)；没有标记或数值溢出时返回 (NoEpoch, false)。
func ParseEpoch(name string) (int, bool) {
	m := epochRe.FindStringSubmatch(name)
	if len(m) < 2 {
		return NoEpoch, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return NoEpoch, false
	}
	return v, true
}
