package catalog

import (
	"math"
	"strconv"
)

var sizeUnits = []string{"K", "M", "G", "T", "P"}

// HumanSize renders a byte count with binary prefixes and one decimal,
// e.g. 1048576 -> "1.0M". Counts below 1 KiB are rendered as "512B".
func HumanSize(b int64) string {
	const unit = 1024
	if b < unit {
		if b < 0 {
			b = 0
		}
		return strconv.FormatInt(b, 10) + "B"
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit && exp < len(sizeUnits)-1; n /= unit {
		div *= unit
		exp++
	}
	v := float64(b) / float64(div)
	// 1023.96K prints as 1.0M, not 1024.0K.
	if math.Round(v*10) >= unit*10 && exp < len(sizeUnits)-1 {
		v /= unit
		exp++
	}
	var buf [24]byte
	s := strconv.AppendFloat(buf[:0], v, 'f', 1, 64)
	return string(s) + sizeUnits[exp]
}
