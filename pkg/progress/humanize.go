// Human readable byte amounts and progress bars for transfer reporting
package progress

import (
	"fmt"
	"math"
	"time"
)

const (
	B   = 1
	kiB = 1024 * B
	MiB = 1024 * kiB
	GiB = 1024 * MiB
	TiB = 1024 * GiB
)

// zero is an unknown size (the estimate had no size line)
func Bytes(num uint64) string {
	switch {
	case num == 0:
		return "size unknown"
	case num >= TiB:
		return fmt.Sprintf("%.02f TiB", float64(num)/TiB)
	case num >= GiB:
		return fmt.Sprintf("%.02f GiB", float64(num)/GiB)
	case num >= MiB:
		return fmt.Sprintf("%.02f MiB", float64(num)/MiB)
	case num >= kiB:
		return fmt.Sprintf("%.02f kiB", float64(num)/kiB)
	default:
		return fmt.Sprintf("%d B", num)
	}
}

func Bar(pct int, barLength int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	r := make([]rune, barLength)

	ratio := float64(barLength) * float64(pct) / 100.0

	for i := 0; i < barLength; i++ {
		ch := '░'
		if float64(i+1) <= ratio {
			ch = '█'
		}

		r[i] = ch
	}

	return string(r)
}

// rounded to the largest unit that is non-zero, e.g. "2 days ago"
func Ago(age time.Duration) string {
	for _, unit := range []struct {
		size time.Duration
		name string
	}{
		{24 * time.Hour, "day"},
		{time.Hour, "hour"},
		{time.Minute, "minute"},
		{time.Second, "second"},
	} {
		count := int(math.Round(float64(age) / float64(unit.size)))

		switch {
		case count == 1:
			return "1 " + unit.name + " ago"
		case count > 1:
			return fmt.Sprintf("%d %ss ago", count, unit.name)
		}
	}

	return "just now"
}
