package progress

import (
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/function61/gokit/logex"
)

const (
	// log a line every time progress advances at least this many percentage points
	logEveryPct = 10
	// .. or, when the total is unknown, this many bytes
	logEveryBytes = GiB
)

// PctLogger consumes the numeric output of a rate monitor and logs progress in
// coarse steps. used when nobody is watching a terminal. with a known total
// each line is an integer percentage, otherwise a count of bytes so far.
type PctLogger struct {
	label     string
	total     uint64
	buf       []byte
	lastPct   int
	lastBytes uint64
	logl      *logex.Leveled
	mu        sync.Mutex
}

func NewPctLogger(label string, total uint64, logger *log.Logger) *PctLogger {
	return &PctLogger{
		label:   label,
		total:   total,
		lastPct: -logEveryPct,
		logl:    logex.Levels(logex.NonNil(logger)),
	}
}

func (p *PctLogger) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf = append(p.buf, data...)

	for {
		idx := strings.IndexByte(string(p.buf), '\n')
		if idx == -1 {
			break
		}

		p.line(strings.TrimSpace(string(p.buf[:idx])))

		p.buf = p.buf[idx+1:]
	}

	return len(data), nil
}

func (p *PctLogger) line(line string) {
	if p.total == 0 {
		p.bytesLine(line)
	} else {
		p.pctLine(line)
	}
}

func (p *PctLogger) pctLine(line string) {
	pct, err := strconv.Atoi(line)
	if err != nil { // not a percentage, most likely an error message
		p.logl.Error.Printf("%s: %s", p.label, line)
		return
	}

	if pct-p.lastPct < logEveryPct && pct != 100 {
		return
	}

	p.lastPct = pct

	p.logl.Info.Printf("%s %s %3d%% of %s", p.label, Bar(pct, 20), pct, Bytes(p.total))
}

func (p *PctLogger) bytesLine(line string) {
	transferred, err := strconv.ParseUint(line, 10, 64)
	if err != nil {
		p.logl.Error.Printf("%s: %s", p.label, line)
		return
	}

	if transferred < p.lastBytes+logEveryBytes {
		return
	}

	p.lastBytes = transferred

	p.logl.Info.Printf("%s %s transferred", p.label, Bytes(transferred))
}
