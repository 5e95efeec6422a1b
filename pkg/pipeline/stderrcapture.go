package pipeline

import (
	"container/ring"
	"log"
	"strings"
	"sync"

	"github.com/function61/gokit/logex"
)

// splits written bytes into lines, logs each line and remembers the last few
// so they can be attached to a StageError
type stderrCapture struct {
	buf  []byte // before receiving \n
	tail *ring.Ring
	logl *logex.Leveled
	mu   sync.Mutex
}

func newStderrCapture(logger *log.Logger, tailLines int) *stderrCapture {
	s := &stderrCapture{
		buf:  []byte{},
		logl: logex.Levels(logex.NonNil(logger)),
	}

	if tailLines > 0 {
		s.tail = ring.New(tailLines)
	}

	return s
}

func (s *stderrCapture) Write(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = append(s.buf, data...)

	for {
		idx := strings.IndexByte(string(s.buf), '\n')
		if idx == -1 {
			break
		}

		s.line(string(s.buf[0:idx]))

		s.buf = s.buf[idx+1:]
	}

	return len(data), nil
}

// last lines joined with " | ", including an unterminated final line
func (s *stderrCapture) Tail() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := []string{}

	if s.tail != nil {
		s.tail.Do(func(val interface{}) {
			if line, ok := val.(string); ok && line != "" {
				lines = append(lines, line)
			}
		})
	}

	if partial := strings.TrimSpace(string(s.buf)); partial != "" {
		lines = append(lines, partial)
	}

	return strings.Join(lines, " | ")
}

func (s *stderrCapture) line(line string) {
	line = strings.TrimRight(line, "\r")

	s.logl.Debug.Println(line)

	if s.tail != nil {
		s.tail.Value = line
		s.tail = s.tail.Next()
	}
}
