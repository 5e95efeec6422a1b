package progress

import (
	"bytes"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/function61/gokit/assert"
)

func TestBytes(t *testing.T) {
	for _, tc := range []struct {
		input  uint64
		output string
	}{
		{0, "size unknown"},
		{1, "1 B"},
		{1024, "1.00 kiB"},
		{1572864, "1.50 MiB"},
		{1073741824, "1.00 GiB"},
		{1649267441664, "1.50 TiB"},
	} {
		t.Run(tc.output, func(t *testing.T) {
			assert.EqualString(t, Bytes(tc.input), tc.output)
		})
	}
}

func TestAgo(t *testing.T) {
	for _, tc := range []struct {
		input  string
		output string
	}{
		{"0s", "just now"},
		{"499ms", "just now"},
		{"1s", "1 second ago"},
		{"29s", "29 seconds ago"},
		{"30s", "1 minute ago"},
		{"89m", "1 hour ago"},
		{"90m", "2 hours ago"},
		{"12h", "1 day ago"},
		{"36h", "2 days ago"},
	} {
		t.Run(tc.input, func(t *testing.T) {
			dur, err := time.ParseDuration(tc.input)
			assert.Assert(t, err == nil)

			assert.EqualString(t, Ago(dur), tc.output)
		})
	}
}

func TestBar(t *testing.T) {
	assert.EqualString(t, Bar(0, 10), "░░░░░░░░░░")
	assert.EqualString(t, Bar(50, 10), "█████░░░░░")
	assert.EqualString(t, Bar(130, 10), "██████████")
	assert.EqualString(t, Bar(-5, 4), "░░░░")
}

func TestPctLogger(t *testing.T) {
	out := &bytes.Buffer{}

	pct := NewPctLogger("lint@caz0001", 2048, log.New(out, "", 0))

	_, _ = pct.Write([]byte("0\n3\n9\n1"))
	_, _ = pct.Write([]byte("2\n55\nbroken pipe\n100\n"))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")

	assert.Assert(t, len(lines) == 5)
	assert.Assert(t, strings.HasSuffix(lines[0], "lint@caz0001 ░░░░░░░░░░░░░░░░░░░░   0% of 2.00 kiB"))
	assert.Assert(t, strings.HasSuffix(lines[1], " 12% of 2.00 kiB"))
	assert.Assert(t, strings.HasSuffix(lines[2], " 55% of 2.00 kiB"))
	assert.Assert(t, strings.Contains(lines[3], "lint@caz0001: broken pipe"))
	assert.Assert(t, strings.HasSuffix(lines[4], "lint@caz0001 ████████████████████ 100% of 2.00 kiB"))
}

func TestPctLoggerUnknownTotalLogsBytes(t *testing.T) {
	out := &bytes.Buffer{}

	counter := NewPctLogger("lint@caz0001", 0, log.New(out, "", 0))

	_, _ = counter.Write([]byte("0\n1048576\n1073741824\n1500000000\n"))
	_, _ = counter.Write([]byte("2147483648\nbroken pipe\n"))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")

	assert.Assert(t, len(lines) == 3)
	assert.Assert(t, strings.HasSuffix(lines[0], "lint@caz0001 1.00 GiB transferred"))
	assert.Assert(t, strings.HasSuffix(lines[1], "lint@caz0001 2.00 GiB transferred"))
	assert.Assert(t, strings.Contains(lines[2], "lint@caz0001: broken pipe"))
}
