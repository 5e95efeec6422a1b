package zfs

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
)

// reads the "size" line from `$ zfs send -nP` output. a missing size line is
// tolerated (=> 0), progress reporting just degrades.
func ParseSendEstimate(output []byte) (uint64, error) {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		fields := strings.Split(line, "\t")
		if fields[0] != "size" {
			continue
		}

		if len(fields) < 2 {
			return 0, &ParseError{"send estimate", line, "size line without value"}
		}

		size, err := strconv.ParseUint(strings.TrimSpace(fields[1]), 10, 64)
		if err != nil {
			return 0, &ParseError{"send estimate", line, err.Error()}
		}

		return size, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}

	return 0, nil
}
