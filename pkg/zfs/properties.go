package zfs

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/samber/lo"
)

const mountpointProperty = "mountpoint"

type Property struct {
	Entity string
	Name   string
	Value  string
	Source string // "local", "received", "default", "inherited from ..", "-"
}

// explicitly set on the entity itself (vs. inherited or default)
func (p Property) IsExplicit() bool {
	return p.Source == "local" || p.Source == "received"
}

// parses `$ zfs get -H -o name,property,value,source` output
func ParseProperties(output []byte) ([]Property, error) {
	props := []Property{}

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		fields := strings.Split(line, "\t")
		if len(fields) != 4 {
			return nil, &ParseError{"get", line, fmt.Sprintf("expected 4 fields, got %d", len(fields))}
		}

		props = append(props, Property{
			Entity: fields[0],
			Name:   fields[1],
			Value:  fields[2],
			Source: fields[3],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return props, nil
}

// properties to copy onto a replica when creating it. mountpoint is left out so
// the replica does not get mounted over the source.
func PropagatedProperties(props []Property) []Property {
	return lo.Filter(props, func(p Property, _ int) bool {
		return p.IsExplicit() && p.Name != mountpointProperty
	})
}
