// Test doubles for packages built on zfs.Runner
package zfstest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/function61/rack/pkg/zfs"
)

// FakeRunner replays canned output keyed by the full command line and records
// every command it is asked to run
type FakeRunner struct {
	Outputs  map[string]string
	Failures map[string]error
	commands []string
	mu       sync.Mutex
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		Outputs:  map[string]string{},
		Failures: map[string]error{},
	}
}

func (f *FakeRunner) Output(_ context.Context, args []string) ([]byte, error) {
	key := f.record(args)

	if err := f.failure(key); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	output, found := f.Outputs[key]
	if !found {
		return nil, &zfs.CommandError{Args: args, ExitCode: 1, Err: errors.New("no canned output for: " + key)}
	}

	return []byte(output), nil
}

func (f *FakeRunner) Run(_ context.Context, args []string) error {
	return f.failure(f.record(args))
}

// every command seen so far, space-joined
func (f *FakeRunner) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string{}, f.commands...)
}

// commands seen so far that start with the given words
func (f *FakeRunner) CommandsLike(prefix string) []string {
	matching := []string{}
	for _, cmd := range f.Commands() {
		if strings.HasPrefix(cmd, prefix) {
			matching = append(matching, cmd)
		}
	}

	return matching
}

func (f *FakeRunner) record(args []string) string {
	key := strings.Join(args, " ")

	f.mu.Lock()
	defer f.mu.Unlock()

	f.commands = append(f.commands, key)

	return key
}

func (f *FakeRunner) failure(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.Failures[key]
}

var _ zfs.Runner = (*FakeRunner)(nil)
