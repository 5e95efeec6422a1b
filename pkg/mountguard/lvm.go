package mountguard

// live filesystems on LVM get a point-in-time copy by snapshotting their logical volume

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/function61/gokit/cryptorandombytes"
	"github.com/prometheus/procfs"
)

// LvmSnapshot snapshots the logical volume holding path and mounts the snapshot
// read-only at mountDir (an existing empty directory). Mount.Dir is path as
// seen inside the snapshot. on failure everything created so far is removed.
func (g *Guard) LvmSnapshot(path string, snapshotSize string, mountDir string) (*Mount, error) {
	path = filepath.Clean(path)
	mountDir = filepath.Clean(mountDir)

	mounts, err := g.checkBindDir(mountDir)
	if err != nil {
		return nil, err
	}

	mountOfOrigin := mountForPath(path, mounts)
	if mountOfOrigin == nil {
		return nil, errors.New("unable to resolve mount for path")
	}

	snapshotID := g.newSnapID()

	g.logl.Info.Printf("snapshotting %s (%s) as %s", mountOfOrigin.Device, mountOfOrigin.Mount, snapshotID)

	if err := g.exec(
		"lvcreate",
		"--snapshot",
		"--size", snapshotSize,
		"--name", snapshotID,
		mountOfOrigin.Device,
	); err != nil {
		return nil, err
	}

	// we don't know the *device name* of the snapshot before using this command
	lvsOutput, err := g.run("lvs", "--noheadings", "--options", "lv_name,lv_path")
	if err != nil {
		return nil, err
	}

	snapshotDevicePath := devicePathFromLvsOutput(snapshotID, lvsOutput)
	if snapshotDevicePath == "" {
		return nil, fmt.Errorf("failed to resolve path of snapshot %s from lvs output, remove it manually", snapshotID)
	}

	removeSnapshot := func() error {
		g.logl.Info.Printf("removing snapshot %s", snapshotDevicePath)

		return g.exec("lvremove", "--force", snapshotDevicePath)
	}

	if err := g.exec("mount", "-r", "-t", mountOfOrigin.Type, snapshotDevicePath, mountDir); err != nil {
		if errRemove := removeSnapshot(); errRemove != nil {
			g.logl.Error.Printf("cleanup: %v", errRemove)
		}

		return nil, err
	}

	mount := newMount(snapshotDevicePath, mountDir, originPathInSnapshot(path, mountOfOrigin.Mount, mountDir))
	mount.cleanups = append(mount.cleanups, removeSnapshot, func() error {
		g.logl.Info.Printf("unmounting %s", mountDir)

		return g.exec("umount", mountDir)
	})

	return mount, nil
}

func mountForPath(path string, mounts []*procfs.Mount) *procfs.Mount {
	var longestMatchingMount *procfs.Mount

	for _, mount := range mounts {
		if !pathUnder(path, mount.Mount) {
			continue
		}

		if longestMatchingMount != nil && len(mount.Mount) <= len(longestMatchingMount.Mount) {
			continue
		}

		longestMatchingMount = mount
	}

	return longestMatchingMount
}

// "/homework" is not under "/home"
func pathUnder(path string, dir string) bool {
	return dir == "/" || path == dir || strings.HasPrefix(path, dir+"/")
}

func originPathInSnapshot(originPath string, mountPoint string, snapshotPath string) string {
	if mountPoint == "/" {
		return filepath.Join(snapshotPath, originPath)
	}

	return filepath.Join(snapshotPath, originPath[len(mountPoint):])
}

// see test for output example
var devicePathFromLvsOutputRe = regexp.MustCompile("^  ([^ ]+) +(.+)")

func devicePathFromLvsOutput(name string, output []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		matches := devicePathFromLvsOutputRe.FindStringSubmatch(scanner.Text())
		if matches == nil {
			continue
		}

		if matches[1] == name {
			return strings.TrimSpace(matches[2])
		}
	}

	return ""
}

func randomSnapID() string {
	return "rack-" + cryptorandombytes.Hex(4)
}
