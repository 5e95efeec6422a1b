// Logarithmic snapshot thinning keyed on the population count of the snapshot index
package retention

import (
	"fmt"
	"math/bits"

	"github.com/function61/rack/pkg/zfs"
)

type Decision struct {
	Snapshot string
	Index    uint
	Keep     bool
	Reason   string // "recent", "first of generation N", "generation N already kept"
}

// Decide walks the conventional snapshots of fs newest to oldest. the newest
// keepRecent are always kept. below that window the first snapshot seen of
// each popcount(index) is kept and every later (older) one with the same
// popcount is pruned. decisions are returned oldest first.
func Decide(inv *zfs.Inventory, fs *zfs.Filesystem, keepRecent int) []Decision {
	matching := inv.Matching(fs)

	decisions := make([]Decision, len(matching))
	generationSeen := map[int]bool{}

	for i := len(matching) - 1; i >= 0; i-- {
		snap := matching[i]
		index, _ := inv.SnapshotIndex(snap)

		dec := Decision{Snapshot: snap, Index: index}

		newestRank := len(matching) - 1 - i
		generation := bits.OnesCount(index)

		switch {
		case newestRank < keepRecent:
			dec.Keep = true
			dec.Reason = "recent"
		case !generationSeen[generation]:
			generationSeen[generation] = true
			dec.Keep = true
			dec.Reason = fmt.Sprintf("first of generation %d", generation)
		default:
			dec.Reason = fmt.Sprintf("generation %d already kept", generation)
		}

		decisions[i] = dec
	}

	return decisions
}

// snapshot names to destroy, oldest first. pure, nothing is deleted here.
func PruneCandidates(inv *zfs.Inventory, fs *zfs.Filesystem, keepRecent int) []string {
	candidates := []string{}

	for _, dec := range Decide(inv, fs, keepRecent) {
		if !dec.Keep {
			candidates = append(candidates, dec.Snapshot)
		}
	}

	return candidates
}
