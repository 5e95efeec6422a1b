package journal

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/function61/gokit/assert"
)

func TestRecordAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(path)
	assert.Assert(t, err == nil)

	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.Assert(t, j.Record(Entry{Time: t0, Kind: KindSnapshot, Target: "lint@caz0001-20240101120000", OK: true}) == nil)
	assert.Assert(t, j.Record(Entry{Time: t0.Add(time.Minute), Kind: KindDestroy, Target: "lint@caz0000-20231231120000", OK: true}) == nil)
	assert.Assert(t, j.Record(Entry{Kind: KindTransfer, Target: "backup/lint", Detail: "lint@caz0000..caz0001", Error: "ingest failed"}) == nil)

	recent, err := j.Recent(2)
	assert.Assert(t, err == nil)
	assert.Assert(t, len(recent) == 2)
	assert.Assert(t, recent[0].Seq == 3)
	assert.Assert(t, recent[0].Kind == KindTransfer)
	assert.EqualString(t, recent[0].Error, "ingest failed")
	assert.Assert(t, !recent[0].Time.IsZero())
	assert.EqualString(t, recent[1].Target, "lint@caz0000-20231231120000")

	assert.Assert(t, j.Close() == nil)

	// survives reopening and keeps numbering
	j, err = Open(path)
	assert.Assert(t, err == nil)
	defer j.Close()

	assert.Assert(t, j.Record(Entry{Kind: KindJob, Target: "nightly-prune", OK: true}) == nil)

	all, err := j.Recent(0)
	assert.Assert(t, err == nil)
	assert.Assert(t, len(all) == 4)
	assert.Assert(t, all[0].Seq == 4)
	assert.Assert(t, all[3].Time.Equal(t0))
}

func TestNop(t *testing.T) {
	j := Nop()
	assert.Assert(t, j.Record(Entry{Kind: KindJob, Error: errors.New("x").Error()}) == nil)

	entries, err := j.Recent(10)
	assert.Assert(t, err == nil)
	assert.Assert(t, len(entries) == 0)
}
