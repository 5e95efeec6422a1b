// Append-only record of every mutation rack has issued
package journal

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/asdine/storm/codec/msgpack"
	bolt "go.etcd.io/bbolt"
)

type Kind string

const (
	KindSnapshot Kind = "snapshot"
	KindDestroy  Kind = "destroy"
	KindCreate   Kind = "create"
	KindTransfer Kind = "transfer"
	KindJob      Kind = "job"
	KindSync     Kind = "sync"
	KindBackup   Kind = "backup"
)

type Entry struct {
	Seq    uint64
	Time   time.Time
	Kind   Kind
	Target string // "fs@snap", filesystem, destination volume or job id
	Detail string
	OK     bool
	Error  string
}

type Journal interface {
	Record(entry Entry) error
	// newest first. limit <= 0 means all
	Recent(limit int) ([]Entry, error)
	Close() error
}

var entriesBucket = []byte("entries")

type boltJournal struct {
	db *bolt.DB
}

func Open(path string) (Journal, error) {
	db, err := bolt.Open(path, 0700, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &boltJournal{db}, nil
}

func (b *boltJournal) Record(entry Entry) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(entriesBucket)

		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}

		entry.Seq = seq
		if entry.Time.IsZero() {
			entry.Time = time.Now()
		}

		data, err := msgpack.Codec.Marshal(&entry)
		if err != nil {
			return err
		}

		return bucket.Put(seqKey(seq), data)
	})
}

func (b *boltJournal) Recent(limit int) ([]Entry, error) {
	entries := []Entry{}

	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(entriesBucket)
		if bucket == nil {
			return errors.New("journal: no bucket")
		}

		all := bucket.Cursor()
		for key, value := all.Last(); key != nil; key, value = all.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}

			entry := Entry{}
			if err := msgpack.Codec.Unmarshal(value, &entry); err != nil {
				return err
			}

			entries = append(entries, entry)
		}

		return nil
	})

	return entries, err
}

func (b *boltJournal) Close() error {
	return b.db.Close()
}

// big endian so that byte order == insertion order
func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

type nopJournal struct{}

// for when no journal file is configured
func Nop() Journal {
	return nopJournal{}
}

func (nopJournal) Record(Entry) error          { return nil }
func (nopJournal) Recent(int) ([]Entry, error) { return []Entry{}, nil }
func (nopJournal) Close() error                { return nil }
