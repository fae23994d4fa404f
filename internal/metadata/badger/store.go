// Package badger implements metadata.Store on top of BadgerDB, for daemons
// that need session metadata to survive a crash or restart. Keys are
// namespaced by prefix the same way pkg/metadata/badger does it upstream:
// a short ASCII tag, a separator, then the session id and path.
package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	bdg "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/vibefs/vibed/internal/logger"
	"github.com/vibefs/vibed/internal/metadata"
)

const (
	prefixRecord   = "rec:"
	prefixSnapshot = "snap:"
	// counterInodeKey is the single repo-wide inode allocator key: inode
	// ids are unique across every session in a repository's .vibe
	// directory, not just within one session, so the counter is not keyed
	// by session at all.
	counterInodeKey = "counter:inode"
)

// Store implements metadata.Store using an embedded BadgerDB instance.
type Store struct {
	db  *bdg.DB
	log *logger.Component
}

// Config controls how the underlying BadgerDB instance is opened.
type Config struct {
	// Path is the directory BadgerDB stores its LSM tree and value log in,
	// conventionally <repo>/.vibe/meta.
	Path string

	// InMemory runs BadgerDB entirely in memory, used by tests that want
	// the real codec path without touching disk.
	InMemory bool

	// ReadOnly opens the store without taking the write lock, for CLI
	// commands (ls, diff, ls --conflicts) that read the dirty set
	// directly rather than round-tripping through the daemon.
	ReadOnly bool
}

// Open creates or reopens a BadgerDB-backed Store at cfg.Path.
func Open(cfg Config) (*Store, error) {
	var opts bdg.Options
	if cfg.InMemory {
		opts = bdg.DefaultOptions("").WithInMemory(true)
	} else {
		opts = bdg.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLoggingLevel(bdg.WARNING).WithCompression(options.None).WithReadOnly(cfg.ReadOnly)

	db, err := bdg.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger metadata store at %s: %w", cfg.Path, err)
	}

	return &Store{db: db, log: logger.With("metadata")}, nil
}

func recordKey(session, path string) []byte {
	return []byte(prefixRecord + session + "\x00" + path)
}

func recordPrefix(session string) []byte {
	return []byte(prefixRecord + session + "\x00")
}

func snapshotKey(session, name string) []byte {
	return []byte(prefixSnapshot + session + "\x00" + name)
}

func snapshotPrefix(session string) []byte {
	return []byte(prefixSnapshot + session + "\x00")
}

func encodeRecord(rec metadata.InodeRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (metadata.InodeRecord, error) {
	var rec metadata.InodeRecord
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec)
	return rec, err
}

func (s *Store) Put(ctx context.Context, session string, rec metadata.InodeRecord) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("encode inode record: %w", err)
	}
	return s.db.Update(func(txn *bdg.Txn) error {
		return txn.Set(recordKey(session, rec.Path), data)
	})
}

func (s *Store) Get(ctx context.Context, session, path string) (metadata.InodeRecord, bool, error) {
	var rec metadata.InodeRecord
	var found bool

	err := s.db.View(func(txn *bdg.Txn) error {
		item, err := txn.Get(recordKey(session, path))
		if err == bdg.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			rec, err = decodeRecord(val)
			return err
		})
	})
	if err != nil {
		return metadata.InodeRecord{}, false, fmt.Errorf("get inode record %s/%s: %w", session, path, err)
	}
	return rec, found, nil
}

func (s *Store) Delete(ctx context.Context, session, path string) error {
	return s.db.Update(func(txn *bdg.Txn) error {
		return txn.Delete(recordKey(session, path))
	})
}

func (s *Store) List(ctx context.Context, session string) ([]metadata.InodeRecord, error) {
	var records []metadata.InodeRecord

	err := s.db.View(func(txn *bdg.Txn) error {
		it := txn.NewIterator(bdg.DefaultIteratorOptions)
		defer it.Close()

		prefix := recordPrefix(session)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				rec, err := decodeRecord(val)
				if err != nil {
					return err
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list inode records for session %s: %w", session, err)
	}
	return records, nil
}

// NextInode allocates the next inode id from the repository-wide counter,
// shared by every session in this .vibe directory: the session argument
// only appears in the returned error, since ids must stay unique across
// sessions, not just within one.
func (s *Store) NextInode(ctx context.Context, session string) (uint64, error) {
	var next uint64

	err := s.db.Update(func(txn *bdg.Txn) error {
		key := []byte(counterInodeKey)
		var current uint64 = metadata.FirstAllocatedNode

		item, err := txn.Get(key)
		switch {
		case err == bdg.ErrKeyNotFound:
			// leave current at the floor
		case err != nil:
			return err
		default:
			if ierr := item.Value(func(val []byte) error {
				current = binary.BigEndian.Uint64(val)
				return nil
			}); ierr != nil {
				return ierr
			}
		}

		next = current
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, current+1)
		return txn.Set(key, buf)
	})
	if err != nil {
		return 0, fmt.Errorf("allocate inode for session %s: %w", session, err)
	}
	return next, nil
}

// ClearRecords deletes every inode record for session, leaving the
// repository's inode counter and this session's stored snapshots
// untouched. Used to clear dirty marks on restore, where the session
// stays live and its already-issued inode ids must never be handed out
// again.
func (s *Store) ClearRecords(ctx context.Context, session string) error {
	return s.db.Update(func(txn *bdg.Txn) error {
		return deletePrefix(txn, recordPrefix(session))
	})
}

// DropSession deletes every record and snapshot for session. It never
// touches the repository-wide inode counter: that counter's ids must stay
// unique across every session a repository has ever spawned, not just the
// one being dropped. Called when a session is killed, i.e. when nothing
// about the session should ever be addressed again.
func (s *Store) DropSession(ctx context.Context, session string) error {
	return s.db.Update(func(txn *bdg.Txn) error {
		for _, prefix := range [][]byte{recordPrefix(session), snapshotPrefix(session)} {
			if err := deletePrefix(txn, prefix); err != nil {
				return err
			}
		}
		return nil
	})
}

func deletePrefix(txn *bdg.Txn, prefix []byte) error {
	it := txn.NewIterator(bdg.DefaultIteratorOptions)
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) PutSnapshot(ctx context.Context, snap metadata.SnapshotRecord) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot record: %w", err)
	}
	return s.db.Update(func(txn *bdg.Txn) error {
		return txn.Set(snapshotKey(snap.SessionID, snap.Name), buf.Bytes())
	})
}

func (s *Store) ListSnapshots(ctx context.Context, session string) ([]metadata.SnapshotRecord, error) {
	var snaps []metadata.SnapshotRecord

	err := s.db.View(func(txn *bdg.Txn) error {
		it := txn.NewIterator(bdg.DefaultIteratorOptions)
		defer it.Close()

		prefix := snapshotPrefix(session)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var snap metadata.SnapshotRecord
				if err := gob.NewDecoder(bytes.NewReader(val)).Decode(&snap); err != nil {
					return err
				}
				snaps = append(snaps, snap)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshots for session %s: %w", session, err)
	}

	sortSnapshotsNewestFirst(snaps)
	return snaps, nil
}

func sortSnapshotsNewestFirst(snaps []metadata.SnapshotRecord) {
	for i := 1; i < len(snaps); i++ {
		for j := i; j > 0 && snaps[j].CreatedAt.After(snaps[j-1].CreatedAt); j-- {
			snaps[j], snaps[j-1] = snaps[j-1], snaps[j]
		}
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

var _ metadata.Store = (*Store)(nil)
