package docstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Key layout: d/<seq> holds a record, i/<id> maps an id to its seq, m/<key> holds metadata.
var (
	docPrefix  = []byte("d/")
	idPrefix   = []byte("i/")
	metaPrefix = []byte("m/")
)

// BadgerConfig holds configuration for a Badger document store.
type BadgerConfig struct {
	// Path is the directory for Badger files. Ignored when InMemory is true.
	Path string
	// InMemory keeps everything in RAM. Useful for testing.
	InMemory bool
	// SyncWrites fsyncs every write.
	SyncWrites bool
	// ReadOnly opens an existing store without write access.
	ReadOnly bool
	// Logger receives Badger's internal logging. nil disables it.
	Logger *slog.Logger
}

// Badger stores documents in an embedded Badger key-value store.
type Badger struct {
	db   *badger.DB
	path string

	mu  sync.Mutex
	seq uint64 // last assigned sequence
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadger opens a Badger document store.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent document store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if !cfg.ReadOnly {
			if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
				return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
			}
		}
		opts = badger.DefaultOptions(cfg.Path).WithReadOnly(cfg.ReadOnly)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	b := &Badger{db: db, path: cfg.Path}
	if err := b.loadSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// Path returns the store directory.
func (b *Badger) Path() string {
	return b.path
}

// Close closes the store.
func (b *Badger) Close() error {
	return b.db.Close()
}

func docKey(seq uint64) []byte {
	k := make([]byte, len(docPrefix)+8)
	copy(k, docPrefix)
	binary.BigEndian.PutUint64(k[len(docPrefix):], seq)
	return k
}

func prefixed(prefix []byte, s string) []byte {
	return append(append([]byte{}, prefix...), s...)
}

// loadSeq finds the highest sequence in use.
func (b *Badger) loadSeq() error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()
		seek := append(append([]byte{}, docPrefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		it.Seek(seek)
		b.mu.Lock()
		defer b.mu.Unlock()
		b.seq = 0
		if it.ValidForPrefix(docPrefix) {
			b.seq = binary.BigEndian.Uint64(it.Item().Key()[len(docPrefix):])
		}
		return nil
	})
}

// AddBatch inserts records in one transaction; known ids are skipped.
func (b *Badger) AddBatch(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.seq
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, r := range records {
			idKey := prefixed(idPrefix, r.ID)
			_, err := txn.Get(idKey)
			if err == nil {
				continue
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("check id %s: %w", r.ID, err)
			}
			val, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("encode record %s: %w", r.ID, err)
			}
			next++
			key := docKey(next)
			if err := txn.Set(key, val); err != nil {
				return err
			}
			if err := txn.Set(idKey, key[len(docPrefix):]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("add batch: %w", err)
	}
	b.seq = next
	return nil
}

// scan walks records in insertion order until fn returns false.
func (b *Badger) scan(fn func(r Record) bool) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = docPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(docPrefix); it.ValidForPrefix(docPrefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var r Record
			if err := json.Unmarshal(val, &r); err != nil {
				slog.Warn("docstore.badger.decode", "key", string(it.Item().Key()), "err", err)
				continue
			}
			if !fn(r) {
				return nil
			}
		}
		return nil
	})
}

// Get returns matching records ordered by insertion.
func (b *Badger) Get(where Filter, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	var result []Record
	skipped := 0
	err := b.scan(func(r Record) bool {
		if !where.Matches(r.Attrs) {
			return true
		}
		if skipped < offset {
			skipped++
			return true
		}
		result = append(result, r)
		return len(result) < limit
	})
	if err != nil {
		return nil, fmt.Errorf("get documents: %w", err)
	}
	return result, nil
}

// Count returns the number of matching records.
func (b *Badger) Count(where Filter) (int, error) {
	if len(where) == 0 {
		n := 0
		err := b.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = docPrefix
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Seek(docPrefix); it.ValidForPrefix(docPrefix); it.Next() {
				n++
			}
			return nil
		})
		return n, err
	}
	n := 0
	err := b.scan(func(r Record) bool {
		if where.Matches(r.Attrs) {
			n++
		}
		return true
	})
	return n, err
}

// Meta returns a collection metadata value.
func (b *Badger) Meta(key string) (string, bool, error) {
	var v []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(prefixed(metaPrefix, key))
		if err != nil {
			return err
		}
		v, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read meta: %w", err)
	}
	return string(v), true, nil
}

// SetMeta stores a collection metadata value.
func (b *Badger) SetMeta(key, value string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(prefixed(metaPrefix, key), []byte(value))
	})
}

// Empty reports whether the store holds no documents.
func (b *Badger) Empty() (bool, error) {
	n, err := b.Count(nil)
	return n == 0, err
}

// ReplicateFrom streams a Badger backup of the store at path straight into this one.
func (b *Badger) ReplicateFrom(path string) error {
	src, err := OpenBadger(BadgerConfig{Path: path, ReadOnly: true})
	if err != nil {
		return err
	}
	defer src.Close()

	pr, pw := io.Pipe()
	go func() {
		_, err := src.db.Backup(pw, 0)
		pw.CloseWithError(err)
	}()
	if err := b.db.Load(pr, 256); err != nil {
		_ = pr.CloseWithError(err)
		return fmt.Errorf("load backup: %w", err)
	}
	if err := b.loadSeq(); err != nil {
		return err
	}
	slog.Info("docstore.replicate", "from", path, "documents", b.seq)
	return nil
}
