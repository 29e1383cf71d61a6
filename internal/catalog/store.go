package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

// Store persists discovered entries so repeated startups can skip probing
// providers. The format is internal.
type Store interface {
	SaveDiscovered(entries []ModelDescriptor, at time.Time) error
	LoadDiscovered() ([]ModelDescriptor, time.Time, error)
	Close() error
}

var (
	modelPrefix  = []byte("model/")
	refreshedKey = []byte("meta/refreshed_at")
)

type storedModel struct {
	Order      int             `json:"order"`
	Descriptor ModelDescriptor `json:"descriptor"`
}

// StoreConfig configures a BadgerStore.
type StoreConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	Logger   zerolog.Logger
}

// BadgerStore is a Store on top of an embedded badger database.
type BadgerStore struct {
	db *badger.DB
}

type badgerLogger struct{ log zerolog.Logger }

func (l badgerLogger) Errorf(f string, a ...interface{})   { l.log.Error().Msgf(f, a...) }
func (l badgerLogger) Warningf(f string, a ...interface{}) { l.log.Warn().Msgf(f, a...) }
func (l badgerLogger) Infof(f string, a ...interface{})    { l.log.Debug().Msgf(f, a...) }
func (l badgerLogger) Debugf(f string, a ...interface{})   { l.log.Trace().Msgf(f, a...) }

// OpenBadgerStore opens (creating if needed) the discovery cache.
func OpenBadgerStore(cfg StoreConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("path is required for persistent catalog cache")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create catalog cache dir %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(badgerLogger{log: cfg.Logger})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open catalog cache: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// SaveDiscovered replaces all stored entries.
func (s *BadgerStore) SaveDiscovered(entries []ModelDescriptor, at time.Time) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var stale [][]byte
		it := txn.NewIterator(badger.IteratorOptions{Prefix: modelPrefix})
		for it.Rewind(); it.Valid(); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		for i, d := range entries {
			b, err := json.Marshal(storedModel{Order: i, Descriptor: d})
			if err != nil {
				return err
			}
			if err := txn.Set(append(append([]byte{}, modelPrefix...), d.ID...), b); err != nil {
				return err
			}
		}
		return txn.Set(refreshedKey, []byte(strconv.FormatInt(at.UnixNano(), 10)))
	})
}

// LoadDiscovered returns stored entries in their saved order and the time
// of the last save. An empty store returns a zero time.
func (s *BadgerStore) LoadDiscovered() ([]ModelDescriptor, time.Time, error) {
	var (
		stored []storedModel
		at     time.Time
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(refreshedKey)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(v []byte) error {
				ns, err := strconv.ParseInt(string(v), 10, 64)
				if err != nil {
					return err
				}
				at = time.Unix(0, ns)
				return nil
			}); err != nil {
				return err
			}
		}
		it := txn.NewIterator(badger.IteratorOptions{Prefix: modelPrefix, PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var sm storedModel
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &sm) }); err != nil {
				return err
			}
			stored = append(stored, sm)
		}
		return nil
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].Order < stored[j].Order })
	out := make([]ModelDescriptor, len(stored))
	for i, sm := range stored {
		out[i] = sm.Descriptor
	}
	return out, at, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }
