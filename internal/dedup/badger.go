package dedup

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// maxConflictRetries bounds retries of a transaction that lost a write
// conflict against another worker.
const maxConflictRetries = 16

// Badger stores renderings in an embedded badger database.
//
// Keys are the FNV-1a hash of the rendering followed by a collision index;
// values are the renderings themselves.
type Badger struct {
	db *badger.DB
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
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
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadger opens a badger-backed store at path, or in memory when path
// is empty. A nil logger disables badger's internal logging.
func OpenBadger(path string, logger *slog.Logger) (*Badger, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0750); err != nil {
			return nil, fmt.Errorf("create dedup directory %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithSyncWrites(false).WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open dedup store: %w", err)
	}
	return &Badger{db: db}, nil
}

func badgerKey(h uint64, i uint32) []byte {
	k := make([]byte, 12)
	binary.BigEndian.PutUint64(k, h)
	binary.BigEndian.PutUint32(k[8:], i)
	return k
}

// Seen implements Store.
func (b *Badger) Seen(rendering string) (bool, error) {
	h := hashRendering(rendering)
	for attempt := 0; ; attempt++ {
		seen := false
		err := b.db.Update(func(txn *badger.Txn) error {
			for i := uint32(0); ; i++ {
				item, err := txn.Get(badgerKey(h, i))
				if errors.Is(err, badger.ErrKeyNotFound) {
					return txn.Set(badgerKey(h, i), []byte(rendering))
				}
				if err != nil {
					return err
				}
				same := false
				if err := item.Value(func(v []byte) error {
					same = string(v) == rendering
					return nil
				}); err != nil {
					return err
				}
				if same {
					seen = true
					return nil
				}
			}
		})
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("dedup lookup: %w", err)
		}
		return seen, nil
	}
}

// Close implements Store.
func (b *Badger) Close() error {
	return b.db.Close()
}
