package attachment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const keyPrefix = "attachment/"

// Badger keeps attachments in an embedded key-value store on local disk.
type Badger struct {
	db       *badger.DB
	maxBytes int
}

// OpenBadger opens (or creates) a store under dir. An empty dir keeps
// everything in memory.
func OpenBadger(dir string, maxBytes int) (*Badger, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	if dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating attachment directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(&badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening attachment store: %w", err)
	}
	return &Badger{db: db, maxBytes: maxBytes}, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

func (b *Badger) Validate(data []byte) error {
	return validate(data, b.maxBytes)
}

func (b *Badger) Put(_ context.Context, eventID uuid.UUID, data []byte) (string, error) {
	if err := validate(data, b.maxBytes); err != nil {
		return "", err
	}

	ref := Ref(eventID, data)
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+ref), data)
	})
	if err != nil {
		return "", fmt.Errorf("storing attachment: %w", err)
	}
	return ref, nil
}

func (b *Badger) Get(_ context.Context, ref string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + ref))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading attachment: %w", err)
	}
	return data, nil
}

func (b *Badger) Delete(_ context.Context, ref string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + ref))
	})
}

// badgerLogger routes badger's own logging through slog, dropping debug output.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...), "component", "attachments")
}

func (badgerLogger) Warningf(format string, args ...any) {
	slog.Warn(fmt.Sprintf(format, args...), "component", "attachments")
}

func (badgerLogger) Infof(format string, args ...any) {
	slog.Debug(fmt.Sprintf(format, args...), "component", "attachments")
}

func (badgerLogger) Debugf(string, ...any) {}
