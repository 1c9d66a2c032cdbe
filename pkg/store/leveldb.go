package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB stores each field under "<key>\x00<field>".
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens a database at path. An empty path opens an in-memory
// database that is lost on Close.
func OpenLevelDB(path string) (*LevelDB, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &LevelDB{db: db}, nil
}

func fieldPrefix(key string) []byte {
	return []byte(key + "\x00")
}

func fieldKey(key, field string) []byte {
	return []byte(key + "\x00" + field)
}

// Exists reports whether any field is stored under key.
func (l *LevelDB) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	it := l.db.NewIterator(util.BytesPrefix(fieldPrefix(key)), nil)
	defer it.Release()

	found := it.Next()
	if err := it.Error(); err != nil {
		return false, fmt.Errorf("leveldb iterate: %w", err)
	}
	return found, nil
}

// MGet returns fields in order.
func (l *LevelDB) MGet(ctx context.Context, key string, fields ...string) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]byte, len(fields))
	for i, f := range fields {
		v, err := l.db.Get(fieldKey(key, f), nil)
		if errors.Is(err, leveldb.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("leveldb get: %w", err)
		}
		if v == nil {
			v = []byte{}
		}
		out[i] = v
	}
	return out, nil
}

// MSet writes all fields in one batch.
func (l *LevelDB) MSet(ctx context.Context, key string, values map[string][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	for f, v := range values {
		batch.Put(fieldKey(key, f), v)
	}
	if err := l.db.Write(batch, nil); err != nil {
		return fmt.Errorf("leveldb write: %w", err)
	}
	return nil
}

// Update writes one field.
func (l *LevelDB) Update(ctx context.Context, key, field string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.db.Put(fieldKey(key, field), value, nil); err != nil {
		return fmt.Errorf("leveldb put: %w", err)
	}
	return nil
}

// Ping fails once the database is closed.
func (l *LevelDB) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := l.db.GetProperty("leveldb.num-files-at-level0")
	return err
}

// Close closes the database.
func (l *LevelDB) Close() error {
	return l.db.Close()
}
