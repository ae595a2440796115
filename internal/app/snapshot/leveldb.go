package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
)

// LevelDBStore keeps the snapshot in a local leveldb database.
type LevelDBStore struct {
	db  *leveldb.DB
	key []byte
}

var _ Store = (*LevelDBStore)(nil)

// OpenLevelDB opens (or creates) the database at path.
func OpenLevelDB(path, key string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDBStore{db: db, key: []byte(key)}, nil
}

func (s *LevelDBStore) Save(_ context.Context, st State) error {
	data, err := encode(st)
	if err != nil {
		return err
	}
	return s.db.Put(s.key, data, nil)
}

func (s *LevelDBStore) Load(_ context.Context) (State, error) {
	data, err := s.db.Get(s.key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return State{}, ErrNoSnapshot
	}
	if err != nil {
		return State{}, err
	}
	return decode(data)
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
