package slots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"alphawatch/internal/application/port"
	"alphawatch/internal/domain/model"
)

var (
	keyCurrent  = []byte("slot/current")
	keyPrevious = []byte("slot/previous")
)

// PebbleStore keeps both slots in a pebble database. Promote is one synced
// batch (set previous, delete current), so it is all-or-nothing.
type PebbleStore struct {
	db *pebble.DB
}

func OpenPebble(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("%w: open pebble: %v", port.ErrPersistence, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) Stage(ctx context.Context, snap *model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", port.ErrPersistence, err)
	}
	if err := s.db.Set(keyCurrent, data, pebble.Sync); err != nil {
		return fmt.Errorf("%w: stage: %v", port.ErrPersistence, err)
	}
	return nil
}

func (s *PebbleStore) ReadPrevious(ctx context.Context) (*model.Snapshot, error) {
	data, err := s.get(keyPrevious)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read previous: %v", port.ErrPersistence, err)
	}
	snap, err := model.DecodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("%w: previous: %v", port.ErrCorruptSlot, err)
	}
	return snap, nil
}

func (s *PebbleStore) Promote(ctx context.Context) error {
	data, err := s.get(keyCurrent)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return port.ErrNothingStaged
		}
		return fmt.Errorf("%w: promote: %v", port.ErrPersistence, err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(keyPrevious, data, nil); err != nil {
		return fmt.Errorf("%w: promote: %v", port.ErrPersistence, err)
	}
	if err := b.Delete(keyCurrent, nil); err != nil {
		return fmt.Errorf("%w: promote: %v", port.ErrPersistence, err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("%w: promote: %v", port.ErrPersistence, err)
	}
	return nil
}

// get copies the value out; pebble's slice is only valid until the closer is closed.
func (s *PebbleStore) get(key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

var _ port.SnapshotStore = (*PebbleStore)(nil)
