package slots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"alphawatch/internal/application/port"
	"alphawatch/internal/domain/model"
)

const (
	CurrentFile  = "current.json"
	PreviousFile = "last.json"
)

// FileStore keeps the two slots as JSON files in one directory.
//
// Stage writes a temp file, fsyncs it and renames it over current.json.
// Promote renames current.json over last.json: a single rename(2), so an
// observer sees either the old previous or the new one, never neither.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrPersistence, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) CurrentPath() string  { return filepath.Join(s.dir, CurrentFile) }
func (s *FileStore) PreviousPath() string { return filepath.Join(s.dir, PreviousFile) }

func (s *FileStore) Stage(ctx context.Context, snap *model.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", port.ErrPersistence, err)
	}
	if err := writeAtomic(s.dir, CurrentFile, data); err != nil {
		return fmt.Errorf("%w: stage: %v", port.ErrPersistence, err)
	}
	return nil
}

func (s *FileStore) ReadPrevious(ctx context.Context) (*model.Snapshot, error) {
	return readSlot(s.PreviousPath())
}

func (s *FileStore) Promote(ctx context.Context) error {
	if _, err := os.Stat(s.CurrentPath()); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return port.ErrNothingStaged
		}
		return fmt.Errorf("%w: promote: %v", port.ErrPersistence, err)
	}
	if err := os.Rename(s.CurrentPath(), s.PreviousPath()); err != nil {
		return fmt.Errorf("%w: promote: %v", port.ErrPersistence, err)
	}
	if err := syncDir(s.dir); err != nil {
		return fmt.Errorf("%w: promote: %v", port.ErrPersistence, err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

// FileReader reads the previous slot written by a FileStore, possibly in another process.
type FileReader struct {
	path string
}

func NewFileReader(dir string) *FileReader {
	return &FileReader{path: filepath.Join(dir, PreviousFile)}
}

func (r *FileReader) ReadPrevious(ctx context.Context) (*model.Snapshot, error) {
	return readSlot(r.path)
}

func readSlot(path string) (*model.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", port.ErrPersistence, filepath.Base(path), err)
	}
	snap, err := model.DecodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", port.ErrCorruptSlot, filepath.Base(path), err)
	}
	return snap, nil
}

func writeAtomic(dir, name string, data []byte) (err error) {
	tmp, err := os.CreateTemp(dir, "."+name+"-*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		return err
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// some filesystems do not support fsync on directories
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return err
	}
	return nil
}

var (
	_ port.SnapshotStore  = (*FileStore)(nil)
	_ port.SnapshotReader = (*FileReader)(nil)
)
