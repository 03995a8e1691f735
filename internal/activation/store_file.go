package activation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Sealer encrypts the record at rest. Open must reject tampered input.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// FileStore keeps the record as a JSON document on disk. Writes go to
// a temporary file in the same directory and are renamed into place,
// so a crash never leaves a half-written record.
type FileStore struct {
	path   string
	sealer Sealer
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithSealer encrypts the document with s.
func WithSealer(s Sealer) FileStoreOption {
	return func(fs *FileStore) {
		fs.sealer = s
	}
}

func NewFileStore(path string, opts ...FileStoreOption) *FileStore {
	s := &FileStore{path: path}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the file the record lives in.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, storeError("load", err)
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, nil
	}
	if err != nil {
		return Record{}, storeError("read record file", err)
	}

	if s.sealer != nil {
		data, err = s.sealer.Open(data)
		if err != nil {
			return Record{}, storeError("open sealed record", err)
		}
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, storeError("decode record", err)
	}
	return rec, nil
}

func (s *FileStore) Save(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return storeError("save", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return storeError("encode record", err)
	}
	if s.sealer != nil {
		data, err = s.sealer.Seal(data)
		if err != nil {
			return storeError("seal record", err)
		}
	}

	if err := writeFileAtomic(s.path, data); err != nil {
		return storeError("write record file", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
