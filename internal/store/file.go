package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore implements Store on the local filesystem.
//
// Structure:
//
//	{Dir}/
//	  objects/{key[0:2]}/{key}
//	  index/{h[0:2]}/{h}        (h = sha256(name, id); file holds the key)
//
// Every file is written to a temp file in the same directory and renamed
// into place, so a crash never leaves a partial object at its final path.
type FileStore struct {
	Dir string
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	for _, sub := range []string{"objects", "index"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}
	return &FileStore{Dir: dir}, nil
}

func (f *FileStore) Put(key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	path := f.objectPath(key)
	existing, err := os.ReadFile(path)
	if err == nil {
		return checkSameContent(key, existing, data)
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("reading object %s: %w", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating object directory: %w", err)
	}
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("writing object %s: %w", key, err)
	}
	return nil
}

func (f *FileStore) Get(key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading object %s: %w", key, err)
	}
	return data, nil
}

func (f *FileStore) Has(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	_, err := os.Stat(f.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking object %s: %w", key, err)
	}
	return true, nil
}

func (f *FileStore) Bind(name, id, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	path := f.indexPath(name, id)
	existing, err := os.ReadFile(path)
	if err == nil {
		return checkSameBinding(name, id, strings.TrimSpace(string(existing)), key)
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("reading binding %s/%s: %w", name, id, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}
	return writeFileAtomic(path, []byte(key+"\n"), 0o644)
}

func (f *FileStore) Lookup(name, id string) (string, error) {
	data, err := os.ReadFile(f.indexPath(name, id))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("reading binding %s/%s: %w", name, id, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (f *FileStore) Close() error { return nil }

// objectPath shards objects by the first two key characters.
func (f *FileStore) objectPath(key string) string {
	if len(key) < 2 {
		return filepath.Join(f.Dir, "objects", "_", key)
	}
	return filepath.Join(f.Dir, "objects", key[:2], key)
}

func (f *FileStore) indexPath(name, id string) string {
	h := bindingHash(name, id)
	return filepath.Join(f.Dir, "index", h[:2], h)
}

func bindingHash(name, id string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s%s", len(name), name, id)))
	return hex.EncodeToString(sum[:])
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync() // best-effort durability
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
