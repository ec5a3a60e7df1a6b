package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultPayloadCacheSize is the number of payloads DiskBackend keeps in memory.
const DefaultPayloadCacheSize = 256

const payloadExt = ".json"

// DiskBackend stores each payload as <dir>/<hash>.json.
type DiskBackend struct {
	dir   string
	cache *lru.Cache[string, []byte]
}

// NewDiskBackend creates dir if needed and returns a backend rooted there.
// cacheSize <= 0 selects DefaultPayloadCacheSize.
func NewDiskBackend(dir string, cacheSize int) (*DiskBackend, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultPayloadCacheSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create value dir: %w", err)
	}
	cache, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create payload cache: %w", err)
	}
	return &DiskBackend{dir: dir, cache: cache}, nil
}

// Dir returns the directory payload files are written to.
func (d *DiskBackend) Dir() string {
	return d.dir
}

func (d *DiskBackend) path(hash string) string {
	return filepath.Join(d.dir, hash+payloadExt)
}

func (d *DiskBackend) Write(hash string, payload []byte) error {
	if err := writeFileAtomic(d.path(hash), payload, 0o644); err != nil {
		return fmt.Errorf("write payload %s: %w", hash, err)
	}
	d.cache.Add(hash, append([]byte(nil), payload...))
	return nil
}

func (d *DiskBackend) Read(hash string) ([]byte, error) {
	if payload, ok := d.cache.Get(hash); ok {
		return payload, nil
	}
	payload, err := os.ReadFile(d.path(hash))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read payload %s: %w", hash, err)
	}
	d.cache.Add(hash, payload)
	return payload, nil
}

func (d *DiskBackend) Delete(hash string) error {
	d.cache.Remove(hash)
	err := os.Remove(d.path(hash))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete payload %s: %w", hash, err)
	}
	return nil
}

func (d *DiskBackend) List() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("list payloads: %w", err)
	}
	var hashes []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, payloadExt) {
			continue
		}
		hashes = append(hashes, strings.TrimSuffix(name, payloadExt))
	}
	sort.Strings(hashes)
	return hashes, nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place, so readers never observe a partial payload.
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
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
