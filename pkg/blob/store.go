// Package blob implements content-addressable binary storage. A blob is
// identified solely by the SHA-256 hex digest of its content and stored
// once regardless of how many artifact history entries reference it.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"golang.org/x/sync/singleflight"

	"github.com/trovehq/trove/pkg/errs"
)

// Store is the content-addressable blob interface. An empty hash is never a
// valid argument: the "no blob" sentinel lives in artifact history entries,
// not here.
type Store interface {
	// Put stores the blob and returns its SHA-256 hex digest. Writing an
	// already-stored blob is a dedup no-op returning the same hash.
	Put(ctx context.Context, data []byte) (string, error)

	// Get returns the blob for the hash, or NotFoundError.
	Get(ctx context.Context, hash string) ([]byte, error)

	// Delete removes the blob. Deleting an absent blob is an idempotent
	// no-op so concurrent garbage collection never races into an error.
	Delete(ctx context.Context, hash string) error

	// Exists reports whether a blob is stored under the hash.
	Exists(ctx context.Context, hash string) (bool, error)
}

// HashBytes returns the SHA-256 hex digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FileStore stores blobs on the local filesystem at
// <root>/<hash[0:2]>/<hash>. The two-character shard prefix bounds
// directory size and must be preserved so blobs written by prior versions
// stay readable.
type FileStore struct {
	rootDir string
	writes  singleflight.Group
	metrics *Metrics
}

// NewFileStore creates a filesystem blob store rooted at rootDir.
func NewFileStore(rootDir string) (*FileStore, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, errs.WrapOperation(err, "failed to create blob root")
	}
	return &FileStore{rootDir: rootDir}, nil
}

// WithMetrics attaches operation counters.
func (s *FileStore) WithMetrics(m *Metrics) *FileStore {
	s.metrics = m
	return s
}

func (s *FileStore) shardDir(hash string) string {
	return filepath.Join(s.rootDir, hash[:2])
}

func (s *FileStore) blobPath(hash string) string {
	return filepath.Join(s.shardDir(hash), hash)
}

func validateHash(hash string) error {
	if len(hash) != sha256.Size*2 {
		return errs.NewDataFormat("invalid blob hash %q", hash)
	}
	return nil
}

// Put implements Store. Concurrent Puts of identical content serialize
// around the existence-check-and-write through a per-hash singleflight
// group; the write itself goes to a temporary file in the shard directory
// and is moved into place with an atomic rename.
func (s *FileStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errs.WrapOperation(err, "blob write aborted")
	}

	hash := HashBytes(data)
	path := s.blobPath(hash)

	if _, err := os.Stat(path); err == nil {
		s.metrics.countPut("dedup")
		return hash, nil
	}

	_, err, _ := s.writes.Do(hash, func() (interface{}, error) {
		// Re-check under the flight: a concurrent Put may have won.
		if _, err := os.Stat(path); err == nil {
			return nil, nil
		}
		if err := os.MkdirAll(s.shardDir(hash), 0755); err != nil {
			return nil, errs.WrapOperation(err, "failed to create shard for %s", hash)
		}
		tmp, err := os.CreateTemp(s.shardDir(hash), hash+".tmp*")
		if err != nil {
			return nil, errs.WrapOperation(err, "failed to create temp file for %s", hash)
		}
		tmpName := tmp.Name()
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return nil, errs.WrapOperation(err, "failed to write blob %s", hash)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmpName)
			return nil, errs.WrapOperation(err, "failed to close blob %s", hash)
		}
		if err := os.Rename(tmpName, path); err != nil {
			os.Remove(tmpName)
			return nil, errs.WrapOperation(err, "failed to commit blob %s", hash)
		}
		return nil, nil
	})
	if err != nil {
		return "", err
	}
	s.metrics.countPut("written")
	return hash, nil
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, hash string) ([]byte, error) {
	if err := validateHash(hash); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.WrapOperation(err, "blob read aborted")
	}
	data, err := os.ReadFile(s.blobPath(hash))
	if os.IsNotExist(err) {
		return nil, errs.NewNotFound(hash)
	}
	if err != nil {
		return nil, errs.WrapOperation(err, "failed to read blob %s", hash)
	}
	s.metrics.countGet()
	return data, nil
}

// Delete implements Store. The containing shard directory is removed when
// the delete leaves it empty.
func (s *FileStore) Delete(ctx context.Context, hash string) error {
	if err := validateHash(hash); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errs.WrapOperation(err, "blob delete aborted")
	}
	err := os.Remove(s.blobPath(hash))
	if err != nil && !os.IsNotExist(err) {
		return errs.WrapOperation(err, "failed to delete blob %s", hash)
	}
	// Best effort: fails while the shard still holds other blobs.
	os.Remove(s.shardDir(hash))
	s.metrics.countDelete()
	return nil
}

// Exists implements Store.
func (s *FileStore) Exists(_ context.Context, hash string) (bool, error) {
	if err := validateHash(hash); err != nil {
		return false, err
	}
	_, err := os.Stat(s.blobPath(hash))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errs.WrapOperation(err, "failed to stat blob %s", hash)
	}
	return true, nil
}

// Hashes lists every stored blob hash. Used by the garbage-collection
// sweeper; not part of the Store interface.
func (s *FileStore) Hashes(ctx context.Context) ([]string, error) {
	shards, err := os.ReadDir(s.rootDir)
	if err != nil {
		return nil, errs.WrapOperation(err, "failed to read blob root")
	}
	var hashes []string
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, errs.WrapOperation(err, "blob listing aborted")
		}
		entries, err := os.ReadDir(filepath.Join(s.rootDir, shard.Name()))
		if err != nil {
			return nil, errs.WrapOperation(err, "failed to read shard %s", shard.Name())
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if validateHash(entry.Name()) == nil {
				hashes = append(hashes, entry.Name())
			}
		}
	}
	return hashes, nil
}
