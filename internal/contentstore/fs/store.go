package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"dukcapil/internal/contentstore/core"
	id "dukcapil/pkg/domain"
	"dukcapil/pkg/platform/sentinel"
)

// Store implements core.Store using the local filesystem. Blobs live under
// root/<first two digest chars>/<content id>. Writes go through a temp file
// and an atomic rename, so a reader never sees a partial blob.
type Store struct {
	root string
}

// New returns a filesystem-backed store rooted at path, creating it if needed.
func New(root string) (*Store, error) {
	if root == "" {
		root = "./blobdata"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

func (s *Store) pathFor(cid id.ContentID) (string, error) {
	key := string(cid)
	if !strings.HasPrefix(key, core.ContentIDPrefix) {
		return "", fmt.Errorf("invalid content id %q", key)
	}
	digest := strings.TrimPrefix(key, core.ContentIDPrefix)
	if len(digest) < 2 || strings.ContainsAny(digest, "./\\") {
		return "", fmt.Errorf("invalid content id %q", key)
	}
	return filepath.Join(s.root, digest[:2], key), nil
}

func (s *Store) Put(_ context.Context, data []byte) (id.ContentID, error) {
	cid := core.ComputeID(data)
	path, err := s.pathFor(cid)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err == nil {
		return cid, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	// a concurrent writer of the same digest wrote identical bytes, so losing
	// the rename race is harmless
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return cid, nil
}

func (s *Store) Get(_ context.Context, cid id.ContentID) ([]byte, error) {
	path, err := s.pathFor(cid)
	if err != nil {
		return nil, fmt.Errorf("blob %s: %w", cid, sentinel.ErrNotFound)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("blob %s: %w", cid, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
