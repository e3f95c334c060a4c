package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Open for unknown keys.
var ErrNotFound = errors.New("archive not found")

// LocalBackend stores archives by sha256 digest on local disk.
type LocalBackend struct {
	root string
}

var _ Backend = (*LocalBackend)(nil)

func NewLocalBackend(root string) (*LocalBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalBackend{root: root}, nil
}

func (b *LocalBackend) Put(_ context.Context, r io.Reader) (obj Object, err error) {
	tmpDir := filepath.Join(b.root, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return Object{}, fmt.Errorf("create tmp dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(tmpDir, "lo-*")
	if err != nil {
		return Object{}, fmt.Errorf("create tmp file: %w", err)
	}
	tmpName := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmpFile, h), r)
	if err != nil {
		return Object{}, fmt.Errorf("write archive: %w", err)
	}
	hexDigest := hex.EncodeToString(h.Sum(nil))
	obj = Object{
		Key:    digestKey(hexDigest),
		Digest: "sha256:" + hexDigest,
		Size:   n,
	}

	absPath := filepath.Join(b.root, filepath.FromSlash(obj.Key))
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return Object{}, fmt.Errorf("create archive dir: %w", err)
	}
	if _, statErr := os.Stat(absPath); statErr == nil {
		_ = os.Remove(tmpName)
		return obj, nil
	}

	if err := tmpFile.Close(); err != nil {
		return Object{}, fmt.Errorf("close tmp file: %w", err)
	}
	if err := os.Rename(tmpName, absPath); err != nil {
		return Object{}, fmt.Errorf("move archive: %w", err)
	}
	return obj, nil
}

func (b *LocalBackend) Open(_ context.Context, key string) (*File, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: invalid key %q", ErrNotFound, key)
	}
	f, err := os.Open(filepath.Join(b.root, clean))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return NewFile(f, info.Size()), nil
}
