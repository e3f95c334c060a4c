package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalBackend_PutIsContentAddressed(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	b, err := NewLocalBackend(root)
	if err != nil {
		t.Fatalf("NewLocalBackend() error = %v", err)
	}
	ctx := context.Background()

	first, err := b.Put(ctx, strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	const wantHex = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if first.Digest != "sha256:"+wantHex {
		t.Fatalf("Digest = %q", first.Digest)
	}
	if first.Key != "sha256/b9/"+wantHex {
		t.Fatalf("Key = %q", first.Key)
	}
	if first.Size != 11 {
		t.Fatalf("Size = %d, want 11", first.Size)
	}

	second, err := b.Put(ctx, strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("second Put() error = %v", err)
	}
	if second != first {
		t.Fatalf("second Put() = %#v, want %#v", second, first)
	}
	entries, err := os.ReadDir(filepath.Join(root, "tmp"))
	if err != nil {
		t.Fatalf("read tmp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("tmp dir has %d leftover files", len(entries))
	}

	f, err := b.Open(ctx, first.Key)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer f.Close()
	if f.Size() != 11 {
		t.Fatalf("File.Size() = %d, want 11", f.Size())
	}
	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte("hello world")) {
		t.Fatalf("contents = %q", got)
	}
}

func TestLocalBackend_OpenMissing(t *testing.T) {
	t.Parallel()

	b, err := NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalBackend() error = %v", err)
	}
	tests := []string{
		"sha256/00/0000",
		"../outside",
		"/etc/passwd",
	}
	for _, key := range tests {
		if _, err := b.Open(context.Background(), key); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Open(%q) error = %v, want ErrNotFound", key, err)
		}
	}
}
