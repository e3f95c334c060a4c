package lob

import (
	"context"
	"errors"
	"io"
	"testing"

	"golang.org/x/text/encoding/charmap"

	"pglo/internal/fastpath/fastpathtest"
	"pglo/internal/largeobject"
)

func newTestClob(t *testing.T, charset string, data []byte) (*fastpathtest.Server, *Clob) {
	t.Helper()
	srv := fastpathtest.NewServer(modernServer)
	oid := srv.Put(data)
	clob, err := NewClob(largeobject.NewManager(srv, nil), largeobject.OID(oid), charset)
	if err != nil {
		t.Fatalf("NewClob() error = %v", err)
	}
	return srv, clob
}

func TestClobDecodesCharset(t *testing.T) {
	ctx := context.Background()
	encoded, err := charmap.Windows1252.NewEncoder().String("café crème")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, clob := newTestClob(t, "windows-1252", []byte(encoded))

	if got := clob.Charset(); got != "windows-1252" {
		t.Fatalf("Charset() = %q", got)
	}

	sub, err := clob.SubString(ctx, 1, 4)
	if err != nil {
		t.Fatalf("SubString() error = %v", err)
	}
	if sub != "café" {
		t.Fatalf("SubString(1, 4) = %q, want %q", sub, "café")
	}

	r, err := clob.CharacterStream(ctx)
	if err != nil {
		t.Fatalf("CharacterStream() error = %v", err)
	}
	all, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(all) != "café crème" {
		t.Fatalf("CharacterStream() = %q", all)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	pos, err := clob.PositionString(ctx, "crème", 1)
	if err != nil {
		t.Fatalf("PositionString() error = %v", err)
	}
	if pos != 6 {
		t.Fatalf("PositionString() = %d, want 6", pos)
	}
}

func TestClobEncodesWrites(t *testing.T) {
	ctx := context.Background()
	srv, clob := newTestClob(t, "windows-1252", nil)

	w, err := clob.SetCharacterStream(ctx, 1)
	if err != nil {
		t.Fatalf("SetCharacterStream() error = %v", err)
	}
	if _, err := io.WriteString(w, "naïve"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got, _ := srv.Bytes(uint32(clob.OID())); string(got) != "na\xefve" {
		t.Fatalf("stored bytes = %q", got)
	}
}

func TestClobDefaultsToUTF8(t *testing.T) {
	ctx := context.Background()
	_, clob := newTestClob(t, "", []byte("héllo"))

	sub, err := clob.SubString(ctx, 1, 6)
	if err != nil {
		t.Fatalf("SubString() error = %v", err)
	}
	if sub != "héllo" {
		t.Fatalf("SubString() = %q", sub)
	}
	pos, err := clob.PositionString(ctx, "llo", 1)
	if err != nil {
		t.Fatalf("PositionString() error = %v", err)
	}
	if pos != 4 {
		t.Fatalf("PositionString() = %d, want 4", pos)
	}
}

func TestLookupEncodingRejectsUnknown(t *testing.T) {
	if _, err := LookupEncoding("no-such-charset"); !errors.Is(err, largeobject.ErrInvalidArgument) {
		t.Fatalf("LookupEncoding() error = %v, want ErrInvalidArgument", err)
	}
}
