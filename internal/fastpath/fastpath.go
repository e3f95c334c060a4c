package fastpath

import (
	"context"
	"fmt"
	"strings"
)

// Remote procedures of the large-object function surface. The names are the
// server-side function names and must not be changed.
const (
	FnOpen       = "lo_open"
	FnClose      = "lo_close"
	FnRead       = "loread"
	FnWrite      = "lowrite"
	FnSeek       = "lo_lseek"
	FnSeek64     = "lo_lseek64"
	FnTell       = "lo_tell"
	FnTell64     = "lo_tell64"
	FnTruncate   = "lo_truncate"
	FnTruncate64 = "lo_truncate64"
	FnCreate     = "lo_creat"
	FnUnlink     = "lo_unlink"
)

// arity lists every callable procedure with its argument count.
var arity = map[string]int{
	FnOpen:       2,
	FnClose:      1,
	FnRead:       2,
	FnWrite:      2,
	FnSeek:       3,
	FnSeek64:     3,
	FnTell:       1,
	FnTell64:     1,
	FnTruncate:   2,
	FnTruncate64: 2,
	FnCreate:     1,
	FnUnlink:     1,
}

// Channel executes named remote procedures against one connection.
//
// Call scans the single result of fn into dest, which is one of *int32,
// *int64, *uint32, *[]byte, or nil when the result is ignored. Implementations
// must run at most one call at a time per connection, in request order.
type Channel interface {
	Call(ctx context.Context, fn string, dest any, args ...any) error
	Capabilities() Capabilities
}

// Committer commits the transaction of the connection owning a channel.
type Committer interface {
	Commit(ctx context.Context) error
}

// Capabilities are the version-gated features of the server behind a channel.
type Capabilities struct {
	ServerVersionNum int
}

const (
	versionTruncate = 80300
	versionWide     = 90300
)

// SupportsTruncate reports whether lo_truncate exists at all.
func (c Capabilities) SupportsTruncate() bool {
	return c.ServerVersionNum >= versionTruncate
}

// SupportsWideAddressing reports whether the 64-bit procedures exist.
func (c Capabilities) SupportsWideAddressing() bool {
	return c.ServerVersionNum >= versionWide
}

// CheckCall validates fn and its argument count.
func CheckCall(fn string, args []any) error {
	n, ok := arity[fn]
	if !ok {
		return fmt.Errorf("unknown remote procedure %q", fn)
	}
	if len(args) != n {
		return fmt.Errorf("%s: got %d arguments, want %d", fn, len(args), n)
	}
	return nil
}

// statement renders the SQL used to invoke fn.
func statement(fn string) string {
	n := arity[fn]
	params := make([]string, n)
	for i := range params {
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	return "SELECT " + fn + "(" + strings.Join(params, ", ") + ")"
}
