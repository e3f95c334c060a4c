// Package fastpathtest provides an in-memory large-object server that speaks
// the fastpath procedure table, for tests that must not depend on a database.
package fastpathtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"

	"pglo/internal/fastpath"
)

const (
	modeRead  = 0x40000
	modeWrite = 0x20000

	seekSet = 0
	seekCur = 1
	seekEnd = 2
)

// ErrConnClosed is returned by every call after Disconnect.
var ErrConnClosed = errors.New("conn closed")

// Call is one recorded remote procedure invocation.
type Call struct {
	Fn   string
	Args []any
}

type descriptor struct {
	owner    int
	oid      uint32
	pos      int64
	writable bool
}

// Server is a fastpath.Channel backed by process memory. It serializes calls
// like a real connection and records each one.
type Server struct {
	mu          sync.Mutex
	version     int
	objects     map[uint32][]byte
	descriptors map[int32]*descriptor
	nextOID     uint32
	nextFD      int32
	nextConn    int
	calls       []Call
	failures    map[string]error
	commits     int
	rollbacks   int
	closed      bool
}

var (
	_ fastpath.Channel   = (*Server)(nil)
	_ fastpath.Committer = (*Server)(nil)
)

// NewServer returns an empty server reporting the given server_version_num.
func NewServer(version int) *Server {
	return &Server{
		version:     version,
		objects:     make(map[uint32][]byte),
		descriptors: make(map[int32]*descriptor),
		nextOID:     16384,
		failures:    make(map[string]error),
	}
}

func (s *Server) Capabilities() fastpath.Capabilities {
	return fastpath.Capabilities{ServerVersionNum: s.version}
}

// Put stores data as a new object and returns its OID.
func (s *Server) Put(data []byte) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	oid := s.allocOID()
	s.objects[oid] = append([]byte(nil), data...)
	return oid
}

// Bytes returns a copy of the object's contents.
func (s *Server) Bytes(oid uint32) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[oid]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Calls returns the call log.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount counts recorded calls of fn.
func (s *Server) CallCount(fn string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Fn == fn {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log.
func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// OpenDescriptors counts descriptors not yet closed.
func (s *Server) OpenDescriptors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.descriptors)
}

// FailNext makes the next call of fn fail with err.
func (s *Server) FailNext(fn string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[fn] = err
}

// Disconnect makes every later call fail with ErrConnClosed.
func (s *Server) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Commits reports how many times Commit ran.
func (s *Server) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Commit ends the current transaction, which invalidates the descriptors
// opened through the server itself.
func (s *Server) Commit(_ context.Context) error {
	return s.endTx(0, true)
}

// Rollbacks reports how many times Rollback ran.
func (s *Server) Rollbacks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbacks
}

// Rollback ends the current transaction like Commit. Object contents are not
// restored.
func (s *Server) Rollback(_ context.Context) error {
	return s.endTx(0, false)
}

func (s *Server) endTx(owner int, commit bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrConnClosed
	}
	if commit {
		s.commits++
	} else {
		s.rollbacks++
	}
	for fd, d := range s.descriptors {
		if d.owner == owner {
			delete(s.descriptors, fd)
		}
	}
	return nil
}

func (s *Server) Call(ctx context.Context, fn string, dest any, args ...any) error {
	return s.call(ctx, 0, fn, dest, args)
}

// Conn is a separate connection to the server. Objects are shared with every
// other connection; descriptors and transactions are not.
type Conn struct {
	s  *Server
	id int
}

var (
	_ fastpath.Channel   = (*Conn)(nil)
	_ fastpath.Committer = (*Conn)(nil)
)

// Conn opens a new connection.
func (s *Server) Conn() *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextConn++
	return &Conn{s: s, id: s.nextConn}
}

func (c *Conn) Capabilities() fastpath.Capabilities { return c.s.Capabilities() }

func (c *Conn) Call(ctx context.Context, fn string, dest any, args ...any) error {
	return c.s.call(ctx, c.id, fn, dest, args)
}

func (c *Conn) Commit(_ context.Context) error   { return c.s.endTx(c.id, true) }
func (c *Conn) Rollback(_ context.Context) error { return c.s.endTx(c.id, false) }

func (s *Server) call(ctx context.Context, owner int, fn string, dest any, args []any) error {
	if err := fastpath.CheckCall(fn, args); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	logged := make([]any, len(args))
	for i, a := range args {
		if b, ok := a.([]byte); ok {
			a = append([]byte(nil), b...)
		}
		logged[i] = a
	}
	s.calls = append(s.calls, Call{Fn: fn, Args: logged})
	if s.closed {
		return ErrConnClosed
	}
	if err, ok := s.failures[fn]; ok {
		delete(s.failures, fn)
		return err
	}

	result, err := s.dispatch(owner, fn, args)
	if err != nil {
		return fmt.Errorf("%s: %w", fn, err)
	}
	return assign(dest, result)
}

func (s *Server) dispatch(owner int, fn string, args []any) (any, error) {
	switch fn {
	case fastpath.FnTruncate:
		if s.version < 80300 {
			return nil, undefinedFunction(fn)
		}
	case fastpath.FnSeek64, fastpath.FnTell64, fastpath.FnTruncate64:
		if s.version < 90300 {
			return nil, undefinedFunction(fn)
		}
	}

	switch fn {
	case fastpath.FnCreate:
		oid := s.allocOID()
		s.objects[oid] = nil
		return oid, nil
	case fastpath.FnUnlink:
		oid := uint32(toInt64(args[0]))
		if _, ok := s.objects[oid]; !ok {
			return nil, missingObject(oid)
		}
		delete(s.objects, oid)
		return int32(1), nil
	case fastpath.FnOpen:
		oid := uint32(toInt64(args[0]))
		mode := toInt64(args[1])
		if _, ok := s.objects[oid]; !ok {
			return nil, missingObject(oid)
		}
		if mode&(modeRead|modeWrite) == 0 {
			return nil, pgError("22023", fmt.Sprintf("invalid large-object mode: %d", mode))
		}
		s.nextFD++
		s.descriptors[s.nextFD] = &descriptor{owner: owner, oid: oid, writable: mode&modeWrite != 0}
		return s.nextFD, nil
	}

	fd := int32(toInt64(args[0]))
	d, ok := s.descriptors[fd]
	if !ok || d.owner != owner {
		return nil, pgError("42704", fmt.Sprintf("invalid large-object descriptor: %d", fd))
	}

	switch fn {
	case fastpath.FnClose:
		delete(s.descriptors, fd)
		return int32(0), nil
	case fastpath.FnRead:
		n := toInt64(args[1])
		if n < 0 {
			return nil, pgError("22023", "requested length cannot be negative")
		}
		data := s.objects[d.oid]
		if d.pos >= int64(len(data)) {
			return []byte{}, nil
		}
		end := d.pos + n
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		out := append([]byte(nil), data[d.pos:end]...)
		d.pos = end
		return out, nil
	case fastpath.FnWrite:
		if !d.writable {
			return nil, pgError("55000", fmt.Sprintf("large object descriptor %d was not opened for writing", fd))
		}
		p := args[1].([]byte)
		data := s.objects[d.oid]
		end := d.pos + int64(len(p))
		if end > int64(len(data)) {
			grown := make([]byte, end)
			copy(grown, data)
			data = grown
		}
		copy(data[d.pos:end], p)
		s.objects[d.oid] = data
		d.pos = end
		return int32(len(p)), nil
	case fastpath.FnSeek, fastpath.FnSeek64:
		offset := toInt64(args[1])
		var base int64
		switch toInt64(args[2]) {
		case seekSet:
		case seekCur:
			base = d.pos
		case seekEnd:
			base = int64(len(s.objects[d.oid]))
		default:
			return nil, pgError("22023", "invalid whence")
		}
		next := base + offset
		if next < 0 {
			return nil, pgError("22023", fmt.Sprintf("invalid seek offset: %d", next))
		}
		if fn == fastpath.FnSeek {
			if next > math.MaxInt32 {
				return nil, pgError("22003", "lo_lseek result out of range for large-object descriptor")
			}
			d.pos = next
			return int32(next), nil
		}
		d.pos = next
		return next, nil
	case fastpath.FnTell:
		if d.pos > math.MaxInt32 {
			return nil, pgError("22003", "lo_tell result out of range for large-object descriptor")
		}
		return int32(d.pos), nil
	case fastpath.FnTell64:
		return d.pos, nil
	case fastpath.FnTruncate, fastpath.FnTruncate64:
		if !d.writable {
			return nil, pgError("55000", fmt.Sprintf("large object descriptor %d was not opened for writing", fd))
		}
		n := toInt64(args[1])
		if n < 0 {
			return nil, pgError("22023", "requested length cannot be negative")
		}
		data := s.objects[d.oid]
		if n <= int64(len(data)) {
			s.objects[d.oid] = data[:n]
		} else {
			grown := make([]byte, n)
			copy(grown, data)
			s.objects[d.oid] = grown
		}
		return int32(0), nil
	}
	return nil, undefinedFunction(fn)
}

func (s *Server) allocOID() uint32 {
	for {
		s.nextOID++
		if _, ok := s.objects[s.nextOID]; !ok {
			return s.nextOID
		}
	}
}

func assign(dest any, v any) error {
	switch d := dest.(type) {
	case nil:
		return nil
	case *int32:
		n, ok := v.(int32)
		if !ok {
			return fmt.Errorf("cannot scan %T into *int32", v)
		}
		*d = n
	case *int64:
		switch n := v.(type) {
		case int64:
			*d = n
		case int32:
			*d = int64(n)
		default:
			return fmt.Errorf("cannot scan %T into *int64", v)
		}
	case *uint32:
		n, ok := v.(uint32)
		if !ok {
			return fmt.Errorf("cannot scan %T into *uint32", v)
		}
		*d = n
	case *[]byte:
		b, ok := v.([]byte)
		if !ok {
			return fmt.Errorf("cannot scan %T into *[]byte", v)
		}
		*d = b
	default:
		return fmt.Errorf("unsupported destination %T", dest)
	}
	return nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint32:
		return int64(n)
	default:
		panic(fmt.Sprintf("fastpathtest: unexpected argument type %T", v))
	}
}

func pgError(code, msg string) error {
	return &pgconn.PgError{Severity: "ERROR", Code: code, Message: msg}
}

func missingObject(oid uint32) error {
	return pgError("42704", fmt.Sprintf("large object %d does not exist", oid))
}

func undefinedFunction(fn string) error {
	return pgError("42883", fmt.Sprintf("function %s does not exist", fn))
}
