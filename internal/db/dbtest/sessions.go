// Package dbtest provides db.Session implementations backed by an in-memory
// large-object server.
package dbtest

import (
	"context"
	"sync"

	"pglo/internal/db"
	"pglo/internal/fastpath/fastpathtest"
	"pglo/internal/largeobject"
)

// Sessions hands out sessions on separate connections to one
// fastpathtest.Server, the way pooled connections share one database.
type Sessions struct {
	Server *fastpathtest.Server

	mu       sync.Mutex
	beginErr error
	begun    int
	open     int
}

var _ db.SessionBeginner = (*Sessions)(nil)

func New(version int) *Sessions {
	return &Sessions{Server: fastpathtest.NewServer(version)}
}

// FailBegin makes every later Begin fail with err. A nil err clears it.
func (s *Sessions) FailBegin(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beginErr = err
}

// Begun counts successful Begin calls.
func (s *Sessions) Begun() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begun
}

// Open counts sessions that have not been committed or rolled back.
func (s *Sessions) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *Sessions) Begin(_ context.Context) (db.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	s.begun++
	s.open++
	conn := s.Server.Conn()
	return &session{parent: s, conn: conn, mgr: largeobject.NewManager(conn, nil)}, nil
}

func (s *Sessions) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open--
}

type session struct {
	parent *Sessions
	conn   *fastpathtest.Conn
	mgr    *largeobject.Manager

	mu   sync.Mutex
	done bool
}

func (s *session) Manager() *largeobject.Manager { return s.mgr }

func (s *session) Commit(ctx context.Context) error {
	if !s.finish() {
		return nil
	}
	return s.conn.Commit(ctx)
}

func (s *session) Rollback(ctx context.Context) error {
	if !s.finish() {
		return nil
	}
	return s.conn.Rollback(ctx)
}

func (s *session) finish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	s.done = true
	s.parent.end()
	return true
}
