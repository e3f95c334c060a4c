package db

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pglo/internal/fastpath"
	"pglo/internal/largeobject"
)

// Session is one transaction on one pooled connection. Large-object
// descriptors opened through Manager live until the session ends.
//
// A Session is a fastpath.Committer so handles can be opened with
// largeobject.WithCommitOnClose(session). Commit and Rollback are no-ops
// once the session has ended.
type Session interface {
	Manager() *largeobject.Manager
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// SessionBeginner starts sessions.
type SessionBeginner interface {
	Begin(ctx context.Context) (Session, error)
}

// Sessions starts sessions on a pgx pool.
type Sessions struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

var _ SessionBeginner = (*Sessions)(nil)

func NewSessions(pool *pgxpool.Pool, logger *log.Logger) *Sessions {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Sessions{pool: pool, logger: logger}
}

func (s *Sessions) Begin(ctx context.Context) (Session, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire connection: %w", largeobject.ErrConnectionFailure, err)
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("%w: begin: %w", largeobject.ErrConnectionFailure, err)
	}
	caps, err := fastpath.DetectCapabilities(ctx, tx)
	if err != nil {
		_ = tx.Rollback(ctx)
		conn.Release()
		return nil, fmt.Errorf("%w: %w", largeobject.ErrConnectionFailure, err)
	}

	ch := fastpath.NewPgxChannel(tx, caps)
	return &pgSession{
		conn: conn,
		tx:   tx,
		ch:   ch,
		mgr:  largeobject.NewManager(ch, s.logger),
	}, nil
}

type pgSession struct {
	mu   sync.Mutex
	conn *pgxpool.Conn
	tx   pgx.Tx
	ch   *fastpath.PgxChannel
	mgr  *largeobject.Manager
	done bool
}

func (s *pgSession) Manager() *largeobject.Manager { return s.mgr }

func (s *pgSession) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	defer s.conn.Release()
	if err := s.ch.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *pgSession) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	defer s.conn.Release()
	if err := s.tx.Rollback(ctx); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// Run begins a session, calls fn and commits. The session is rolled back when
// fn fails.
func Run(ctx context.Context, b SessionBeginner, fn func(Session) error) error {
	sess, err := b.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(sess); err != nil {
		_ = sess.Rollback(ctx)
		return err
	}
	return sess.Commit(ctx)
}
