package fastpath

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
)

// Querier is the part of *pgx.Conn, pgx.Tx and *pgxpool.Conn used to issue calls.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxChannel issues fastpath calls as SELECT statements over a single pgx
// connection. The mutex keeps one request in flight and preserves order no
// matter how many handles share the channel.
type PgxChannel struct {
	mu   sync.Mutex
	q    Querier
	caps Capabilities
}

var (
	_ Channel   = (*PgxChannel)(nil)
	_ Committer = (*PgxChannel)(nil)
)

func NewPgxChannel(q Querier, caps Capabilities) *PgxChannel {
	return &PgxChannel{q: q, caps: caps}
}

func (c *PgxChannel) Capabilities() Capabilities {
	return c.caps
}

func (c *PgxChannel) Call(ctx context.Context, fn string, dest any, args ...any) error {
	if err := CheckCall(fn, args); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.q.QueryRow(ctx, statement(fn), args...).Scan(dest); err != nil {
		return fmt.Errorf("%s: %w", fn, err)
	}
	return nil
}

// Commit commits the underlying transaction. It fails when the querier is not
// a transaction.
func (c *PgxChannel) Commit(ctx context.Context) error {
	tx, ok := c.q.(interface {
		Commit(context.Context) error
	})
	if !ok {
		return fmt.Errorf("commit: channel is not bound to a transaction")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return tx.Commit(ctx)
}

// DetectCapabilities asks the server for its numeric version.
func DetectCapabilities(ctx context.Context, q Querier) (Capabilities, error) {
	var num int32
	if err := q.QueryRow(ctx, `SELECT current_setting('server_version_num')::int4`).Scan(&num); err != nil {
		return Capabilities{}, fmt.Errorf("detect server version: %w", err)
	}
	return Capabilities{ServerVersionNum: int(num)}, nil
}
