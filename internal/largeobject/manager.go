package largeobject

import (
	"context"
	"fmt"
	"io"
	"log"

	"pglo/internal/fastpath"
)

// OID identifies a large object on the server.
type OID uint32

// Mode is the access mode passed to lo_open and lo_creat.
type Mode int32

const (
	ModeWrite     Mode = 0x20000
	ModeRead      Mode = 0x40000
	ModeReadWrite      = ModeRead | ModeWrite
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	case ModeReadWrite:
		return "read-write"
	default:
		return fmt.Sprintf("mode(%#x)", int32(m))
	}
}

// Manager opens, creates and removes large objects over one channel.
type Manager struct {
	ch     fastpath.Channel
	logger *log.Logger
}

func NewManager(ch fastpath.Channel, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Manager{ch: ch, logger: logger}
}

// Capabilities returns the capabilities of the manager's connection.
func (m *Manager) Capabilities() fastpath.Capabilities {
	return m.ch.Capabilities()
}

type openOptions struct {
	commit fastpath.Committer
}

// OpenOption configures Open.
type OpenOption func(*openOptions)

// WithCommitOnClose makes Close commit c after the descriptor is closed.
func WithCommitOnClose(c fastpath.Committer) OpenOption {
	return func(o *openOptions) {
		o.commit = c
	}
}

// Open opens oid in mode. The address mode is fixed from the connection's
// capabilities for the lifetime of the handle.
func (m *Manager) Open(ctx context.Context, oid OID, mode Mode, opts ...OpenOption) (*LargeObject, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	var fd int32
	if err := call(ctx, m.ch, fastpath.FnOpen, &fd, uint32(oid), int32(mode)); err != nil {
		return nil, err
	}

	caps := m.ch.Capabilities()
	addr := Narrow
	if caps.SupportsWideAddressing() {
		addr = Wide
	}
	m.logger.Printf("[lo] opened oid=%d fd=%d mode=%s addr=%s", oid, fd, mode, addr)

	return &LargeObject{
		mgr:    m,
		ch:     m.ch,
		caps:   caps,
		oid:    oid,
		fd:     fd,
		mode:   mode,
		addr:   addr,
		commit: o.commit,
	}, nil
}

// Create allocates a new, empty large object.
func (m *Manager) Create(ctx context.Context, mode Mode) (OID, error) {
	var oid uint32
	if err := call(ctx, m.ch, fastpath.FnCreate, &oid, int32(mode)); err != nil {
		return 0, err
	}
	m.logger.Printf("[lo] created oid=%d", oid)
	return OID(oid), nil
}

// Unlink removes oid from the server.
func (m *Manager) Unlink(ctx context.Context, oid OID) error {
	if err := call(ctx, m.ch, fastpath.FnUnlink, nil, uint32(oid)); err != nil {
		return err
	}
	m.logger.Printf("[lo] unlinked oid=%d", oid)
	return nil
}

func call(ctx context.Context, ch fastpath.Channel, fn string, dest any, args ...any) error {
	if err := ch.Call(ctx, fn, dest, args...); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailure, err)
	}
	return nil
}
