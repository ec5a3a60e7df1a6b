// Package session wires a runtime, value store and chain into one notebook
// session, and persists the chain of disk sessions between runs.
//
// A Session is constructed at session start and closed at session end.
// There is no package-level state: two notebooks are two Sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/nodebook/internal/codec"
	"github.com/roach88/nodebook/internal/config"
	"github.com/roach88/nodebook/internal/export"
	"github.com/roach88/nodebook/internal/ir"
	"github.com/roach88/nodebook/internal/notebook"
	"github.com/roach88/nodebook/internal/runtime"
	"github.com/roach88/nodebook/internal/store"
)

// File layout of a disk session directory.
const (
	MetaFile  = "session.db"
	ValuesDir = "values"
)

// Option configures a Session.
type Option func(*options)

type options struct {
	logger *slog.Logger
	print  io.Writer
	ids    notebook.IDGenerator
}

// WithLogger sets the logger shared by every component of the session.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithPrint directs print() output of cells to w. Without it, output goes
// to stdout when the config enables printing and is discarded otherwise.
func WithPrint(w io.Writer) Option {
	return func(o *options) {
		o.print = w
	}
}

// WithIDGenerator sets the generator for session and cell ids.
func WithIDGenerator(g notebook.IDGenerator) Option {
	return func(o *options) {
		o.ids = g
	}
}

// Session is one open notebook.
type Session struct {
	id     string
	cfg    config.Config
	logger *slog.Logger
	ids    notebook.IDGenerator

	rt    *runtime.Runtime
	store *store.Store
	chain *notebook.Chain

	// meta is nil for memory sessions.
	meta *store.MetaStore
}

// Open starts a session. A disk session whose directory already holds a
// chain record is reloaded: its nodes, bindings and value refcounts are
// restored and payloads nothing references are deleted.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{
		logger: slog.Default(),
		ids:    notebook.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.print == nil {
		o.print = io.Discard
		if cfg.Print {
			o.print = os.Stdout
		}
	}

	rt := runtime.New(runtime.WithPrint(o.print), runtime.WithLogger(o.logger))
	c := codec.New(rt)

	s := &Session{
		cfg:    cfg,
		logger: o.logger,
		ids:    o.ids,
		rt:     rt,
	}

	var backend store.Backend
	switch cfg.Mode {
	case config.ModeMemory:
		backend = store.NewMemoryBackend()
	case config.ModeDisk:
		dir := cfg.SessionDir()
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}
		disk, err := store.NewDiskBackend(filepath.Join(dir, ValuesDir), cfg.PayloadCacheSize)
		if err != nil {
			return nil, err
		}
		backend = disk
		meta, err := store.OpenMeta(filepath.Join(dir, MetaFile))
		if err != nil {
			return nil, err
		}
		s.meta = meta
	}

	s.store = store.New(backend, c, store.WithLogger(o.logger))
	s.chain = notebook.New(rt, s.store, notebook.WithLogger(o.logger))

	if err := s.load(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) load(ctx context.Context) error {
	if s.meta == nil {
		s.id = s.ids.Generate()
		return nil
	}

	rec, err := s.meta.LoadChain(ctx)
	if errors.Is(err, store.ErrNoChain) {
		s.id = s.ids.Generate()
		s.logger.Debug("new session", "session", s.id, "dir", s.cfg.SessionDir())
		return s.persist(ctx)
	}
	if err != nil {
		return err
	}

	if rec.EngineVersion != ir.EngineVersion {
		s.logger.Warn("chain record written by a different engine version",
			"recorded", rec.EngineVersion,
			"current", ir.EngineVersion,
		)
	}
	if err := s.store.Restore(rec.Refcounts()); err != nil {
		return fmt.Errorf("reload %s: %w", s.cfg.SessionDir(), err)
	}
	if err := s.chain.Restore(*rec); err != nil {
		return fmt.Errorf("reload %s: %w", s.cfg.SessionDir(), err)
	}
	s.id = rec.SessionID
	s.logger.Info("reloaded session",
		"session", s.id,
		"nodes", s.chain.Len(),
		"values", s.store.Len(),
	)
	return nil
}

// persist writes the chain record of a disk session.
func (s *Session) persist(ctx context.Context) error {
	if s.meta == nil {
		return nil
	}
	rec := s.chain.Snapshot()
	rec.SessionID = s.id
	if err := s.meta.SaveChain(ctx, rec); err != nil {
		return fmt.Errorf("persist chain: %w", err)
	}
	return nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Config returns the validated configuration.
func (s *Session) Config() config.Config { return s.cfg }

// Chain returns the session's chain.
func (s *Session) Chain() *notebook.Chain { return s.chain }

// Store returns the session's value store.
func (s *Session) Store() *store.Store { return s.store }

// Runtime returns the session's runtime.
func (s *Session) Runtime() *runtime.Runtime { return s.rt }

// NewCellID returns a fresh cell id.
func (s *Session) NewCellID() string { return s.ids.Generate() }

// InsertAndRun places and runs a cell. Disk sessions persist the chain
// after every run, failed ones included: a failure can leave the cell
// moved, its code replaced and healed ancestors' old values released.
func (s *Session) InsertAndRun(ctx context.Context, id, after, code string) (*notebook.RunResult, error) {
	res, err := s.chain.InsertAndRun(id, after, code)
	return s.settle(ctx, res, err)
}

// Run re-runs an existing cell.
func (s *Session) Run(ctx context.Context, id string) (*notebook.RunResult, error) {
	res, err := s.chain.Run(id)
	return s.settle(ctx, res, err)
}

// settle persists the chain after a run and merges a persist failure into
// the run's own error.
func (s *Session) settle(ctx context.Context, res *notebook.RunResult, err error) (*notebook.RunResult, error) {
	if perr := s.persist(ctx); perr != nil {
		if err != nil {
			return nil, errors.Join(err, perr)
		}
		return nil, perr
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Positions returns the prompt labels of every cell.
func (s *Session) Positions() []notebook.Position {
	return s.chain.Positions()
}

// Export returns the minimal script that recomputes cell id.
func (s *Session) Export(id string, opts export.Options) (string, error) {
	return export.Export(s.chain, id, opts)
}

// Close releases the chain record database. Memory sessions lose all
// state.
func (s *Session) Close() error {
	if s.meta == nil {
		return nil
	}
	err := s.meta.Close()
	s.meta = nil
	return err
}
