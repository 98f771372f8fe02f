// Package pool keeps one pooled *sql.DB per connection identity for the life
// of the process, creating each lazily on first use.
package pool

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by Get after Close
var ErrClosed = errors.New("pool registry is closed")

// Options configures every Source a Registry creates
type Options struct {
	Size           int           // idle connections kept per source
	MaxOverflow    int           // extra connections allowed above Size
	AcquireTimeout time.Duration // bounded wait for a free connection
	Recycle        time.Duration // maximum connection lifetime
	IdleTimeout    time.Duration // idle connections are closed after this
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTTL        time.Duration // sources unused this long are evicted; 0 disables
	SweepInterval  time.Duration
	RetireGrace    time.Duration // replaced sources stay open this long after last use
}

const defaultRetireGrace = time.Minute

// DefaultOptions mirrors a conservative production pool
func DefaultOptions() Options {
	return Options{
		Size:           5,
		MaxOverflow:    10,
		AcquireTimeout: 30 * time.Second,
		Recycle:        time.Hour,
		IdleTimeout:    10 * time.Minute,
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTTL:        30 * time.Minute,
		SweepInterval:  time.Minute,
		RetireGrace:    defaultRetireGrace,
	}
}

// OpenFunc opens a database handle for a driver configuration
type OpenFunc func(cfg *mysql.Config) (*sql.DB, error)

func openMySQL(cfg *mysql.Config) (*sql.DB, error) {
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(connector), nil
}

// Registry maps identities to pooled sources. It is safe for concurrent use.
type Registry struct {
	opts Options
	open OpenFunc
	now  func() time.Time
	log  zerolog.Logger

	mu      sync.Mutex
	sources map[Identity]*Source
	retired []*Source
	closed  bool

	created atomic.Int64
}

// RegistryOption customizes a Registry
type RegistryOption func(*Registry)

// WithOpener replaces the driver open call, e.g. with sqlmock in tests
func WithOpener(fn OpenFunc) RegistryOption {
	return func(r *Registry) { r.open = fn }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty registry
func NewRegistry(opts Options, log zerolog.Logger, options ...RegistryOption) *Registry {
	r := &Registry{
		opts:    opts,
		open:    openMySQL,
		now:     time.Now,
		log:     log.With().Str("component", "pool").Logger(),
		sources: make(map[Identity]*Source),
	}
	for _, o := range options {
		o(r)
	}
	return r
}

// Get returns the source for id, creating it on first use. Connectivity is not
// checked here; the first checkout dials.
//
// A source remembers a digest of the password that created it. A request for
// the same identity with a different password replaces the source, so rotated
// credentials take effect and no caller runs on someone else's password. The
// replaced source is retired, not closed: callers already holding it keep
// working, and Sweep closes it once it is unused for RetireGrace.
func (r *Registry) Get(id Identity, password string) (*Source, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return r.getOrCreate(id, password)
}

func (r *Registry) getOrCreate(id Identity, password string) (*Source, error) {
	digest := sha256.Sum256([]byte(password))

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	if s, ok := r.sources[id]; ok {
		if s.digest == digest {
			s.touch(r.now())
			return s, nil
		}
		delete(r.sources, id)
		r.retired = append(r.retired, s)
		r.log.Info().Str("identity", id.String()).Msg("pool retired, credentials changed")
	}

	db, err := r.open(r.driverConfig(id, password))
	if err != nil {
		return nil, fmt.Errorf("failed to open pool for %s: %w", id, err)
	}
	r.configure(db)

	s := &Source{
		id:      id,
		db:      db,
		digest:  digest,
		acquire: r.opts.AcquireTimeout,
		created: r.now(),
	}
	s.touch(s.created)
	r.sources[id] = s
	r.created.Add(1)

	r.log.Info().Str("identity", id.String()).Int("size", r.opts.Size).Int("max_overflow", r.opts.MaxOverflow).Msg("pool created")
	return s, nil
}

func (r *Registry) driverConfig(id Identity, password string) *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.User = id.User
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = id.Addr()
	cfg.DBName = id.Database
	cfg.Timeout = r.opts.ConnectTimeout
	cfg.ReadTimeout = r.opts.ReadTimeout
	cfg.WriteTimeout = r.opts.WriteTimeout
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg
}

func (r *Registry) configure(db *sql.DB) {
	if r.opts.Size > 0 {
		db.SetMaxIdleConns(r.opts.Size)
		db.SetMaxOpenConns(r.opts.Size + max(r.opts.MaxOverflow, 0))
	}
	if r.opts.Recycle > 0 {
		db.SetConnMaxLifetime(r.opts.Recycle)
	}
	if r.opts.IdleTimeout > 0 {
		db.SetConnMaxIdleTime(r.opts.IdleTimeout)
	}
}

// Created reports how many sources have been created so far
func (r *Registry) Created() int64 {
	return r.created.Load()
}

// Len reports how many sources are cached
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sources)
}

// Retired reports how many replaced sources are still open
func (r *Registry) Retired() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.retired)
}

// Sweep closes retired sources unused for RetireGrace and evicts sources idle
// for at least IdleTTL. Sources with checked-out connections are kept. It
// returns how many were closed.
func (r *Registry) Sweep(now time.Time) int {
	grace := r.opts.RetireGrace
	if grace <= 0 {
		grace = defaultRetireGrace
	}

	var stale, done []*Source
	r.mu.Lock()
	kept := r.retired[:0]
	for _, s := range r.retired {
		if now.Sub(s.lastUsedAt()) < grace || s.db.Stats().InUse > 0 {
			kept = append(kept, s)
			continue
		}
		done = append(done, s)
	}
	clear(r.retired[len(kept):])
	r.retired = kept

	if r.opts.IdleTTL > 0 {
		for id, s := range r.sources {
			if now.Sub(s.lastUsedAt()) < r.opts.IdleTTL || s.db.Stats().InUse > 0 {
				continue
			}
			delete(r.sources, id)
			stale = append(stale, s)
		}
	}
	r.mu.Unlock()

	for _, s := range done {
		r.closeSource(s, "retired")
	}
	for _, s := range stale {
		r.closeSource(s, "idle")
	}
	return len(done) + len(stale)
}

// Run sweeps periodically until ctx is done
func (r *Registry) Run(ctx context.Context) error {
	if r.opts.SweepInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Sweep(r.now()); n > 0 {
				r.log.Debug().Int("evicted", n).Msg("idle pools swept")
			}
		}
	}
}

// Stats snapshots every cached source, ordered by identity
func (r *Registry) Stats() []SourceStats {
	r.mu.Lock()
	sources := make([]*Source, 0, len(r.sources))
	for _, s := range r.sources {
		sources = append(sources, s)
	}
	r.mu.Unlock()

	stats := make([]SourceStats, 0, len(sources))
	for _, s := range sources {
		stats = append(stats, s.Stats())
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Identity.String() < stats[j].Identity.String()
	})
	return stats
}

// Close closes every source; Get fails afterwards
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	sources := r.retired
	for _, s := range r.sources {
		sources = append(sources, s)
	}
	r.sources = make(map[Identity]*Source)
	r.retired = nil
	r.mu.Unlock()

	eg := &errgroup.Group{}
	for _, s := range sources {
		s := s
		eg.Go(func() error {
			if err := s.db.Close(); err != nil {
				return fmt.Errorf("failed to close pool for %s: %w", s.id, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

func (r *Registry) closeSource(s *Source, reason string) {
	if err := s.db.Close(); err != nil {
		r.log.Warn().Err(err).Str("identity", s.id.String()).Msg("failed to close pool")
		return
	}
	r.log.Info().Str("identity", s.id.String()).Str("reason", reason).Msg("pool closed")
}
