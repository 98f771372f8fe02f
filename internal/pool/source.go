package pool

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"
)

// Source is a long-lived pooled connection source for one Identity
type Source struct {
	id       Identity
	db       *sql.DB
	digest   [32]byte
	acquire  time.Duration
	created  time.Time
	lastUsed atomic.Int64
}

// SourceStats is a point-in-time view of a Source
type SourceStats struct {
	Identity        Identity  `json:"identity"`
	CreatedAt       time.Time `json:"created_at"`
	LastUsed        time.Time `json:"last_used"`
	MaxOpen         int       `json:"max_open"`
	Open            int       `json:"open"`
	InUse           int       `json:"in_use"`
	Idle            int       `json:"idle"`
	WaitCount       int64     `json:"wait_count"`
	WaitDuration    string    `json:"wait_duration"`
	IdleClosed      int64     `json:"idle_closed"`
	LifetimeClosed  int64     `json:"lifetime_closed"`
	waitDurationRaw time.Duration
}

func (s *Source) Identity() Identity { return s.id }

// DB exposes the underlying handle, mostly for the catalog queries
func (s *Source) DB() *sql.DB { return s.db }

// Conn checks out one connection, waiting at most the acquisition timeout.
// The caller must Close it to hand it back to the pool.
func (s *Source) Conn(ctx context.Context) (*sql.Conn, error) {
	if s.acquire > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.acquire)
		defer cancel()
	}
	return s.db.Conn(ctx)
}

// Stats snapshots the pool counters
func (s *Source) Stats() SourceStats {
	st := s.db.Stats()
	return SourceStats{
		Identity:        s.id,
		CreatedAt:       s.created,
		LastUsed:        s.lastUsedAt(),
		MaxOpen:         st.MaxOpenConnections,
		Open:            st.OpenConnections,
		InUse:           st.InUse,
		Idle:            st.Idle,
		WaitCount:       st.WaitCount,
		WaitDuration:    st.WaitDuration.String(),
		IdleClosed:      st.MaxIdleTimeClosed,
		LifetimeClosed:  st.MaxLifetimeClosed,
		waitDurationRaw: st.WaitDuration,
	}
}

func (s *Source) touch(t time.Time) {
	s.lastUsed.Store(t.UnixNano())
}

func (s *Source) lastUsedAt() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}
