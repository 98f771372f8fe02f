// Package query runs caller-supplied SELECT statements page by page against
// pooled MySQL connections and assembles the JSON-safe result envelope.
package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kaz/mysqlquery/internal/normalize"
	"github.com/kaz/mysqlquery/internal/pool"
	pquery "github.com/percona/go-mysql/query"
	"github.com/rs/zerolog"
)

// Strategy is the way total and page are computed
type Strategy string

const (
	// StrategyTwoQuery counts with a wrapping COUNT(1) before reading the page
	StrategyTwoQuery Strategy = "two_query"
	// StrategyFoundRows reads the page then asks the session for FOUND_ROWS()
	StrategyFoundRows Strategy = "found_rows"
)

const foundRowsSQL = "SELECT FOUND_ROWS()"

// Sources hands out pooled sources by identity
type Sources interface {
	Get(id pool.Identity, password string) (*pool.Source, error)
}

// Envelope is the paginated result
type Envelope struct {
	Data     []normalize.Record `json:"data"`
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"pagesize"`
}

// Summary describes one finished invocation. It never carries the password
// or the literal query text.
type Summary struct {
	ID          string        `json:"id"`
	Time        time.Time     `json:"time"`
	Identity    pool.Identity `json:"identity"`
	Fingerprint string        `json:"fingerprint"`
	Strategy    Strategy      `json:"strategy"`
	Page        int           `json:"page"`
	PageSize    int           `json:"pagesize"`
	Rows        int           `json:"rows"`
	Total       int64         `json:"total"`
	DurationMS  int64         `json:"duration_ms"`
	Outcome     string        `json:"outcome"`
	Phase       string        `json:"phase,omitempty"`
	Message     string        `json:"message,omitempty"`
}

// Observer is notified after every invocation
type Observer interface {
	Observe(ctx context.Context, s Summary)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(ctx context.Context, s Summary)

func (f ObserverFunc) Observe(ctx context.Context, s Summary) { f(ctx, s) }

// Executor runs paginated queries
type Executor struct {
	sources   Sources
	log       zerolog.Logger
	snapshot  bool
	maxPage   int
	observers []Observer
	now       func() time.Time
}

// Option customizes an Executor
type Option func(*Executor)

// WithSnapshot wraps the count and page statements in one read-only
// REPEATABLE READ transaction so both see the same data
func WithSnapshot(enabled bool) Option {
	return func(e *Executor) { e.snapshot = enabled }
}

// WithMaxPageSize lowers the page size ceiling below MaxPageSize
func WithMaxPageSize(n int) Option {
	return func(e *Executor) {
		if n > 0 && n < MaxPageSize {
			e.maxPage = n
		}
	}
}

// WithObserver registers an observer; may be given more than once
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observers = append(e.observers, o) }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

func NewExecutor(sources Sources, log zerolog.Logger, opts ...Option) *Executor {
	e := &Executor{
		sources: sources,
		log:     log.With().Str("component", "query").Logger(),
		maxPage: MaxPageSize,
		now:     time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// plan is the ordered pair of statements for one request
type plan struct {
	strategy Strategy
	count    string
	page     string
}

func newPlan(req Request) plan {
	stmt := req.statement()
	p := plan{
		strategy: StrategyTwoQuery,
		page:     fmt.Sprintf("%s LIMIT %d OFFSET %d", stmt, req.PageSize, req.Offset()),
		count:    fmt.Sprintf("SELECT COUNT(1) FROM (%s) AS total_count", stmt),
	}
	if req.usesFoundRows() {
		p.strategy = StrategyFoundRows
		p.count = foundRowsSQL
	}
	return p
}

// Run executes req and returns one page with the total row count.
// Every failure is returned as *Error; Run itself never panics.
func (e *Executor) Run(ctx context.Context, req Request) (*Envelope, error) {
	start := e.now()
	req = req.Clamped()
	req.PageSize = min(req.PageSize, e.maxPage)
	p := newPlan(req)

	sum := Summary{
		ID:          uuid.NewString(),
		Time:        start,
		Identity:    req.Identity(),
		Fingerprint: fingerprint(req.statement()),
		Strategy:    p.strategy,
		Page:        req.Page,
		PageSize:    req.PageSize,
	}

	env, qerr := e.run(ctx, req, p)

	sum.DurationMS = e.now().Sub(start).Milliseconds()
	if qerr != nil {
		sum.Outcome = string(qerr.Kind)
		sum.Phase = qerr.Phase
		sum.Message = qerr.Redacted()
	} else {
		sum.Outcome = "ok"
		sum.Rows = len(env.Data)
		sum.Total = env.Total
	}
	e.finish(ctx, sum)

	if qerr != nil {
		return nil, qerr
	}
	return env, nil
}

func (e *Executor) run(ctx context.Context, req Request, p plan) (*Envelope, *Error) {
	if err := req.check(); err != nil {
		return nil, err
	}

	src, err := e.sources.Get(req.Identity(), req.Password)
	if err != nil {
		if errors.Is(err, pool.ErrInvalidIdentity) {
			return nil, &Error{Kind: KindValidation, Phase: PhaseValidate, Message: "invalid connection parameters", Err: err}
		}
		return nil, acquireError(err)
	}

	conn, err := src.Conn(ctx)
	if err != nil {
		return nil, acquireError(err)
	}
	// returns the connection to the pool on every path
	defer conn.Close()

	pg, total, qerr := e.fetch(ctx, conn, p)
	if qerr != nil {
		return nil, qerr
	}

	records, qerr := e.normalize(pg)
	if qerr != nil {
		return nil, qerr
	}

	return &Envelope{
		Data:     records,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
	}, nil
}

// fetch runs the statement pair on one connection, optionally inside a
// read-only snapshot transaction
func (e *Executor) fetch(ctx context.Context, conn *sql.Conn, p plan) (*page, int64, *Error) {
	if !e.snapshot {
		return runPlan(ctx, conn, p)
	}

	tx, err := conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, 0, statementError(PhaseAcquire, "", err)
	}
	pg, total, qerr := runPlan(ctx, tx, p)
	if qerr != nil {
		if err := tx.Rollback(); err != nil {
			e.log.Warn().Err(err).Msg("failed to roll back snapshot")
		}
		return nil, 0, qerr
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, statementError(p.pagePhase(), "", err)
	}
	return pg, total, nil
}

func (p plan) pagePhase() string {
	if p.strategy == StrategyFoundRows {
		return PhaseFoundRows
	}
	return PhasePage
}

func runPlan(ctx context.Context, q queryer, p plan) (*page, int64, *Error) {
	switch p.strategy {
	case StrategyFoundRows:
		// FOUND_ROWS() reads the session state left by the page statement
		pg, err := readPage(ctx, q, p.page)
		if err != nil {
			return nil, 0, statementError(PhasePage, fingerprint(p.page), err)
		}
		total, err := readCount(ctx, q, p.count)
		if err != nil {
			return nil, 0, statementError(PhaseFoundRows, p.count, err)
		}
		return pg, total, nil

	default:
		total, err := readCount(ctx, q, p.count)
		if err != nil {
			return nil, 0, statementError(PhaseCount, fingerprint(p.count), err)
		}
		pg, err := readPage(ctx, q, p.page)
		if err != nil {
			return nil, 0, statementError(PhasePage, fingerprint(p.page), err)
		}
		return pg, total, nil
	}
}

func (e *Executor) normalize(pg *page) (records []normalize.Record, qerr *Error) {
	defer func() {
		if r := recover(); r != nil {
			records = nil
			qerr = &Error{
				Kind:    KindResultProcessing,
				Phase:   PhaseNormalize,
				Message: "failed to process result",
				Err:     fmt.Errorf("%v", r),
			}
		}
	}()

	if len(pg.columns) == 0 || len(pg.rows) == 0 {
		e.log.Warn().Int("columns", len(pg.columns)).Msg("query returned no rows")
	}
	return normalize.Rows(pg.rows, pg.columns), nil
}

func (e *Executor) finish(ctx context.Context, s Summary) {
	queriesTotal.WithLabelValues(string(s.Strategy), s.Outcome).Inc()
	queryDuration.WithLabelValues(string(s.Strategy)).Observe(float64(s.DurationMS) / 1000)

	ev := e.log.Info()
	if s.Outcome != "ok" {
		ev = e.log.Warn().Str("phase", s.Phase).Str("error", s.Message)
	}
	ev.Str("id", s.ID).
		Str("identity", s.Identity.String()).
		Str("fingerprint", s.Fingerprint).
		Str("strategy", string(s.Strategy)).
		Int("page", s.Page).
		Int("pagesize", s.PageSize).
		Int("rows", s.Rows).
		Int64("total", s.Total).
		Int64("duration_ms", s.DurationMS).
		Str("outcome", s.Outcome).
		Msg("query finished")

	for _, o := range e.observers {
		o.Observe(ctx, s)
	}
}

// fingerprint abstracts literals away so statements can be logged safely
func fingerprint(stmt string) string {
	if stmt == "" {
		return ""
	}
	return pquery.Fingerprint(stmt)
}
