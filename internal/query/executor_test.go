package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/goccy/go-json"
	"github.com/kaz/mysqlquery/internal/pool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	exec *Executor
	mock sqlmock.Sqlmock
	reg  *pool.Registry
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)

	reg := pool.NewRegistry(pool.DefaultOptions(), zerolog.Nop(), pool.WithOpener(func(*mysql.Config) (*sql.DB, error) {
		return db, nil
	}))
	t.Cleanup(func() { _ = reg.Close() })

	return &harness{
		exec: NewExecutor(reg, zerolog.Nop(), opts...),
		mock: mock,
		reg:  reg,
	}
}

func (h *harness) itemRows(ids ...int) *sqlmock.Rows {
	rows := sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("id").OfType("INT", int64(0)),
		sqlmock.NewColumn("name").OfType("VARCHAR", ""),
	)
	for _, id := range ids {
		rows.AddRow(int64(id), fmt.Sprintf("item%d", id))
	}
	return rows
}

func (h *harness) countRows(n any) *sqlmock.Rows {
	return h.mock.NewRows([]string{"COUNT(1)"}).AddRow(n)
}

func itemsRequest(query string, page, pageSize int) Request {
	return Request{
		Connection: Connection{Host: "db.local", Port: 3306, User: "app", Password: "secret", Database: "shop"},
		Query:      query,
		Page:       page,
		PageSize:   pageSize,
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestRunTwoQueryPagination(t *testing.T) {
	h := newHarness(t)

	h.mock.ExpectQuery("SELECT COUNT(1) FROM (SELECT id, name FROM items ORDER BY id) AS total_count").
		WillReturnRows(h.countRows(int64(5)))
	h.mock.ExpectQuery("SELECT id, name FROM items ORDER BY id LIMIT 2 OFFSET 2").
		WillReturnRows(h.itemRows(3, 4))

	env, err := h.exec.Run(context.Background(), itemsRequest("SELECT id, name FROM items ORDER BY id", 2, 2))
	require.NoError(t, err)

	assert.JSONEq(t,
		`{"data":[{"id":3,"name":"item3"},{"id":4,"name":"item4"}],"total":5,"page":2,"pagesize":2}`,
		mustJSON(t, env))
	assert.LessOrEqual(t, len(env.Data), env.PageSize)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestRunFoundRowsStrategy(t *testing.T) {
	h := newHarness(t)

	stmt := "select sql_calc_found_rows id, name from items order by id"
	h.mock.ExpectQuery(stmt + " LIMIT 2 OFFSET 0").WillReturnRows(h.itemRows(1, 2))
	h.mock.ExpectQuery("SELECT FOUND_ROWS()").WillReturnRows(h.countRows(int64(5)))

	env, err := h.exec.Run(context.Background(), itemsRequest(stmt, 1, 2))
	require.NoError(t, err)

	assert.Equal(t, int64(5), env.Total)
	require.Len(t, env.Data, 2)
	v, _ := env.Data[0].Get("id")
	assert.Equal(t, int64(1), v)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestRunRejectsBeforeAnyIO(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{name: "delete", req: itemsRequest("DELETE FROM items", 1, 10)},
		{name: "update with leading space", req: itemsRequest("   UPDATE items SET name = 'x'", 1, 10)},
		{name: "empty", req: itemsRequest("", 1, 10)},
		{name: "whitespace", req: itemsRequest(" \n\t ", 1, 10)},
		{name: "missing host", req: func() Request {
			r := itemsRequest("SELECT 1", 1, 10)
			r.Host = ""
			return r
		}()},
		{name: "port out of range", req: func() Request {
			r := itemsRequest("SELECT 1", 1, 10)
			r.Port = 70000
			return r
		}()},
		{name: "missing user", req: func() Request {
			r := itemsRequest("SELECT 1", 1, 10)
			r.User = ""
			return r
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			env, err := h.exec.Run(context.Background(), tt.req)
			assert.Nil(t, env)
			require.Error(t, err)
			assert.Equal(t, KindValidation, KindOf(err))
			assert.Equal(t, int64(0), h.reg.Created())
			assert.NoError(t, h.mock.ExpectationsWereMet())
		})
	}
}

func TestRunClampsPaging(t *testing.T) {
	tests := []struct {
		name         string
		page, size   int
		wantPage     int
		wantSize     int
		wantPageStmt string
	}{
		{name: "zero page", page: 0, size: 10, wantPage: 1, wantSize: 10, wantPageStmt: "SELECT id, name FROM items LIMIT 10 OFFSET 0"},
		{name: "negative page", page: -4, size: 5, wantPage: 1, wantSize: 5, wantPageStmt: "SELECT id, name FROM items LIMIT 5 OFFSET 0"},
		{name: "oversized page size", page: 1, size: 500, wantPage: 1, wantSize: 100, wantPageStmt: "SELECT id, name FROM items LIMIT 100 OFFSET 0"},
		{name: "zero page size", page: 3, size: 0, wantPage: 3, wantSize: 1, wantPageStmt: "SELECT id, name FROM items LIMIT 1 OFFSET 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.mock.ExpectQuery("SELECT COUNT(1) FROM (SELECT id, name FROM items) AS total_count").
				WillReturnRows(h.countRows(int64(0)))
			h.mock.ExpectQuery(tt.wantPageStmt).WillReturnRows(h.itemRows())

			env, err := h.exec.Run(context.Background(), itemsRequest("SELECT id, name FROM items", tt.page, tt.size))
			require.NoError(t, err)

			assert.Equal(t, tt.wantPage, env.Page)
			assert.Equal(t, tt.wantSize, env.PageSize)
			assert.NoError(t, h.mock.ExpectationsWereMet())
		})
	}
}

func TestRunStripsTrailingSemicolon(t *testing.T) {
	h := newHarness(t)

	h.mock.ExpectQuery("SELECT COUNT(1) FROM (SELECT id, name FROM items) AS total_count").
		WillReturnRows(h.countRows(int64(1)))
	h.mock.ExpectQuery("SELECT id, name FROM items LIMIT 10 OFFSET 0").
		WillReturnRows(h.itemRows(1))

	_, err := h.exec.Run(context.Background(), itemsRequest("SELECT id, name FROM items ; \n", 1, 10))
	require.NoError(t, err)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestRunEmptyResult(t *testing.T) {
	h := newHarness(t)

	h.mock.ExpectQuery("SELECT COUNT(1) FROM (SELECT id, name FROM items WHERE id > 100) AS total_count").
		WillReturnRows(h.countRows(nil))
	h.mock.ExpectQuery("SELECT id, name FROM items WHERE id > 100 LIMIT 10 OFFSET 0").
		WillReturnRows(h.itemRows())

	env, err := h.exec.Run(context.Background(), itemsRequest("SELECT id, name FROM items WHERE id > 100", 1, 10))
	require.NoError(t, err)

	assert.JSONEq(t, `{"data":[],"total":0,"page":1,"pagesize":10}`, mustJSON(t, env))
}

func TestRunNullInTypedColumn(t *testing.T) {
	h := newHarness(t)

	rows := sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("id").OfType("INT", int64(0)),
		sqlmock.NewColumn("name").OfType("VARCHAR", ""),
	).AddRow(int64(1), nil)

	h.mock.ExpectQuery("SELECT COUNT(1) FROM (SELECT id, name FROM items) AS total_count").
		WillReturnRows(h.countRows(int64(1)))
	h.mock.ExpectQuery("SELECT id, name FROM items LIMIT 10 OFFSET 0").WillReturnRows(rows)

	env, err := h.exec.Run(context.Background(), itemsRequest("SELECT id, name FROM items", 1, 10))
	require.NoError(t, err)

	assert.JSONEq(t, `[{"id":1,"name":null}]`, mustJSON(t, env.Data))
}

func TestRunIsIdempotent(t *testing.T) {
	h := newHarness(t)

	for range 2 {
		h.mock.ExpectQuery("SELECT COUNT(1) FROM (SELECT id, name FROM items ORDER BY id) AS total_count").
			WillReturnRows(h.countRows(int64(5)))
		h.mock.ExpectQuery("SELECT id, name FROM items ORDER BY id LIMIT 2 OFFSET 0").
			WillReturnRows(h.itemRows(1, 2))
	}

	req := itemsRequest("SELECT id, name FROM items ORDER BY id", 1, 2)
	first, err := h.exec.Run(context.Background(), req)
	require.NoError(t, err)
	second, err := h.exec.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, mustJSON(t, first), mustJSON(t, second))
	assert.Equal(t, int64(1), h.reg.Created())
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestRunErrorKinds(t *testing.T) {
	const stmt = "SELECT id, name FROM items WHERE name = 'x'"
	countSQL := "SELECT COUNT(1) FROM (" + stmt + ") AS total_count"
	pageSQL := stmt + " LIMIT 10 OFFSET 0"

	tests := []struct {
		name      string
		setup     func(h *harness)
		wantKind  Kind
		wantPhase string
		retryable bool
	}{
		{
			name: "count fails",
			setup: func(h *harness) {
				h.mock.ExpectQuery(countSQL).WillReturnError(&mysql.MySQLError{Number: 1146, Message: "Table 'shop.items' doesn't exist"})
			},
			wantKind:  KindExecution,
			wantPhase: PhaseCount,
		},
		{
			name: "page fails",
			setup: func(h *harness) {
				h.mock.ExpectQuery(countSQL).WillReturnRows(h.countRows(int64(1)))
				h.mock.ExpectQuery(pageSQL).WillReturnError(errors.New("syntax error"))
			},
			wantKind:  KindExecution,
			wantPhase: PhasePage,
		},
		{
			name: "server gone",
			setup: func(h *harness) {
				h.mock.ExpectQuery(countSQL).WillReturnError(&mysql.MySQLError{Number: 2013, Message: "Lost connection"})
			},
			wantKind:  KindConnectivity,
			wantPhase: PhaseCount,
			retryable: true,
		},
		{
			name: "access denied",
			setup: func(h *harness) {
				h.mock.ExpectQuery(countSQL).WillReturnError(&mysql.MySQLError{Number: 1045, Message: "Access denied"})
			},
			wantKind:  KindConnectivity,
			wantPhase: PhaseCount,
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)

			env, err := h.exec.Run(context.Background(), itemsRequest(stmt, 1, 10))
			assert.Nil(t, env)

			var qe *Error
			require.ErrorAs(t, err, &qe)
			assert.Equal(t, tt.wantKind, qe.Kind)
			assert.Equal(t, tt.wantPhase, qe.Phase)
			assert.Equal(t, tt.retryable, qe.Retryable())
			assert.NotContains(t, qe.SQL, "'x'")
			assert.NoError(t, h.mock.ExpectationsWereMet())
		})
	}
}

func TestRunFoundRowsFailureNamesPhase(t *testing.T) {
	h := newHarness(t)

	stmt := "SELECT SQL_CALC_FOUND_ROWS id, name FROM items"
	h.mock.ExpectQuery(stmt + " LIMIT 10 OFFSET 0").WillReturnRows(h.itemRows(1))
	h.mock.ExpectQuery("SELECT FOUND_ROWS()").WillReturnError(errors.New("boom"))

	_, err := h.exec.Run(context.Background(), itemsRequest(stmt, 1, 10))

	var qe *Error
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, KindExecution, qe.Kind)
	assert.Equal(t, PhaseFoundRows, qe.Phase)
}

func TestRunOpenFailureIsConnectivity(t *testing.T) {
	reg := pool.NewRegistry(pool.DefaultOptions(), zerolog.Nop(), pool.WithOpener(func(*mysql.Config) (*sql.DB, error) {
		return nil, errors.New("dial tcp: connection refused")
	}))
	exec := NewExecutor(reg, zerolog.Nop())

	_, err := exec.Run(context.Background(), itemsRequest("SELECT 1", 1, 10))

	var qe *Error
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, KindConnectivity, qe.Kind)
	assert.Equal(t, PhaseAcquire, qe.Phase)
	assert.True(t, qe.Retryable())
}

func TestRunSnapshotCommits(t *testing.T) {
	h := newHarness(t, WithSnapshot(true))

	h.mock.ExpectBegin()
	h.mock.ExpectQuery("SELECT COUNT(1) FROM (SELECT id, name FROM items) AS total_count").
		WillReturnRows(h.countRows(int64(2)))
	h.mock.ExpectQuery("SELECT id, name FROM items LIMIT 10 OFFSET 0").
		WillReturnRows(h.itemRows(1, 2))
	h.mock.ExpectCommit()

	env, err := h.exec.Run(context.Background(), itemsRequest("SELECT id, name FROM items", 1, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(2), env.Total)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestRunSnapshotRollsBackOnFailure(t *testing.T) {
	h := newHarness(t, WithSnapshot(true))

	h.mock.ExpectBegin()
	h.mock.ExpectQuery("SELECT COUNT(1) FROM (SELECT id, name FROM items) AS total_count").
		WillReturnError(errors.New("lock wait timeout"))
	h.mock.ExpectRollback()

	_, err := h.exec.Run(context.Background(), itemsRequest("SELECT id, name FROM items", 1, 10))
	assert.Equal(t, KindExecution, KindOf(err))
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestRunNotifiesObservers(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []Summary
	)
	h := newHarness(t, WithObserver(ObserverFunc(func(_ context.Context, s Summary) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})))

	stmt := "SELECT id, name FROM items WHERE name = 'item1'"
	h.mock.ExpectQuery("SELECT COUNT(1) FROM (" + stmt + ") AS total_count").WillReturnRows(h.countRows(int64(1)))
	h.mock.ExpectQuery(stmt + " LIMIT 10 OFFSET 0").WillReturnRows(h.itemRows(1))

	_, err := h.exec.Run(context.Background(), itemsRequest(stmt, 1, 10))
	require.NoError(t, err)
	_, err = h.exec.Run(context.Background(), itemsRequest("DROP TABLE items", 1, 10))
	require.Error(t, err)

	require.Len(t, seen, 2)

	ok := seen[0]
	assert.NotEmpty(t, ok.ID)
	assert.Equal(t, "ok", ok.Outcome)
	assert.Equal(t, StrategyTwoQuery, ok.Strategy)
	assert.Equal(t, 1, ok.Rows)
	assert.Equal(t, int64(1), ok.Total)
	assert.Equal(t, "db.local", ok.Identity.Host)
	assert.NotContains(t, ok.Fingerprint, "item1")

	failed := seen[1]
	assert.Equal(t, string(KindValidation), failed.Outcome)
	assert.Equal(t, PhaseValidate, failed.Phase)
	assert.NotEqual(t, ok.ID, failed.ID)
}

func TestSummaryOmitsDriverText(t *testing.T) {
	var seen []Summary
	h := newHarness(t, WithObserver(ObserverFunc(func(_ context.Context, s Summary) {
		seen = append(seen, s)
	})))

	stmt := "SELECT id FROM items WHERE token = 'hunter2' ORDER"
	h.mock.ExpectQuery("SELECT COUNT(1) FROM (" + stmt + ") AS total_count").
		WillReturnError(&mysql.MySQLError{Number: 1064, Message: "You have an error in your SQL syntax; check the manual near 'hunter2' ORDER' at line 1"})

	_, err := h.exec.Run(context.Background(), itemsRequest(stmt, 1, 10))
	require.Error(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, string(KindExecution), seen[0].Outcome)
	assert.Equal(t, PhaseCount, seen[0].Phase)
	assert.Contains(t, seen[0].Message, "mysql error 1064")
	assert.NotContains(t, seen[0].Message, "hunter2")
	assert.NotContains(t, seen[0].Fingerprint, "hunter2")
}

func TestRunHonorsLowerPageCeiling(t *testing.T) {
	h := newHarness(t, WithMaxPageSize(20))

	h.mock.ExpectQuery("SELECT COUNT(1) FROM (SELECT id, name FROM items) AS total_count").
		WillReturnRows(h.countRows(int64(0)))
	h.mock.ExpectQuery("SELECT id, name FROM items LIMIT 20 OFFSET 20").
		WillReturnRows(h.itemRows())

	env, err := h.exec.Run(context.Background(), itemsRequest("SELECT id, name FROM items", 2, 80))
	require.NoError(t, err)
	assert.Equal(t, 20, env.PageSize)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}
