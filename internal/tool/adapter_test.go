package tool

import (
	"context"
	"math"
	"testing"

	"github.com/goccy/go-json"
	"github.com/kaz/mysqlquery/internal/normalize"
	"github.com/kaz/mysqlquery/internal/profile"
	"github.com/kaz/mysqlquery/internal/query"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	got []query.Request
	env *query.Envelope
	err error
}

func (f *fakeRunner) Run(_ context.Context, req query.Request) (*query.Envelope, error) {
	f.got = append(f.got, req)
	return f.env, f.err
}

func newTestAdapter(t *testing.T, r *fakeRunner) *Adapter {
	t.Helper()
	store := profile.NewStore(zerolog.Nop())
	require.NoError(t, store.Register(profile.Profile{Name: "prod", Host: "db.prod", Port: 3307, User: "app", Password: "pw", Database: "shop"}))
	return NewAdapter(r, store, zerolog.Nop())
}

func TestInvokeSuccess(t *testing.T) {
	r := &fakeRunner{env: &query.Envelope{
		Data:     []normalize.Record{{{Name: "id", Value: int64(1)}}},
		Total:    1,
		Page:     1,
		PageSize: 10,
	}}
	a := newTestAdapter(t, r)

	res := a.Invoke(context.Background(), map[string]any{
		"host": "db.local", "user": "app", "password": "secret", "database": "shop",
		"query": "SELECT id FROM items",
	})

	assert.False(t, res.IsError)
	assert.JSONEq(t, `{"data":[{"id":1}],"total":1,"page":1,"pagesize":10}`, res.Text)

	require.Len(t, r.got, 1)
	assert.Equal(t, 3306, r.got[0].Port)
	assert.Equal(t, 1, r.got[0].Page)
	assert.Equal(t, 10, r.got[0].PageSize)
	assert.Equal(t, "secret", r.got[0].Password)
}

func TestInvokeNumericArguments(t *testing.T) {
	tests := []struct {
		name         string
		args         map[string]any
		wantPage     int
		wantPageSize int
		wantPort     int
	}{
		{name: "json numbers", args: map[string]any{"page": float64(2), "pagesize": float64(25), "port": float64(3310)}, wantPage: 2, wantPageSize: 25, wantPort: 3310},
		{name: "numeric strings", args: map[string]any{"page": "3", "pagesize": " 5 ", "port": "3311"}, wantPage: 3, wantPageSize: 5, wantPort: 3311},
		{name: "empty strings default", args: map[string]any{"page": "", "pagesize": "", "port": ""}, wantPage: 1, wantPageSize: 10, wantPort: 3306},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRunner{env: &query.Envelope{Data: []normalize.Record{}}}
			a := newTestAdapter(t, r)

			args := map[string]any{"host": "h", "user": "u", "query": "SELECT 1"}
			for k, v := range tt.args {
				args[k] = v
			}
			res := a.Invoke(context.Background(), args)
			require.False(t, res.IsError, res.Text)

			require.Len(t, r.got, 1)
			assert.Equal(t, tt.wantPage, r.got[0].Page)
			assert.Equal(t, tt.wantPageSize, r.got[0].PageSize)
			assert.Equal(t, tt.wantPort, r.got[0].Port)
		})
	}
}

func TestInvokeRejectsNonNumeric(t *testing.T) {
	for _, key := range []string{"page", "pagesize", "port"} {
		t.Run(key, func(t *testing.T) {
			r := &fakeRunner{}
			a := newTestAdapter(t, r)

			res := a.Invoke(context.Background(), map[string]any{
				"host": "h", "user": "u", "query": "SELECT 1", key: "abc",
			})

			assert.True(t, res.IsError)
			assert.Equal(t, query.KindValidation, res.Kind)
			assert.Empty(t, r.got)
		})
	}
}

func TestInvokeProfileWithOverrides(t *testing.T) {
	r := &fakeRunner{env: &query.Envelope{Data: []normalize.Record{}}}
	a := newTestAdapter(t, r)

	res := a.Invoke(context.Background(), map[string]any{
		"connection": "PROD",
		"database":   "billing",
		"query":      "SELECT 1",
	})
	require.False(t, res.IsError, res.Text)

	require.Len(t, r.got, 1)
	got := r.got[0]
	assert.Equal(t, "db.prod", got.Host)
	assert.Equal(t, 3307, got.Port)
	assert.Equal(t, "app", got.User)
	assert.Equal(t, "pw", got.Password)
	assert.Equal(t, "billing", got.Database)
}

func TestInvokeUnknownProfile(t *testing.T) {
	a := newTestAdapter(t, &fakeRunner{})

	res := a.Invoke(context.Background(), map[string]any{"connection": "staging", "query": "SELECT 1"})

	assert.True(t, res.IsError)
	assert.Equal(t, query.KindValidation, res.Kind)
}

func TestInvokeErrorDocument(t *testing.T) {
	r := &fakeRunner{err: &query.Error{Kind: query.KindExecution, Phase: query.PhaseCount, Message: "count query failed", SQL: "select count(?) from t"}}
	a := newTestAdapter(t, r)

	res := a.Invoke(context.Background(), map[string]any{"host": "h", "user": "u", "query": "SELECT * FROM t"})
	require.True(t, res.IsError)
	assert.Equal(t, query.KindExecution, res.Kind)

	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Text), &body))
	assert.Equal(t, "execution", body["error"]["kind"])
	assert.Equal(t, "count", body["error"]["phase"])
	assert.Equal(t, "select count(?) from t", body["error"]["sql"])
	assert.NotContains(t, res.Text, "secret")
}

func TestConnectionKeepsCredentialsVerbatim(t *testing.T) {
	a := newTestAdapter(t, &fakeRunner{})

	conn, err := a.Connection(map[string]any{
		"host":     "  db.local ",
		"user":     " app ",
		"password": "  p@ss  ",
		"database": " shop ",
	})
	require.NoError(t, err)

	assert.Equal(t, "db.local", conn.Host)
	assert.Equal(t, "shop", conn.Database)
	assert.Equal(t, " app ", conn.User)
	assert.Equal(t, "  p@ss  ", conn.Password)
}

func TestConnectionPaddedPasswordOverridesProfile(t *testing.T) {
	a := newTestAdapter(t, &fakeRunner{})

	conn, err := a.Connection(map[string]any{"connection": " prod ", "password": " pw "})
	require.NoError(t, err)
	assert.Equal(t, "db.prod", conn.Host)
	assert.Equal(t, " pw ", conn.Password)
}

func TestInvokeOutOfRangeNumbersSaturate(t *testing.T) {
	tests := []struct {
		name     string
		page     any
		wantPage int
	}{
		{name: "huge float", page: 1e20, wantPage: math.MaxInt},
		{name: "huge negative float", page: -1e20, wantPage: math.MinInt},
		{name: "huge json number", page: json.Number("100000000000000000000"), wantPage: math.MaxInt},
		{name: "huge numeric string", page: "100000000000000000000", wantPage: math.MaxInt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRunner{env: &query.Envelope{Data: []normalize.Record{}}}
			a := newTestAdapter(t, r)

			res := a.Invoke(context.Background(), map[string]any{
				"host": "h", "user": "u", "query": "SELECT 1", "page": tt.page, "pagesize": 1e30,
			})
			require.False(t, res.IsError, res.Text)

			require.Len(t, r.got, 1)
			assert.Equal(t, tt.wantPage, r.got[0].Page)
			assert.Equal(t, math.MaxInt, r.got[0].PageSize)
		})
	}
}

func TestInvokeRejectsFractionalJSONNumber(t *testing.T) {
	r := &fakeRunner{}
	a := newTestAdapter(t, r)

	res := a.Invoke(context.Background(), map[string]any{
		"host": "h", "user": "u", "query": "SELECT 1", "page": json.Number("2.5"),
	})
	assert.True(t, res.IsError)
	assert.Equal(t, query.KindValidation, res.Kind)
	assert.Empty(t, r.got)
}
