// Package tool maps loosely typed tool arguments onto query requests and
// renders outcomes as the JSON text handed back to MCP and HTTP callers.
package tool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/kaz/mysqlquery/internal/pool"
	"github.com/kaz/mysqlquery/internal/profile"
	"github.com/kaz/mysqlquery/internal/query"
	"github.com/rs/zerolog"
)

// Runner executes one paginated query
type Runner interface {
	Run(ctx context.Context, req query.Request) (*query.Envelope, error)
}

// Profiles resolves named connections
type Profiles interface {
	Get(name string) (profile.Profile, error)
}

// Result is the text payload of one invocation
type Result struct {
	Text    string
	IsError bool
	Kind    query.Kind
}

type errorBody struct {
	Error struct {
		Kind    query.Kind `json:"kind"`
		Phase   string     `json:"phase,omitempty"`
		Message string     `json:"message"`
		SQL     string     `json:"sql,omitempty"`
	} `json:"error"`
}

// Adapter is the single entry point transports call into
type Adapter struct {
	runner   Runner
	profiles Profiles
	log      zerolog.Logger
}

func NewAdapter(runner Runner, profiles Profiles, log zerolog.Logger) *Adapter {
	return &Adapter{
		runner:   runner,
		profiles: profiles,
		log:      log.With().Str("component", "tool").Logger(),
	}
}

// Invoke runs the query described by args. It never returns a Go error;
// failures come back as an error document with IsError set.
func (a *Adapter) Invoke(ctx context.Context, args map[string]any) Result {
	req, err := a.Request(args)
	if err != nil {
		return Failure(err)
	}

	env, err := a.runner.Run(ctx, req)
	if err != nil {
		return Failure(err)
	}
	return Success(env)
}

// Request builds a query request from args
func (a *Adapter) Request(args map[string]any) (query.Request, error) {
	conn, err := a.Connection(args)
	if err != nil {
		return query.Request{}, err
	}

	page, err := intArg(args, "page", query.DefaultPage)
	if err != nil {
		return query.Request{}, err
	}
	pageSize, err := intArg(args, "pagesize", query.DefaultPageSize)
	if err != nil {
		return query.Request{}, err
	}

	q, _ := args["query"].(string)
	return query.Request{
		Connection: conn,
		Query:      q,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// Connection resolves connection parameters. A named profile supplies the
// base values; explicit arguments override them field by field.
func (a *Adapter) Connection(args map[string]any) (query.Connection, error) {
	var conn query.Connection

	if name := stringArg(args, "connection"); name != "" {
		if a.profiles == nil {
			return conn, invalid(fmt.Sprintf("connection profile %q is not available", name), nil)
		}
		p, err := a.profiles.Get(name)
		if err != nil {
			return conn, invalid(fmt.Sprintf("connection profile %q not found", name), err)
		}
		conn = query.Connection{Host: p.Host, Port: p.Port, User: p.User, Password: p.Password, Database: p.Database}
	}

	if v := stringArg(args, "host"); v != "" {
		conn.Host = v
	}
	if v := rawArg(args, "user"); v != "" {
		conn.User = v
	}
	if v := rawArg(args, "password"); v != "" {
		conn.Password = v
	}
	if v := stringArg(args, "database"); v != "" {
		conn.Database = v
	}

	raw, given := args["port"]
	if given && raw != "" {
		port, err := pool.ParsePort(raw)
		if err != nil {
			return conn, invalid("port must be an integer", err)
		}
		conn.Port = port
	}
	if conn.Port == 0 {
		conn.Port = pool.DefaultPort
	}
	return conn, nil
}

// Success encodes v as the result text
func Success(v any) Result {
	b, err := json.Marshal(v)
	if err != nil {
		return Failure(&query.Error{Kind: query.KindResultProcessing, Phase: "encode", Message: "failed to encode result", Err: err})
	}
	return Result{Text: string(b)}
}

// Failure encodes err as an error document
func Failure(err error) Result {
	var body errorBody

	var qe *query.Error
	if !errors.As(err, &qe) {
		qe = &query.Error{Kind: query.KindValidation, Message: err.Error()}
	}
	body.Error.Kind = qe.Kind
	body.Error.Phase = qe.Phase
	body.Error.Message = qe.Error()
	body.Error.SQL = qe.SQL

	b, mErr := json.Marshal(body)
	if mErr != nil {
		b = []byte(`{"error":{"kind":"result_processing","message":"failed to encode error"}}`)
	}
	return Result{Text: string(b), IsError: true, Kind: qe.Kind}
}

func invalid(msg string, err error) *query.Error {
	return &query.Error{Kind: query.KindValidation, Phase: query.PhaseValidate, Message: msg, Err: err}
}

func stringArg(args map[string]any, key string) string {
	return strings.TrimSpace(rawArg(args, key))
}

// rawArg returns the argument as given; credentials must not be trimmed
func rawArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

// intArg reads an integer argument that may arrive as a JSON number or a
// numeric string. Absent or empty values yield def.
func intArg(args map[string]any, key string, def int) (int, error) {
	switch v := args[key].(type) {
	case nil:
		return def, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, invalid(fmt.Sprintf("%s must be an integer", key), nil)
		}
		return saturate(v), nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), nil
		}
		f, err := v.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, invalid(fmt.Sprintf("%s must be an integer", key), err)
		}
		return saturate(f), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return def, nil
		}
		n, err := strconv.Atoi(s)
		if errors.Is(err, strconv.ErrRange) {
			if strings.HasPrefix(s, "-") {
				return math.MinInt, nil
			}
			return math.MaxInt, nil
		}
		if err != nil {
			return 0, invalid(fmt.Sprintf("%s must be an integer", key), err)
		}
		return n, nil
	default:
		return 0, invalid(fmt.Sprintf("%s must be an integer", key), nil)
	}
}

// saturate converts an integral float to int, pinning values outside the int
// range to its bounds instead of wrapping
func saturate(f float64) int {
	switch {
	case f >= math.MaxInt:
		return math.MaxInt
	case f <= math.MinInt:
		return math.MinInt
	default:
		return int(f)
	}
}
