package mcp

import (
	"context"

	"github.com/kaz/mysqlquery/internal/history"
	"github.com/kaz/mysqlquery/internal/pool"
	"github.com/kaz/mysqlquery/internal/profile"
	"github.com/kaz/mysqlquery/internal/query"
	"github.com/kaz/mysqlquery/internal/tool"
)

type (
	// Invoker runs the paginated query tool and resolves connection arguments
	Invoker interface {
		Invoke(ctx context.Context, args map[string]any) tool.Result
		Connection(args map[string]any) (query.Connection, error)
	}

	Catalog interface {
		ListDatabases(ctx context.Context, conn query.Connection) ([]string, error)
		ListTables(ctx context.Context, conn query.Connection, database string) ([]string, error)
		DescribeTable(ctx context.Context, conn query.Connection, database, table string) ([]query.Column, error)
	}

	Profiles interface {
		Register(p profile.Profile) error
		List() []profile.Profile
	}

	HistoryReader interface {
		List(limit int) ([]history.Entry, error)
		Digest(top int) (history.Digest, error)
	}

	PoolStater interface {
		Stats() []pool.SourceStats
	}

	Deps struct {
		Tool     Invoker
		Catalog  Catalog
		Profiles Profiles
		History  HistoryReader
		Pools    PoolStater
	}
)

type databaseList struct {
	Databases []string `json:"databases"`
	Count     int      `json:"count"`
}

type tableList struct {
	Database string   `json:"database"`
	Tables   []string `json:"tables"`
	Count    int      `json:"count"`
}

type tableDescription struct {
	Database string         `json:"database"`
	Table    string         `json:"table"`
	Columns  []query.Column `json:"columns"`
	Count    int            `json:"count"`
}
