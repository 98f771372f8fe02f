package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/kaz/mysqlquery/internal/pool"
	"github.com/rs/zerolog"
)

const (
	listDatabasesSQL = "SELECT SCHEMA_NAME FROM information_schema.SCHEMATA ORDER BY SCHEMA_NAME"
	listTablesSQL    = "SELECT TABLE_NAME FROM information_schema.TABLES WHERE TABLE_SCHEMA = ? ORDER BY TABLE_NAME"
	describeTableSQL = "SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, COLUMN_KEY, COLUMN_DEFAULT, EXTRA " +
		"FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION"
)

// Column is one row of a table description
type Column struct {
	Field   string  `json:"field"`
	Type    string  `json:"type"`
	Null    string  `json:"null"`
	Key     string  `json:"key"`
	Default *string `json:"default"`
	Extra   string  `json:"extra"`
}

// Catalog browses schema metadata over the same pooled sources as Executor
type Catalog struct {
	sources Sources
	log     zerolog.Logger
}

func NewCatalog(sources Sources, log zerolog.Logger) *Catalog {
	return &Catalog{
		sources: sources,
		log:     log.With().Str("component", "catalog").Logger(),
	}
}

// ListDatabases returns every schema visible to the connection's user
func (c *Catalog) ListDatabases(ctx context.Context, conn Connection) ([]string, error) {
	names := []string{}
	err := c.with(ctx, conn, func(q queryer) error {
		var err error
		names, err = readStrings(ctx, q, listDatabasesSQL)
		return err
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// ListTables returns the tables of database, defaulting to the connection's
// own database
func (c *Catalog) ListTables(ctx context.Context, conn Connection, database string) ([]string, error) {
	database = firstNonEmpty(database, conn.Database)
	if database == "" {
		return nil, validationError("database is required")
	}

	names := []string{}
	err := c.with(ctx, conn, func(q queryer) error {
		var err error
		names, err = readStrings(ctx, q, listTablesSQL, database)
		return err
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// DescribeTable returns the columns of table in ordinal order
func (c *Catalog) DescribeTable(ctx context.Context, conn Connection, database, table string) ([]Column, error) {
	database = firstNonEmpty(database, conn.Database)
	if database == "" {
		return nil, validationError("database is required")
	}
	if strings.TrimSpace(table) == "" {
		return nil, validationError("table is required")
	}

	columns := []Column{}
	err := c.with(ctx, conn, func(q queryer) error {
		rows, err := q.QueryContext(ctx, describeTableSQL, database, table)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var col Column
			var def sql.NullString
			if err := rows.Scan(&col.Field, &col.Type, &col.Null, &col.Key, &def, &col.Extra); err != nil {
				return fmt.Errorf("failed to scan column: %w", err)
			}
			if def.Valid {
				col.Default = &def.String
			}
			columns = append(columns, col)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, &Error{Kind: KindExecution, Phase: PhaseCatalog, Message: fmt.Sprintf("table %s.%s not found", database, table)}
	}
	return columns, nil
}

func (c *Catalog) with(ctx context.Context, conn Connection, fn func(queryer) error) error {
	if err := validate.Struct(conn); err != nil {
		return &Error{Kind: KindValidation, Phase: PhaseValidate, Message: "invalid connection parameters", Err: err}
	}

	src, err := c.sources.Get(conn.Identity(), conn.Password)
	if err != nil {
		if errors.Is(err, pool.ErrInvalidIdentity) {
			return &Error{Kind: KindValidation, Phase: PhaseValidate, Message: "invalid connection parameters", Err: err}
		}
		return acquireError(err)
	}

	sc, err := src.Conn(ctx)
	if err != nil {
		return acquireError(err)
	}
	defer sc.Close()

	if err := fn(sc); err != nil {
		c.log.Warn().Err(err).Str("identity", conn.Identity().String()).Msg("catalog lookup failed")
		return statementError(PhaseCatalog, "", err)
	}
	return nil
}

func readStrings(ctx context.Context, q queryer, stmt string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan name: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
