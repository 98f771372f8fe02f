package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"reflect"
)

var rawBytesType = reflect.TypeOf(sql.RawBytes{})

// scannedRow is one result row in column order
type scannedRow struct {
	columns []string
	values  []any
}

func (r *scannedRow) Fields() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for i, col := range r.columns {
			if !yield(col, r.values[i]) {
				return
			}
		}
	}
}

func (r *scannedRow) Values() []any {
	return r.values
}

// page is the raw outcome of the page statement
type page struct {
	columns []string
	rows    []any
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readPage(ctx context.Context, q queryer, stmt string) (*page, error) {
	rows, err := q.QueryContext(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}

	p := &page{columns: columns, rows: []any{}}
	for rows.Next() {
		values, err := scanRow(rows, types)
		if err != nil {
			return nil, err
		}
		p.rows = append(p.rows, &scannedRow{columns: columns, values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// scanRow scans into the driver's preferred Go types so integers stay numbers.
// If that fails (e.g. NULL in a column flagged NOT NULL by an outer join) the
// same row is scanned again into untyped values.
func scanRow(rows *sql.Rows, types []*sql.ColumnType) ([]any, error) {
	dest := typedTargets(types)
	if err := rows.Scan(dest...); err == nil {
		return deref(dest), nil
	}

	dest = make([]any, len(types))
	for i := range dest {
		dest[i] = new(any)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}
	return deref(dest), nil
}

func typedTargets(types []*sql.ColumnType) []any {
	dest := make([]any, len(types))
	for i, ct := range types {
		st := ct.ScanType()
		switch {
		case st == nil || st.Kind() == reflect.Interface:
			dest[i] = new(any)
		case st == rawBytesType:
			// RawBytes is only valid until Next; scan into a copy
			dest[i] = new([]byte)
		default:
			dest[i] = reflect.New(st).Interface()
		}
	}
	return dest
}

func deref(dest []any) []any {
	values := make([]any, len(dest))
	for i, d := range dest {
		values[i] = reflect.ValueOf(d).Elem().Interface()
	}
	return values
}

// readCount reads a single integer; a missing row or NULL counts as zero
func readCount(ctx context.Context, q queryer, stmt string) (int64, error) {
	var n sql.NullInt64
	if err := q.QueryRowContext(ctx, stmt).Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return n.Int64, nil
}
