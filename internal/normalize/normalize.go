// Package normalize converts driver rows into ordered, JSON-safe records.
//
// Rows are expected to expose the Fielder capability. Rows that do not are
// read through name or index lookups, and as a last resort zipped positionally
// against the column list. The last-resort path degrades silently: a row that
// cannot be read at all yields a record of nulls rather than an error.
package normalize

import (
	"iter"
)

// Fielder iterates the column name/value pairs of a row
type Fielder interface {
	Fields() iter.Seq2[string, any]
}

// Lookuper exposes value lookup by column name
type Lookuper interface {
	Lookup(name string) (any, bool)
}

// Indexer exposes value lookup by column position
type Indexer interface {
	Index(i int) (any, bool)
}

// Positional exposes the raw values of a row in column order
type Positional interface {
	Values() []any
}

// Rows normalizes every row against columns. It never fails.
func Rows(rows []any, columns []string) []Record {
	records := make([]Record, 0, len(rows))
	if len(columns) == 0 {
		return records
	}
	for _, row := range rows {
		records = append(records, Row(row, columns))
	}
	return records
}

// Row normalizes a single row against columns
func Row(row any, columns []string) Record {
	rec, ok := structured(row, columns)
	if !ok {
		rec = positional(row, columns)
	}
	for i := range rec {
		rec[i].Value = Coerce(rec[i].Value)
	}
	return rec
}

// structured covers the Fielder and name/index lookup paths. ok is false when
// the row offered neither view or reading it panicked.
func structured(row any, columns []string) (rec Record, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			rec, ok = nil, false
		}
	}()

	switch r := row.(type) {
	case Fielder:
		rec = make(Record, 0, len(columns))
		for name, value := range r.Fields() {
			rec.Set(name, value)
		}
		return rec, true
	case map[string]any:
		rec = make(Record, 0, len(columns))
		for _, col := range columns {
			rec.Set(col, r[col])
		}
		return rec, true
	case Lookuper, Indexer:
		rec = make(Record, 0, len(columns))
		for i, col := range columns {
			rec.Set(col, lookup(row, col, i))
		}
		return rec, true
	}
	return nil, false
}

func lookup(row any, col string, i int) any {
	if l, ok := row.(Lookuper); ok {
		if v, found := l.Lookup(col); found {
			return v
		}
	}
	if ix, ok := row.(Indexer); ok {
		if v, found := ix.Index(i); found {
			return v
		}
	}
	return nil
}

// positional zips the row's values against columns, truncating at the shorter
func positional(row any, columns []string) Record {
	var values []any
	switch r := row.(type) {
	case Positional:
		values = safeValues(r)
	case []any:
		values = r
	}

	if values == nil {
		rec := make(Record, 0, len(columns))
		for _, col := range columns {
			rec.Set(col, nil)
		}
		return rec
	}

	n := min(len(values), len(columns))
	rec := make(Record, 0, n)
	for i := 0; i < n; i++ {
		rec.Set(columns[i], values[i])
	}
	return rec
}

func safeValues(p Positional) (values []any) {
	defer func() {
		if r := recover(); r != nil {
			values = nil
		}
	}()
	return p.Values()
}
