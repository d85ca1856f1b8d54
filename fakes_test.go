package main

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeResult is the canned answer for one query text.
type fakeResult struct {
	cols    []string
	oids    []uint32 // column type OIDs, parallel to cols
	rows    [][]any
	tag     string
	err     error // returned by Query / QueryRow.Scan
	iterErr error // returned by Rows.Err after iteration
}

// fakeCatalog answers queries by exact SQL text and records what was asked.
type fakeCatalog struct {
	mu      sync.Mutex
	results map[string]fakeResult
	queries []string
	args    [][]any
	execs   []string
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{results: make(map[string]fakeResult)}
}

func (f *fakeCatalog) on(sql string, r fakeResult) *fakeCatalog {
	f.results[sql] = r
	return f
}

func (f *fakeCatalog) record(sql string, args []any) (fakeResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, sql)
	f.args = append(f.args, args)
	r, ok := f.results[sql]
	return r, ok
}

func (f *fakeCatalog) asked(sql string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, q := range f.queries {
		if q == sql {
			n++
		}
	}
	return n
}

func (f *fakeCatalog) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	r, ok := f.record(sql, args)
	if !ok {
		return nil, fmt.Errorf("unexpected query: %s", sql)
	}
	if r.err != nil {
		return nil, r.err
	}
	return &fakeRows{cols: r.cols, oids: r.oids, rows: r.rows, tag: pgconn.NewCommandTag(r.tag), err: r.iterErr}, nil
}

func (f *fakeCatalog) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	r, ok := f.record(sql, args)
	if !ok {
		return fakeRow{err: fmt.Errorf("unexpected query: %s", sql)}
	}
	if r.err != nil {
		return fakeRow{err: r.err}
	}
	if len(r.rows) == 0 {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{values: r.rows[0]}
}

func (f *fakeCatalog) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	f.execs = append(f.execs, sql)
	f.mu.Unlock()
	r, ok := f.results[sql]
	if ok && r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	return pgconn.NewCommandTag(r.tag), nil
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return scanValues(r.values, dest)
}

type fakeRows struct {
	cols []string
	oids []uint32
	rows [][]any
	idx  int
	tag  pgconn.CommandTag
	err  error
}

func (r *fakeRows) Close()                        {}
func (r *fakeRows) Err() error                    { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag { return r.tag }
func (r *fakeRows) RawValues() [][]byte           { return nil }
func (r *fakeRows) Conn() *pgx.Conn               { return nil }

func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	fds := make([]pgconn.FieldDescription, len(r.cols))
	for i, c := range r.cols {
		fds[i] = pgconn.FieldDescription{Name: c}
		if i < len(r.oids) {
			fds[i].DataTypeOID = r.oids[i]
		}
	}
	return fds
}

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	return scanValues(r.rows[r.idx-1], dest)
}

func (r *fakeRows) Values() ([]any, error) {
	return r.rows[r.idx-1], nil
}

func scanValues(values, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("scan: %d values into %d destinations", len(values), len(dest))
	}
	for i := range dest {
		if err := assign(dest[i], values[i]); err != nil {
			return fmt.Errorf("scan column %d: %w", i, err)
		}
	}
	return nil
}

// assign stores v into the pointer dest, wrapping v in a pointer when dest
// is a pointer-to-pointer (nullable column).
func assign(dest, v any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return fmt.Errorf("destination %T is not a pointer", dest)
	}
	target := dv.Elem()
	if v == nil {
		target.Set(reflect.Zero(target.Type()))
		return nil
	}
	vv := reflect.ValueOf(v)
	switch {
	case vv.Type().AssignableTo(target.Type()):
		target.Set(vv)
	case target.Kind() == reflect.Pointer && vv.Type().AssignableTo(target.Type().Elem()):
		p := reflect.New(target.Type().Elem())
		p.Elem().Set(vv)
		target.Set(p)
	default:
		return errors.New("cannot assign " + vv.Type().String() + " to " + target.Type().String())
	}
	return nil
}

func strPtr(s string) *string { return &s }

// columnRow builds a row in the shape of tableColumnsQuery.
func columnRow(pos int, name, typ string, notNull bool, def *string, identity, generated string) []any {
	var d any
	if def != nil {
		d = *def
	}
	return []any{pos, name, typ, notNull, def != nil, d, identity, generated}
}

// usersCatalog describes public.users: identity id, varchar name, nullable age, defaulted created_at.
func usersCatalog() *fakeCatalog {
	return newFakeCatalog().
		on(tableDefProbeQuery, fakeResult{rows: [][]any{{int64(0), int64(0)}}}).
		on(tableExistsQuery, fakeResult{rows: [][]any{{true}}}).
		on(tableColumnsQuery, fakeResult{rows: [][]any{
			columnRow(1, "id", "bigint", true, nil, "d", ""),
			columnRow(2, "name", "character varying(100)", true, nil, "", ""),
			columnRow(3, "age", "integer", false, nil, "", ""),
			columnRow(4, "created_at", "timestamp with time zone", false, strPtr("now()"), "", ""),
		}}).
		on(tableConstraintsQuery, fakeResult{rows: [][]any{
			{"users_pkey", "p", "PRIMARY KEY (id)"},
		}})
}
