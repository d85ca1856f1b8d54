package main

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
)

const tableExistsQuery = `
SELECT EXISTS (
  SELECT 1
  FROM information_schema.tables
  WHERE table_schema = $1 AND table_name = $2 AND table_type = 'BASE TABLE'
)`

const tableColumnsQuery = `
SELECT
  a.attnum,
  a.attname::text,
  pg_catalog.format_type(a.atttypid, a.atttypmod),
  a.attnotnull,
  ad.oid IS NOT NULL,
  pg_catalog.pg_get_expr(ad.adbin, ad.adrelid),
  a.attidentity::text,
  a.attgenerated::text
FROM pg_catalog.pg_attribute a
JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
LEFT JOIN pg_catalog.pg_attrdef ad ON ad.adrelid = a.attrelid AND ad.adnum = a.attnum
WHERE c.relkind IN ('r', 'p')
  AND a.attnum > 0
  AND NOT a.attisdropped
  AND n.nspname = $1
  AND c.relname = $2
ORDER BY a.attnum`

// Not-null constraints are rendered inline on their columns and constraint
// triggers are not part of CREATE TABLE, so only these kinds are read.
const tableConstraintsQuery = `
SELECT
  con.conname::text,
  con.contype::text,
  pg_catalog.pg_get_constraintdef(con.oid, true)
FROM pg_catalog.pg_constraint con
JOIN pg_catalog.pg_class c ON c.oid = con.conrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1
  AND c.relname = $2
  AND con.contype IN ('p', 'u', 'f', 'c', 'x')
ORDER BY con.conname`

// tableDDL returns a CREATE TABLE statement for schema.table. The native
// pg_get_tabledef path wins whenever the server offers it.
func tableDDL(ctx context.Context, q catalogQuerier, schema, table string) (string, error) {
	ddl, ok, err := nativeTableDDL(ctx, q, schema, table)
	if err != nil {
		return "", err
	}
	if ok {
		return ddl, nil
	}

	def, err := introspectTable(ctx, q, schema, table)
	if err != nil {
		return "", err
	}
	return def.CreateStatement(), nil
}

// introspectTable reads columns and constraints of a base table from the
// system catalogs. A missing table fails before any column query runs.
func introspectTable(ctx context.Context, q catalogQuerier, schema, table string) (*TableDefinition, error) {
	var exists bool
	if err := q.QueryRow(ctx, tableExistsQuery, schema, table).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check table %s.%s: %w", schema, table, err)
	}
	if !exists {
		return nil, &TableNotFoundError{Schema: schema, Table: table}
	}

	cols, err := introspectColumns(ctx, q, schema, table)
	if err != nil {
		return nil, fmt.Errorf("columns of %s.%s: %w", schema, table, err)
	}
	cons, err := introspectConstraints(ctx, q, schema, table)
	if err != nil {
		return nil, fmt.Errorf("constraints of %s.%s: %w", schema, table, err)
	}

	return &TableDefinition{
		Schema:      schema,
		Name:        table,
		Columns:     cols,
		Constraints: cons,
	}, nil
}

func introspectColumns(ctx context.Context, q catalogQuerier, schema, table string) ([]Column, error) {
	rows, err := q.Query(ctx, tableColumnsQuery, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			col        Column
			dataType   *string
			hasDefault bool
			identity   string
			generated  string
		)
		if err := rows.Scan(&col.Position, &col.Name, &dataType, &col.NotNull, &hasDefault, &col.Default, &identity, &generated); err != nil {
			return nil, err
		}
		if dataType == nil || *dataType == "" {
			return nil, incompleteCatalog("column %s has no renderable type", col.Name)
		}
		col.Type = *dataType
		col.Identity = IdentityKind(identity)
		col.Generated = GeneratedKind(generated)
		if hasDefault && (col.Default == nil || *col.Default == "") {
			return nil, incompleteCatalog("column %s has a default that could not be decoded", col.Name)
		}
		if err := col.validate(); err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func introspectConstraints(ctx context.Context, q catalogQuerier, schema, table string) ([]Constraint, error) {
	rows, err := q.Query(ctx, tableConstraintsQuery, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cons []Constraint
	for rows.Next() {
		var (
			con  Constraint
			kind string
			def  *string
		)
		if err := rows.Scan(&con.Name, &kind, &def); err != nil {
			return nil, err
		}
		if def == nil || *def == "" {
			return nil, incompleteCatalog("constraint %s has no definition", con.Name)
		}
		con.Kind = ConstraintKind(kind)
		con.Definition = *def
		cons = append(cons, con)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortConstraints(cons)
	return cons, nil
}

// sortConstraints puts primary keys, then unique constraints, then the rest,
// each group ordered by name.
func sortConstraints(cons []Constraint) {
	slices.SortStableFunc(cons, func(a, b Constraint) int {
		if c := cmp.Compare(a.Kind.rank(), b.Kind.rank()); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
}

func (c Column) validate() error {
	switch c.Identity {
	case IdentityNone, IdentityAlways, IdentityByDefault:
	default:
		return incompleteCatalog("column %s has unknown identity kind %q", c.Name, string(c.Identity))
	}
	switch c.Generated {
	case GeneratedNone:
	case GeneratedStored, GeneratedVirtual:
		if c.Identity != IdentityNone {
			return incompleteCatalog("column %s is both identity and generated", c.Name)
		}
		if c.Default == nil || *c.Default == "" {
			return incompleteCatalog("generated column %s has no expression", c.Name)
		}
	default:
		return incompleteCatalog("column %s has unknown generated kind %q", c.Name, string(c.Generated))
	}
	return nil
}

// clause renders one column line. Identity and generation replace DEFAULT.
func (c Column) clause() string {
	parts := []string{pgIdent(c.Name), c.Type}
	switch {
	case c.Identity == IdentityAlways:
		parts = append(parts, "GENERATED ALWAYS AS IDENTITY")
	case c.Identity == IdentityByDefault:
		parts = append(parts, "GENERATED BY DEFAULT AS IDENTITY")
	case c.Generated == GeneratedStored:
		parts = append(parts, fmt.Sprintf("GENERATED ALWAYS AS (%s) STORED", *c.Default))
	case c.Generated == GeneratedVirtual:
		parts = append(parts, fmt.Sprintf("GENERATED ALWAYS AS (%s) VIRTUAL", *c.Default))
	case c.Default != nil:
		parts = append(parts, "DEFAULT "+*c.Default)
	}
	if c.NotNull {
		parts = append(parts, "NOT NULL")
	}
	return strings.Join(parts, " ")
}

func (c Constraint) clause() string {
	return "CONSTRAINT " + pgIdent(c.Name) + " " + c.Definition
}

// CreateStatement assembles the CREATE TABLE statement: columns in ordinal
// order, then constraints in their sorted order.
func (t *TableDefinition) CreateStatement() string {
	clauses := make([]string, 0, len(t.Columns)+len(t.Constraints))
	for _, col := range t.Columns {
		clauses = append(clauses, col.clause())
	}
	for _, con := range t.Constraints {
		clauses = append(clauses, con.clause())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", pgQualified(t.Schema, t.Name))
	if len(clauses) > 0 {
		b.WriteString("  ")
		b.WriteString(strings.Join(clauses, ",\n  "))
		b.WriteByte('\n')
	}
	b.WriteString(");")
	return b.String()
}
