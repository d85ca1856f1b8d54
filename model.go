package main

import (
	"encoding/json"
	"time"
)

// IdentityKind mirrors pg_attribute.attidentity.
type IdentityKind string

const (
	IdentityNone      IdentityKind = ""
	IdentityAlways    IdentityKind = "a"
	IdentityByDefault IdentityKind = "d"
)

// GeneratedKind mirrors pg_attribute.attgenerated.
type GeneratedKind string

const (
	GeneratedNone    GeneratedKind = ""
	GeneratedStored  GeneratedKind = "s"
	GeneratedVirtual GeneratedKind = "v"
)

// ConstraintKind mirrors pg_constraint.contype.
type ConstraintKind string

const (
	ConstraintPrimaryKey ConstraintKind = "p"
	ConstraintUnique     ConstraintKind = "u"
	ConstraintForeignKey ConstraintKind = "f"
	ConstraintCheck      ConstraintKind = "c"
	ConstraintExclusion  ConstraintKind = "x"
)

// rank orders primary keys first, then unique constraints, then the rest.
func (k ConstraintKind) rank() int {
	switch k {
	case ConstraintPrimaryKey:
		return 0
	case ConstraintUnique:
		return 1
	default:
		return 2
	}
}

// Column is one live column of a table as read from pg_attribute.
type Column struct {
	Position  int
	Name      string
	Type      string // format_type() output, e.g. "character varying(100)"
	NotNull   bool
	Default   *string // default or generation expression
	Identity  IdentityKind
	Generated GeneratedKind
}

// Constraint is a table constraint with its catalog-rendered definition.
type Constraint struct {
	Name       string
	Kind       ConstraintKind
	Definition string // pg_get_constraintdef() output, e.g. "PRIMARY KEY (id)"
}

// TableDefinition holds the introspected shape of one base table.
type TableDefinition struct {
	Schema      string
	Name        string
	Columns     []Column
	Constraints []Constraint
}

// IndexInfo is a row of pg_indexes.
type IndexInfo struct {
	Name string `json:"name" yaml:"name"`
	Def  string `json:"def" yaml:"def"`
}

// PartitionChild is one partition attached to a partitioned parent.
type PartitionChild struct {
	Name   string `json:"name" yaml:"name"`
	Bounds string `json:"bounds" yaml:"bounds"`
}

// PartitionInfo describes a table's role in declarative partitioning. A
// table can be both a partitioned parent and a partition of another table.
type PartitionInfo struct {
	IsPartitioned bool             `yaml:"is_partitioned,omitempty"`
	Strategy      string           `yaml:"strategy,omitempty"` // LIST, RANGE or HASH
	KeyColumns    []string         `yaml:"key_columns,omitempty"`
	Children      []PartitionChild `yaml:"children,omitempty"`
	IsPartition   bool             `yaml:"is_partition,omitempty"`
	Parent        string           `yaml:"parent,omitempty"`
	Bounds        string           `yaml:"bounds,omitempty"`
}

type partitionedJSON struct {
	IsPartitioned bool             `json:"is_partitioned"`
	Strategy      *string          `json:"strategy"`
	KeyColumns    []string         `json:"key_columns"`
	Children      []PartitionChild `json:"children"`
}

type partitionJSON struct {
	IsPartition bool   `json:"is_partition"`
	Parent      string `json:"parent"`
	Bounds      string `json:"bounds"`
}

// MarshalJSON writes {} for unpartitioned tables. A parent always carries
// strategy (null when unknown), key_columns and children; a partition
// carries parent and bounds.
func (p PartitionInfo) MarshalJSON() ([]byte, error) {
	var out struct {
		*partitionedJSON
		*partitionJSON
	}
	if p.IsPartitioned {
		pj := &partitionedJSON{
			IsPartitioned: true,
			KeyColumns:    p.KeyColumns,
			Children:      p.Children,
		}
		if p.Strategy != "" {
			pj.Strategy = &p.Strategy
		}
		if pj.KeyColumns == nil {
			pj.KeyColumns = []string{}
		}
		if pj.Children == nil {
			pj.Children = []PartitionChild{}
		}
		out.partitionedJSON = pj
	}
	if p.IsPartition {
		out.partitionJSON = &partitionJSON{IsPartition: true, Parent: p.Parent, Bounds: p.Bounds}
	}
	return json.Marshal(out)
}

// SchemaReport is everything the table-schemas view shows for one schema.
type SchemaReport struct {
	Schema     string                   `json:"schema" yaml:"schema"`
	Tables     []string                 `json:"tables" yaml:"tables"`
	DDL        map[string]string        `json:"ddl" yaml:"ddl"`
	Indexes    map[string][]IndexInfo   `json:"indexes" yaml:"indexes"`
	Partitions map[string]PartitionInfo `json:"partitions" yaml:"partitions"`
}

// QueryResult is the outcome of an ad-hoc statement.
type QueryResult struct {
	Columns  []string
	Rows     [][]any
	RowCount int64
	Duration time.Duration
}
