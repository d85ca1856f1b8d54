package main

import (
	"errors"
	"fmt"
)

var (
	// ErrTableNotFound is matched by errors.Is for every *TableNotFoundError.
	ErrTableNotFound = errors.New("table not found")

	// ErrIncompleteCatalog reports catalog metadata that cannot be rendered
	// into valid DDL (undecodable default, unknown identity kind, ...).
	ErrIncompleteCatalog = errors.New("incomplete catalog metadata")

	ErrEmptyQuery   = errors.New("no query provided")
	ErrNameRequired = errors.New("database name is required")
)

// TableNotFoundError carries the qualified name of a table that is absent
// from the base-table catalog.
type TableNotFoundError struct {
	Schema string
	Table  string
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("table %s.%s does not exist", e.Schema, e.Table)
}

func (e *TableNotFoundError) Is(target error) bool {
	return target == ErrTableNotFound
}

func incompleteCatalog(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIncompleteCatalog, fmt.Sprintf(format, args...))
}
