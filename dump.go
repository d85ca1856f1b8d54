package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

var (
	tableHeaderFmt = color.New(color.FgCyan, color.Bold).SprintfFunc()
	indexHeaderFmt = color.New(color.FgBlue).SprintfFunc()
	columnHeadFmt  = color.New(color.Bold).SprintFunc()
)

var dumpFormats = []string{"sql", "yaml", "json"}

// writeDump renders a schema report as a SQL script, YAML or JSON.
func writeDump(w io.Writer, report *SchemaReport, format string) error {
	switch format {
	case "", "sql":
		return writeSQLDump(w, report)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	default:
		return fmt.Errorf("unsupported dump format %q (want one of: %s)", format, strings.Join(dumpFormats, ", "))
	}
}

func writeSQLDump(w io.Writer, report *SchemaReport) error {
	for i, table := range report.Tables {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		header := tableHeaderFmt("-- %s.%s", report.Schema, table)
		if part, ok := report.Partitions[table]; ok && part.IsPartition {
			header += indexHeaderFmt(" (partition of %s %s)", part.Parent, part.Bounds)
		}
		if _, err := fmt.Fprintf(w, "%s\n%s\n", header, report.DDL[table]); err != nil {
			return err
		}
		for _, idx := range report.Indexes[table] {
			if _, err := fmt.Fprintf(w, "%s\n", indexHeaderFmt("-- index %s: %s", idx.Name, idx.Def)); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeResultTable prints a query result as aligned columns followed by a
// row count line.
func writeResultTable(w io.Writer, res *QueryResult, maxCell int) error {
	if len(res.Columns) == 0 {
		_, err := fmt.Fprintf(w, "OK, %d rows affected (%.2f ms)\n", res.RowCount, res.DurationMillis())
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	heads := make([]string, len(res.Columns))
	for i, c := range res.Columns {
		heads[i] = columnHeadFmt(c)
	}
	fmt.Fprintln(tw, strings.Join(heads, "\t"))
	for _, row := range res.clippedRows(maxCell) {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "(%d rows, %.2f ms)\n", len(res.Rows), res.DurationMillis())
	return err
}
