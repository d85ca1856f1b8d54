package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

func sampleReport() *SchemaReport {
	return &SchemaReport{
		Schema: "app",
		Tables: []string{"events", "events_2026"},
		DDL: map[string]string{
			"events":      "CREATE TABLE \"app\".\"events\" (\n  \"at\" date NOT NULL\n);",
			"events_2026": "CREATE TABLE \"app\".\"events_2026\" (\n  \"at\" date NOT NULL\n);",
		},
		Indexes: map[string][]IndexInfo{
			"events":      {{Name: "events_at_idx", Def: "CREATE INDEX events_at_idx ON ONLY app.events USING btree (at)"}},
			"events_2026": {},
		},
		Partitions: map[string]PartitionInfo{
			"events":      {IsPartitioned: true, Strategy: "RANGE", KeyColumns: []string{"at"}},
			"events_2026": {IsPartition: true, Parent: "events", Bounds: "FOR VALUES FROM ('2026-01-01') TO ('2027-01-01')"},
		},
	}
}

func noColor(t *testing.T) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
}

func TestWriteDump_SQL(t *testing.T) {
	noColor(t)
	var buf bytes.Buffer
	if err := writeDump(&buf, sampleReport(), "sql"); err != nil {
		t.Fatalf("writeDump() error: %v", err)
	}
	want := "-- app.events\n" +
		"CREATE TABLE \"app\".\"events\" (\n  \"at\" date NOT NULL\n);\n" +
		"-- index events_at_idx: CREATE INDEX events_at_idx ON ONLY app.events USING btree (at)\n" +
		"\n" +
		"-- app.events_2026 (partition of events FOR VALUES FROM ('2026-01-01') TO ('2027-01-01'))\n" +
		"CREATE TABLE \"app\".\"events_2026\" (\n  \"at\" date NOT NULL\n);\n"
	if got := buf.String(); got != want {
		t.Fatalf("sql dump =\n%s\nwant:\n%s", got, want)
	}
}

func TestWriteDump_YAML(t *testing.T) {
	var buf bytes.Buffer
	if err := writeDump(&buf, sampleReport(), "yaml"); err != nil {
		t.Fatalf("writeDump() error: %v", err)
	}
	var got SchemaReport
	if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("yaml.Unmarshal: %v\n%s", err, buf.String())
	}
	if got.Partitions["events"].Strategy != "RANGE" || got.Partitions["events_2026"].Parent != "events" {
		t.Fatalf("partitions = %#v", got.Partitions)
	}
	if !strings.Contains(buf.String(), "is_partitioned: true") {
		t.Fatalf("yaml keys not snake_case:\n%s", buf.String())
	}
}

func TestWriteDump_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := writeDump(&buf, sampleReport(), "json"); err != nil {
		t.Fatalf("writeDump() error: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if got["schema"] != "app" {
		t.Fatalf("schema = %v", got["schema"])
	}
}

func TestWriteDump_UnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	err := writeDump(&buf, sampleReport(), "xml")
	if err == nil || !strings.Contains(err.Error(), `unsupported dump format "xml"`) {
		t.Fatalf("writeDump() error = %v", err)
	}
}

func TestWriteResultTable(t *testing.T) {
	noColor(t)
	res := &QueryResult{
		Columns:  []string{"id", "name"},
		Rows:     [][]any{{int64(1), "alice"}, {int64(22), nil}},
		Duration: 1500 * time.Microsecond,
	}
	var buf bytes.Buffer
	if err := writeResultTable(&buf, res, 100); err != nil {
		t.Fatalf("writeResultTable() error: %v", err)
	}
	want := "id  name\n" +
		"1   alice\n" +
		"22  \n" +
		"(2 rows, 1.50 ms)\n"
	if got := buf.String(); got != want {
		t.Fatalf("table =\n%q\nwant:\n%q", got, want)
	}
}

func TestWriteResultTable_NoResultSet(t *testing.T) {
	var buf bytes.Buffer
	res := &QueryResult{RowCount: 3, Duration: 2 * time.Millisecond}
	if err := writeResultTable(&buf, res, 100); err != nil {
		t.Fatalf("writeResultTable() error: %v", err)
	}
	if got, want := buf.String(), "OK, 3 rows affected (2.00 ms)\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestPartitionInfo_JSON(t *testing.T) {
	tests := []struct {
		name string
		in   PartitionInfo
		want string
	}{
		{"plain table", PartitionInfo{}, `{}`},
		{
			"parent without partitions",
			PartitionInfo{IsPartitioned: true},
			`{"is_partitioned":true,"strategy":null,"key_columns":[],"children":[]}`,
		},
		{
			"parent",
			PartitionInfo{IsPartitioned: true, Strategy: "HASH", KeyColumns: []string{"id"}, Children: []PartitionChild{{Name: "t_0", Bounds: "FOR VALUES WITH (modulus 2, remainder 0)"}}},
			`{"is_partitioned":true,"strategy":"HASH","key_columns":["id"],"children":[{"name":"t_0","bounds":"FOR VALUES WITH (modulus 2, remainder 0)"}]}`,
		},
		{
			"partition",
			PartitionInfo{IsPartition: true, Parent: "t", Bounds: "DEFAULT"},
			`{"is_partition":true,"parent":"t","bounds":"DEFAULT"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.in)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(b) != tt.want {
				t.Fatalf("json = %s\nwant   %s", b, tt.want)
			}
		})
	}
}
