package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ehr/fhirindex/internal/index"
)

// table describes one index table. Every table starts with the columns
// resource_type, resource_id and ordinal; ordinal keeps the record order of
// the aggregate.
type table struct {
	name    string
	columns []string
	// selects lists the select expressions for columns, in order.
	selects []string
	rows    func(ri index.ResourceIndices) [][]interface{}
	scan    func(s scanner, b *index.Builder) error
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// rowIterator is the subset of pgx.Rows and *sql.Rows used to read tables.
type rowIterator interface {
	scanner
	Next() bool
	Err() error
}

var tables = []table{
	{
		name:    "number_index",
		columns: []string{"name", "path", "value"},
		selects: []string{"name", "path", "CAST(value AS TEXT)"},
		rows: func(ri index.ResourceIndices) [][]interface{} {
			out := make([][]interface{}, 0, len(ri.NumberIndices))
			for _, r := range ri.NumberIndices {
				out = append(out, []interface{}{r.Name, r.Path, r.Value})
			}
			return out
		},
		scan: func(s scanner, b *index.Builder) error {
			var r index.NumberIndex
			var value string
			if err := s.Scan(&r.Name, &r.Path, &value); err != nil {
				return err
			}
			d, err := decimal.NewFromString(value)
			if err != nil {
				return fmt.Errorf("parse number value %q: %w", value, err)
			}
			r.Value = d
			b.AddNumberIndex(r)
			return nil
		},
	},
	{
		name:    "date_index",
		columns: []string{"name", "path", "from_day", "to_day"},
		rows: func(ri index.ResourceIndices) [][]interface{} {
			out := make([][]interface{}, 0, len(ri.DateIndices))
			for _, r := range ri.DateIndices {
				out = append(out, []interface{}{r.Name, r.Path, r.From, r.To})
			}
			return out
		},
		scan: func(s scanner, b *index.Builder) error {
			var r index.DateIndex
			if err := s.Scan(&r.Name, &r.Path, &r.From, &r.To); err != nil {
				return err
			}
			b.AddDateIndex(r)
			return nil
		},
	},
	{
		name:    "datetime_index",
		columns: []string{"name", "path", "from_ms", "to_ms"},
		rows: func(ri index.ResourceIndices) [][]interface{} {
			out := make([][]interface{}, 0, len(ri.DateTimeIndices))
			for _, r := range ri.DateTimeIndices {
				out = append(out, []interface{}{r.Name, r.Path, r.From, r.To})
			}
			return out
		},
		scan: func(s scanner, b *index.Builder) error {
			var r index.DateTimeIndex
			if err := s.Scan(&r.Name, &r.Path, &r.From, &r.To); err != nil {
				return err
			}
			b.AddDateTimeIndex(r)
			return nil
		},
	},
	{
		name:    "string_index",
		columns: []string{"name", "path", "value"},
		rows: func(ri index.ResourceIndices) [][]interface{} {
			out := make([][]interface{}, 0, len(ri.StringIndices))
			for _, r := range ri.StringIndices {
				out = append(out, []interface{}{r.Name, r.Path, r.Value})
			}
			return out
		},
		scan: func(s scanner, b *index.Builder) error {
			var r index.StringIndex
			if err := s.Scan(&r.Name, &r.Path, &r.Value); err != nil {
				return err
			}
			b.AddStringIndex(r)
			return nil
		},
	},
	{
		name:    "uri_index",
		columns: []string{"name", "path", "value"},
		rows: func(ri index.ResourceIndices) [][]interface{} {
			out := make([][]interface{}, 0, len(ri.URIIndices))
			for _, r := range ri.URIIndices {
				out = append(out, []interface{}{r.Name, r.Path, r.Value})
			}
			return out
		},
		scan: func(s scanner, b *index.Builder) error {
			var r index.URIIndex
			if err := s.Scan(&r.Name, &r.Path, &r.Value); err != nil {
				return err
			}
			b.AddURIIndex(r)
			return nil
		},
	},
	{
		name:    "token_index",
		columns: []string{"name", "path", "system", "value"},
		rows: func(ri index.ResourceIndices) [][]interface{} {
			out := make([][]interface{}, 0, len(ri.TokenIndices))
			for _, r := range ri.TokenIndices {
				out = append(out, []interface{}{r.Name, r.Path, r.System, r.Value})
			}
			return out
		},
		scan: func(s scanner, b *index.Builder) error {
			var r index.TokenIndex
			if err := s.Scan(&r.Name, &r.Path, &r.System, &r.Value); err != nil {
				return err
			}
			b.AddTokenIndex(r)
			return nil
		},
	},
	{
		name:    "quantity_index",
		columns: []string{"name", "path", "system", "unit", "value"},
		selects: []string{"name", "path", "system", "unit", "CAST(value AS TEXT)"},
		rows: func(ri index.ResourceIndices) [][]interface{} {
			out := make([][]interface{}, 0, len(ri.QuantityIndices))
			for _, r := range ri.QuantityIndices {
				out = append(out, []interface{}{r.Name, r.Path, r.System, r.Unit, r.Value})
			}
			return out
		},
		scan: func(s scanner, b *index.Builder) error {
			var r index.QuantityIndex
			var value string
			if err := s.Scan(&r.Name, &r.Path, &r.System, &r.Unit, &value); err != nil {
				return err
			}
			d, err := decimal.NewFromString(value)
			if err != nil {
				return fmt.Errorf("parse quantity value %q: %w", value, err)
			}
			r.Value = d
			b.AddQuantityIndex(r)
			return nil
		},
	},
	{
		name:    "reference_index",
		columns: []string{"name", "path", "value"},
		rows: func(ri index.ResourceIndices) [][]interface{} {
			out := make([][]interface{}, 0, len(ri.ReferenceIndices))
			for _, r := range ri.ReferenceIndices {
				out = append(out, []interface{}{r.Name, r.Path, r.Value})
			}
			return out
		},
		scan: func(s scanner, b *index.Builder) error {
			var r index.ReferenceIndex
			if err := s.Scan(&r.Name, &r.Path, &r.Value); err != nil {
				return err
			}
			b.AddReferenceIndex(r)
			return nil
		},
	},
	{
		name:    "position_index",
		columns: []string{"latitude", "longitude"},
		rows: func(ri index.ResourceIndices) [][]interface{} {
			out := make([][]interface{}, 0, len(ri.PositionIndices))
			for _, r := range ri.PositionIndices {
				out = append(out, []interface{}{r.Latitude, r.Longitude})
			}
			return out
		},
		scan: func(s scanner, b *index.Builder) error {
			var r index.PositionIndex
			if err := s.Scan(&r.Latitude, &r.Longitude); err != nil {
				return err
			}
			b.AddPositionIndex(r)
			return nil
		},
	},
}

// statement is a query with its arguments.
type statement struct {
	sql  string
	args []interface{}
}

// dialect renders the shared statements for one database.
type dialect struct {
	// placeholder returns the bind parameter for the n-th argument, from 1.
	placeholder func(n int) string
}

var (
	postgresDialect = dialect{placeholder: func(n int) string { return "$" + strconv.Itoa(n) }}
	sqliteDialect   = dialect{placeholder: func(int) string { return "?" }}
)

func (d dialect) placeholders(from, n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = d.placeholder(from + i)
	}
	return strings.Join(ps, ", ")
}

func (d dialect) insertSQL(t table) string {
	cols := append([]string{"resource_type", "resource_id", "ordinal"}, t.columns...)
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t.name, strings.Join(cols, ", "), d.placeholders(1, len(cols)))
}

func (d dialect) deleteSQL(name string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE resource_type = %s AND resource_id = %s",
		name, d.placeholder(1), d.placeholder(2))
}

func (d dialect) selectSQL(t table) string {
	selects := t.selects
	if selects == nil {
		selects = t.columns
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE resource_type = %s AND resource_id = %s ORDER BY ordinal",
		strings.Join(selects, ", "), t.name, d.placeholder(1), d.placeholder(2))
}

func (d dialect) upsertResourceSQL() string {
	return fmt.Sprintf(`INSERT INTO resource_index (resource_type, resource_id, last_updated, indexed_at)
VALUES (%s)
ON CONFLICT (resource_type, resource_id)
DO UPDATE SET last_updated = excluded.last_updated, indexed_at = excluded.indexed_at`,
		d.placeholders(1, 4))
}

func (d dialect) existsSQL() string {
	return fmt.Sprintf("SELECT indexed_at FROM resource_index WHERE resource_type = %s AND resource_id = %s",
		d.placeholder(1), d.placeholder(2))
}

// deleteStatements removes every row of a resource.
func (d dialect) deleteStatements(resourceType, resourceID string) []statement {
	stmts := make([]statement, 0, len(tables)+1)
	for _, t := range tables {
		stmts = append(stmts, statement{sql: d.deleteSQL(t.name), args: []interface{}{resourceType, resourceID}})
	}
	stmts = append(stmts, statement{sql: d.deleteSQL("resource_index"), args: []interface{}{resourceType, resourceID}})
	return stmts
}

// upsertStatements replaces every row of the resource described by ri.
func (d dialect) upsertStatements(ri index.ResourceIndices, lastUpdated *time.Time, now time.Time) []statement {
	stmts := d.deleteStatements(ri.ResourceType, ri.ResourceID)

	var lu interface{}
	if lastUpdated != nil {
		lu = lastUpdated.UnixMilli()
	}
	stmts = append(stmts, statement{
		sql:  d.upsertResourceSQL(),
		args: []interface{}{ri.ResourceType, ri.ResourceID, lu, now.UnixMilli()},
	})

	for _, t := range tables {
		query := d.insertSQL(t)
		for i, row := range t.rows(ri) {
			args := append([]interface{}{ri.ResourceType, ri.ResourceID, i}, row...)
			stmts = append(stmts, statement{sql: query, args: args})
		}
	}
	return stmts
}

// scanTable reads every row of t into b.
func scanTable(t table, rows rowIterator, b *index.Builder) error {
	for rows.Next() {
		if err := t.scan(rows, b); err != nil {
			return fmt.Errorf("scan %s: %w", t.name, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", t.name, err)
	}
	return nil
}

func validateIndices(ri index.ResourceIndices) error {
	if ri.ResourceType == "" || ri.ResourceID == "" {
		return fmt.Errorf("store: indices have no resource type or id")
	}
	return nil
}
