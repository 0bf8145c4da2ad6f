package workerrun

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/smilemakc/mbflow/pkg/models"
)

// readDatabase runs a free-form query, or a "SELECT * FROM schema.table"
// built from the (schema, table) pair, against a plain Postgres DSN and
// coerces each returned column into the declared schema by name.
func readDatabase(dsn, query, schemaName, table string, cols []columnSpec) (*Table, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("database_reader: %w", err)
	}
	defer db.Close()

	if query == "" {
		if schemaName != "" {
			query = fmt.Sprintf("SELECT * FROM %s.%s", schemaName, table)
		} else {
			query = fmt.Sprintf("SELECT * FROM %s", table)
		}
	}

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("database_reader: %w", err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("database_reader: %w", err)
	}
	nameIdx := make(map[string]int, len(names))
	for i, n := range names {
		nameIdx[n] = i
	}

	schema := specSchema(cols)
	t := NewTable(schema)
	scanTargets := make([]any, len(names))
	scanValues := make([]any, len(names))
	for i := range scanTargets {
		scanTargets[i] = &scanValues[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("database_reader: %w", err)
		}
		row := make([]any, len(cols))
		for i, c := range cols {
			idx, ok := nameIdx[c.Name]
			if !ok {
				continue
			}
			v, err := coerce(scanValues[idx], c.Type)
			if err != nil {
				return nil, fmt.Errorf("database_reader: column %q: %w", c.Name, err)
			}
			row[i] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, rows.Err()
}

// writeDatabase inserts a table's rows into a table, one statement per row
// inside a transaction, truncating first when mode is overwrite.
func writeDatabase(dsn, schemaName, table, mode string, t *Table) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("database_writer: %w", err)
	}
	defer db.Close()

	qualified := table
	if schemaName != "" {
		qualified = schemaName + "." + table
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("database_writer: %w", err)
	}

	if mode == "overwrite" {
		if _, err := tx.Exec(fmt.Sprintf("TRUNCATE TABLE %s", qualified)); err != nil {
			tx.Rollback()
			return fmt.Errorf("database_writer: truncate: %w", err)
		}
	}

	placeholders := make([]string, len(t.Schema.Columns))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		qualified, columnNamesCSV(t.Schema), joinCSV(placeholders))

	stmt, err := tx.Prepare(insertSQL)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("database_writer: prepare: %w", err)
	}
	defer stmt.Close()

	for _, row := range t.Rows {
		if _, err := stmt.Exec(row...); err != nil {
			tx.Rollback()
			return fmt.Errorf("database_writer: insert: %w", err)
		}
	}
	return tx.Commit()
}

func columnNamesCSV(s models.Schema) string {
	return joinCSV(s.ColumnNames())
}

func joinCSV(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
