package workerrun

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"

	"github.com/itchyny/gojq"
	"github.com/xuri/excelize/v2"

	"github.com/smilemakc/mbflow/pkg/models"
)

type columnSpec struct {
	Name string            `json:"name"`
	Type models.ColumnType `json:"type"`
}

func specSchema(cols []columnSpec) models.Schema {
	s := models.Schema{Columns: make([]models.Column, len(cols))}
	for i, c := range cols {
		s.Columns[i] = models.Column{Name: c.Name, Type: c.Type}
	}
	return s
}

// readManualInput materializes the rows a flow author typed directly into
// the editor, coercing each cell to its declared column type.
func readManualInput(cols []columnSpec, rows []map[string]any) (*Table, error) {
	schema := specSchema(cols)
	t := NewTable(schema)
	for _, row := range rows {
		out := make([]any, len(cols))
		for i, c := range cols {
			v, err := coerce(row[c.Name], c.Type)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		t.Rows = append(t.Rows, out)
	}
	return t, nil
}

// readCSV reads a delimited file against a declared column schema, skipping
// skipLines header/banner rows before the data begins.
func readCSV(path string, cols []columnSpec, delimiter rune, skipLines int) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read_csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	if delimiter != 0 {
		r.Comma = delimiter
	}
	r.FieldsPerRecord = -1

	for i := 0; i < skipLines; i++ {
		if _, err := r.Read(); err != nil {
			break
		}
	}
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read_csv: header: %w", err)
	}
	headerIdx := make(map[string]int, len(header))
	for i, h := range header {
		headerIdx[h] = i
	}

	schema := specSchema(cols)
	t := NewTable(schema)
	for {
		record, err := r.Read()
		if err != nil {
			break
		}
		row := make([]any, len(cols))
		for i, c := range cols {
			idx, ok := headerIdx[c.Name]
			if !ok || idx >= len(record) {
				continue
			}
			v, err := coerce(record[idx], c.Type)
			if err != nil {
				return nil, fmt.Errorf("read_csv: column %q: %w", c.Name, err)
			}
			row[i] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// writeCSV renders a table to a flat, untyped CSV file. This path is
// stdlib encoding/csv rather than Arrow's CSV writer deliberately: it
// formats already-typed Go values, not Arrow columnar batches.
func writeCSV(path string, t *Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := t.Schema.ColumnNames()
	if err := w.Write(header); err != nil {
		return err
	}
	for _, row := range t.Rows {
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = formatValue(v)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// readJSON reads an array-of-objects JSON document, optionally narrowed by
// a gojq path expression before the declared columns are extracted.
func readJSON(path string, cols []columnSpec, jqPath string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read_json: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("read_json: %w", err)
	}

	records, err := jsonToRecords(doc, jqPath)
	if err != nil {
		return nil, err
	}

	schema := specSchema(cols)
	t := NewTable(schema)
	for _, rec := range records {
		m, ok := rec.(map[string]any)
		if !ok {
			continue
		}
		row := make([]any, len(cols))
		for i, c := range cols {
			v, err := coerce(m[c.Name], c.Type)
			if err != nil {
				return nil, fmt.Errorf("read_json: column %q: %w", c.Name, err)
			}
			row[i] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func jsonToRecords(doc any, jqPath string) ([]any, error) {
	if jqPath != "" {
		query, err := gojq.Parse(jqPath)
		if err != nil {
			return nil, fmt.Errorf("read_json: json_path: %w", err)
		}
		iter := query.Run(doc)
		var results []any
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, isErr := v.(error); isErr {
				return nil, fmt.Errorf("read_json: json_path: %w", err)
			}
			results = append(results, v)
		}
		if len(results) == 1 {
			if arr, ok := results[0].([]any); ok {
				return arr, nil
			}
		}
		return results, nil
	}
	if arr, ok := doc.([]any); ok {
		return arr, nil
	}
	return []any{doc}, nil
}

// readExcel reads one worksheet of an xlsx workbook, using its first row
// as the header.
func readExcel(path, sheet string, cols []columnSpec) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("read_excel: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read_excel: %w", err)
	}
	if len(rows) == 0 {
		return NewTable(specSchema(cols)), nil
	}
	header := rows[0]
	headerIdx := make(map[string]int, len(header))
	for i, h := range header {
		headerIdx[h] = i
	}

	schema := specSchema(cols)
	t := NewTable(schema)
	for _, record := range rows[1:] {
		row := make([]any, len(cols))
		for i, c := range cols {
			idx, ok := headerIdx[c.Name]
			if !ok || idx >= len(record) {
				continue
			}
			v, err := coerce(record[idx], c.Type)
			if err != nil {
				return nil, fmt.Errorf("read_excel: column %q: %w", c.Name, err)
			}
			row[i] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}
