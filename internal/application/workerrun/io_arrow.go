package workerrun

import (
	"context"
	"fmt"
	"os"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/ipc"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/file"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"

	"github.com/smilemakc/mbflow/pkg/models"
)

// arrowType maps the spec's logical column types onto Arrow's physical
// types. Types with no direct Arrow counterpart in this worker's coverage
// (decimal, list, struct, date, datetime, null) are stored as their string
// representation — round-tripping through these two columnar formats
// preserves values, not the original richer type.
func arrowType(t models.ColumnType) arrow.DataType {
	switch t {
	case models.ColumnInt8, models.ColumnInt16, models.ColumnInt32, models.ColumnInt64:
		return arrow.PrimitiveTypes.Int64
	case models.ColumnFloat32, models.ColumnFloat64:
		return arrow.PrimitiveTypes.Float64
	case models.ColumnBool:
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.BinaryTypes.String
	}
}

func toArrowSchema(s models.Schema) *arrow.Schema {
	fields := make([]arrow.Field, len(s.Columns))
	for i, c := range s.Columns {
		fields[i] = arrow.Field{Name: c.Name, Type: arrowType(c.Type), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

func buildRecord(t *Table) arrow.Record {
	schema := toArrowSchema(t.Schema)
	pool := memory.NewGoAllocator()
	b := array.NewRecordBuilder(pool, schema)
	defer b.Release()

	for i, col := range t.Schema.Columns {
		fb := b.Field(i)
		for _, row := range t.Rows {
			v := row[i]
			if v == nil {
				fb.AppendNull()
				continue
			}
			switch col.Type {
			case models.ColumnInt8, models.ColumnInt16, models.ColumnInt32, models.ColumnInt64:
				n, _ := toFloat(v)
				fb.(*array.Int64Builder).Append(int64(n))
			case models.ColumnFloat32, models.ColumnFloat64:
				n, _ := toFloat(v)
				fb.(*array.Float64Builder).Append(n)
			case models.ColumnBool:
				bv, _ := v.(bool)
				fb.(*array.BooleanBuilder).Append(bv)
			default:
				fb.(*array.StringBuilder).Append(formatValue(v))
			}
		}
	}
	return b.NewRecord()
}

func recordToTable(schema models.Schema, rec arrow.Record) *Table {
	t := NewTable(schema)
	n := int(rec.NumRows())
	t.Rows = make([][]any, n)
	for r := 0; r < n; r++ {
		row := make([]any, len(schema.Columns))
		for i, c := range schema.Columns {
			col := rec.Column(i)
			if col.IsNull(r) {
				continue
			}
			switch c.Type {
			case models.ColumnInt8, models.ColumnInt16, models.ColumnInt32, models.ColumnInt64:
				row[i] = col.(*array.Int64).Value(r)
			case models.ColumnFloat32, models.ColumnFloat64:
				row[i] = col.(*array.Float64).Value(r)
			case models.ColumnBool:
				row[i] = col.(*array.Boolean).Value(r)
			default:
				row[i] = col.(*array.String).Value(r)
			}
		}
		t.Rows[r] = row
	}
	return t
}

// writeIPC serializes a table as an Arrow IPC file — the native format for
// the scheduler's own artifact cache, since it round-trips without a
// separate encode/decode pass.
func writeIPC(path string, t *Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write ipc: %w", err)
	}
	defer f.Close()

	schema := toArrowSchema(t.Schema)
	w, err := ipc.NewFileWriter(f, ipc.WithSchema(schema))
	if err != nil {
		return fmt.Errorf("write ipc: %w", err)
	}
	rec := buildRecord(t)
	defer rec.Release()
	if err := w.Write(rec); err != nil {
		return fmt.Errorf("write ipc: %w", err)
	}
	return w.Close()
}

func readIPC(path string, schema models.Schema) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read ipc: %w", err)
	}
	defer f.Close()

	r, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("read ipc: %w", err)
	}

	out := NewTable(schema)
	for i := 0; i < r.NumRecords(); i++ {
		rec, err := r.Record(i)
		if err != nil {
			return nil, fmt.Errorf("read ipc: %w", err)
		}
		part := recordToTable(schema, rec)
		out.Rows = append(out.Rows, part.Rows...)
	}
	return out, nil
}

// writeParquet serializes a table as a parquet file via Arrow's pqarrow
// bridge, the on-disk format the spec names for cold storage and
// interchange with external tools.
func writeParquet(path string, t *Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write parquet: %w", err)
	}
	defer f.Close()

	schema := toArrowSchema(t.Schema)
	rec := buildRecord(t)
	defer rec.Release()

	writer, err := pqarrow.NewFileWriter(schema, f, parquet.NewWriterProperties(), pqarrow.DefaultWriterProps())
	if err != nil {
		return fmt.Errorf("write parquet: %w", err)
	}
	if err := writer.Write(rec); err != nil {
		return fmt.Errorf("write parquet: %w", err)
	}
	return writer.Close()
}

func readParquet(path string, schema models.Schema) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	defer f.Close()

	pf, err := file.NewParquetReader(f)
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.NewGoAllocator())
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	table, err := fr.ReadTable(context.Background())
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	defer table.Release()

	tr := array.NewTableReader(table, table.NumRows())
	defer tr.Release()
	out := NewTable(schema)
	for tr.Next() {
		rec := tr.Record()
		part := recordToTable(schema, rec)
		out.Rows = append(out.Rows, part.Rows...)
	}
	return out, nil
}
