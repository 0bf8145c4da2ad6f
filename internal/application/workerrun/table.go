// Package workerrun is the worker's in-process execution engine (C4): it
// turns a registry.Plan into a materialized Table by running the node
// kind's operation, and serializes the result to the configured artifact
// format.
//
// Transform logic runs over a row-oriented Table rather than Arrow's
// columnar batches directly; Arrow is used at the I/O boundary (parquet
// and IPC), where its columnar layout is the point. See DESIGN.md for the
// tradeoff.
package workerrun

import (
	"fmt"
	"sort"

	"github.com/smilemakc/mbflow/pkg/models"
)

// Table is a fully materialized, in-memory dataframe: an ordered schema
// and rows whose values align with it positionally.
type Table struct {
	Schema models.Schema
	Rows   [][]any
}

func NewTable(schema models.Schema) *Table {
	return &Table{Schema: schema}
}

func (t *Table) columnIndex(name string) int {
	for i, c := range t.Schema.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// MemoryBytes estimates the table's resident size; the worker reports it as
// the progress byte count. No memory limit is checked against it.
// It is a rough accounting, not an exact one: strings and numbers are
// charged their Go in-memory size, not their serialized size.
func (t *Table) MemoryBytes() int64 {
	var total int64
	for _, row := range t.Rows {
		for _, v := range row {
			switch val := v.(type) {
			case string:
				total += int64(len(val))
			default:
				total += 8
			}
		}
	}
	return total
}

// project returns a new table containing only the named columns, in the
// given order, optionally renamed/cast by the caller after the fact.
func (t *Table) project(names []string) (*Table, error) {
	idx := make([]int, len(names))
	cols := make([]models.Column, len(names))
	for i, n := range names {
		j := t.columnIndex(n)
		if j < 0 {
			return nil, fmt.Errorf("workerrun: unknown column %q", n)
		}
		idx[i] = j
		cols[i] = t.Schema.Columns[j]
	}
	out := &Table{Schema: models.Schema{Columns: cols}, Rows: make([][]any, len(t.Rows))}
	for r, row := range t.Rows {
		newRow := make([]any, len(idx))
		for i, j := range idx {
			newRow[i] = row[j]
		}
		out.Rows[r] = newRow
	}
	return out, nil
}

// sortByKeys sorts rows in place by the given column indices/directions,
// stably so ties preserve input order.
func (t *Table) sortByKeys(keyIdx []int, desc []bool) {
	sort.SliceStable(t.Rows, func(a, b int) bool {
		for i, idx := range keyIdx {
			c := compareValues(t.Rows[a][idx], t.Rows[b][idx])
			if c == 0 {
				continue
			}
			if desc[i] {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func compareValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	switch av := a.(type) {
	case float64:
		bv, ok := toFloat(b)
		if !ok {
			break
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case int64:
		bv, ok := toFloat(b)
		if !ok {
			break
		}
		return compareValues(float64(av), bv)
	case string:
		bv, ok := b.(string)
		if ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			default:
				return 0
			}
		}
	case bool:
		bv, ok := b.(bool)
		if ok {
			if av == bv {
				return 0
			}
			if !av {
				return -1
			}
			return 1
		}
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}
