package workerrun

import (
	"fmt"
	"sort"

	"github.com/smilemakc/mbflow/pkg/models"
)

type aggregation struct {
	Column string `json:"column"`
	Func   string `json:"func"`
	As     string `json:"as,omitempty"`
}

type groupBySettings struct {
	GroupBy      []string      `json:"group_by"`
	Aggregations []aggregation `json:"aggregations"`
}

// opGroupBy buckets rows by the group_by columns and reduces each bucket
// with the requested aggregation functions.
func opGroupBy(in *Table, raw []byte) (*Table, error) {
	var set groupBySettings
	if err := decodeJSON(raw, &set); err != nil {
		return nil, err
	}
	groupIdx := make([]int, len(set.GroupBy))
	for i, c := range set.GroupBy {
		groupIdx[i] = in.columnIndex(c)
		if groupIdx[i] < 0 {
			return nil, fmt.Errorf("group_by: unknown column %q", c)
		}
	}
	aggIdx := make([]int, len(set.Aggregations))
	for i, a := range set.Aggregations {
		if a.Func == "count" {
			aggIdx[i] = -1
			continue
		}
		aggIdx[i] = in.columnIndex(a.Column)
		if aggIdx[i] < 0 {
			return nil, fmt.Errorf("group_by: unknown column %q", a.Column)
		}
	}

	type bucket struct {
		keyVals []any
		values  [][]any
	}
	order := []string{}
	buckets := map[string]*bucket{}
	for _, row := range in.Rows {
		keyVals := make([]any, len(groupIdx))
		for i, gi := range groupIdx {
			keyVals[i] = row[gi]
		}
		k := uniqueKey(row, groupIdx)
		b, ok := buckets[k]
		if !ok {
			b = &bucket{keyVals: keyVals}
			buckets[k] = b
			order = append(order, k)
		}
		b.values = append(b.values, row)
	}
	sort.Strings(order)

	cols := make([]models.Column, 0, len(set.GroupBy)+len(set.Aggregations))
	for _, c := range set.GroupBy {
		cols = append(cols, in.Schema.Columns[in.columnIndex(c)])
	}
	for i, a := range set.Aggregations {
		name := a.As
		if name == "" {
			name = fmt.Sprintf("%s_%s", a.Column, a.Func)
		}
		cols = append(cols, models.Column{Name: name, Type: aggOutputType(a.Func, in, aggIdx[i])})
	}

	out := NewTable(models.Schema{Columns: cols})
	for _, k := range order {
		b := buckets[k]
		row := append([]any{}, b.keyVals...)
		for i, a := range set.Aggregations {
			row = append(row, reduceAggregation(a.Func, b.values, aggIdx[i]))
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

func aggOutputType(fn string, in *Table, colIdx int) models.ColumnType {
	switch fn {
	case "count", "n_unique":
		return models.ColumnInt64
	case "concat":
		return models.ColumnString
	case "mean", "median":
		return models.ColumnFloat64
	}
	if colIdx >= 0 && colIdx < len(in.Schema.Columns) {
		return in.Schema.Columns[colIdx].Type
	}
	return models.ColumnFloat64
}

func reduceAggregation(fn string, rows [][]any, colIdx int) any {
	switch fn {
	case "count":
		return int64(len(rows))
	case "n_unique":
		seen := map[string]bool{}
		for _, r := range rows {
			seen[fmt.Sprintf("%v", r[colIdx])] = true
		}
		return int64(len(seen))
	case "concat":
		out := ""
		for i, r := range rows {
			if i > 0 {
				out += ","
			}
			out += formatValue(r[colIdx])
		}
		return out
	case "sum":
		var sum float64
		for _, r := range rows {
			if n, ok := toFloat(r[colIdx]); ok {
				sum += n
			}
		}
		return sum
	case "mean":
		var sum float64
		var n int
		for _, r := range rows {
			if v, ok := toFloat(r[colIdx]); ok {
				sum += v
				n++
			}
		}
		if n == 0 {
			return nil
		}
		return sum / float64(n)
	case "median":
		vals := make([]float64, 0, len(rows))
		for _, r := range rows {
			if v, ok := toFloat(r[colIdx]); ok {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			return nil
		}
		sort.Float64s(vals)
		mid := len(vals) / 2
		if len(vals)%2 == 0 {
			return (vals[mid-1] + vals[mid]) / 2
		}
		return vals[mid]
	case "min":
		var best any
		for _, r := range rows {
			if best == nil || compareValues(r[colIdx], best) < 0 {
				best = r[colIdx]
			}
		}
		return best
	case "max":
		var best any
		for _, r := range rows {
			if best == nil || compareValues(r[colIdx], best) > 0 {
				best = r[colIdx]
			}
		}
		return best
	case "first":
		if len(rows) > 0 {
			return rows[0][colIdx]
		}
		return nil
	case "last":
		if len(rows) > 0 {
			return rows[len(rows)-1][colIdx]
		}
		return nil
	}
	return nil
}

type pivotSettings struct {
	IndexColumns  []string `json:"index_columns"`
	ColumnsColumn string   `json:"columns_column"`
	ValuesColumn  string   `json:"values_column"`
	Agg           string   `json:"agg,omitempty"`
}

// opPivot reshapes long-format rows so the distinct values of
// columns_column become new output columns, aggregating values_column
// values that collide under agg. The declared plan-time schema carries
// only a single placeholder column (the real header depends on data this
// node's propagation step never sees); this materializes the real one.
func opPivot(in *Table, raw []byte) (*Table, error) {
	var set pivotSettings
	if err := decodeJSON(raw, &set); err != nil {
		return nil, err
	}
	agg := set.Agg
	if agg == "" {
		agg = "first"
	}
	idxIdx := make([]int, len(set.IndexColumns))
	for i, c := range set.IndexColumns {
		idxIdx[i] = in.columnIndex(c)
	}
	pivotIdx := in.columnIndex(set.ColumnsColumn)
	valIdx := in.columnIndex(set.ValuesColumn)
	if pivotIdx < 0 || valIdx < 0 {
		return nil, fmt.Errorf("pivot: unknown column")
	}

	pivotValues := []string{}
	seenPivot := map[string]bool{}
	groups := map[string][]any{}
	groupRows := map[string][][]any{}
	order := []string{}

	for _, row := range in.Rows {
		k := uniqueKey(row, idxIdx)
		if _, ok := groups[k]; !ok {
			keyVals := make([]any, len(idxIdx))
			for i, ii := range idxIdx {
				keyVals[i] = row[ii]
			}
			groups[k] = keyVals
			order = append(order, k)
		}
		groupRows[k] = append(groupRows[k], row)

		pv := formatValue(row[pivotIdx])
		if !seenPivot[pv] {
			seenPivot[pv] = true
			pivotValues = append(pivotValues, pv)
		}
	}
	sort.Strings(order)
	sort.Strings(pivotValues)

	cols := make([]models.Column, 0, len(set.IndexColumns)+len(pivotValues))
	for _, c := range set.IndexColumns {
		cols = append(cols, in.Schema.Columns[in.columnIndex(c)])
	}
	valType := aggOutputType(agg, in, valIdx)
	for _, pv := range pivotValues {
		cols = append(cols, models.Column{Name: pv, Type: valType})
	}

	out := NewTable(models.Schema{Columns: cols})
	for _, k := range order {
		row := append([]any{}, groups[k]...)
		byPivot := map[string][][]any{}
		for _, r := range groupRows[k] {
			pv := formatValue(r[pivotIdx])
			byPivot[pv] = append(byPivot[pv], r)
		}
		for _, pv := range pivotValues {
			rows, ok := byPivot[pv]
			if !ok {
				row = append(row, nil)
				continue
			}
			row = append(row, reduceAggregation(agg, rows, valIdx))
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

type unpivotSettings struct {
	IndexColumns []string `json:"index_columns"`
	ValueColumns []string `json:"value_columns"`
	NameColumn   string   `json:"name_column"`
	ValueColumn  string   `json:"value_column"`
}

// opUnpivot reshapes wide-format rows into long format, melting
// value_columns into a pair of (name_column, value_column) rows per input
// row.
func opUnpivot(in *Table, raw []byte) (*Table, error) {
	var set unpivotSettings
	if err := decodeJSON(raw, &set); err != nil {
		return nil, err
	}
	nameColumn := set.NameColumn
	if nameColumn == "" {
		nameColumn = "variable"
	}
	valueColumn := set.ValueColumn
	if valueColumn == "" {
		valueColumn = "value"
	}

	idxIdx := make([]int, len(set.IndexColumns))
	for i, c := range set.IndexColumns {
		idxIdx[i] = in.columnIndex(c)
	}
	valueIdx := make([]int, len(set.ValueColumns))
	valueType := models.ColumnString
	for i, c := range set.ValueColumns {
		valueIdx[i] = in.columnIndex(c)
		if i == 0 && valueIdx[i] >= 0 {
			valueType = in.Schema.Columns[valueIdx[i]].Type
		}
	}

	cols := make([]models.Column, 0, len(set.IndexColumns)+2)
	for _, c := range set.IndexColumns {
		cols = append(cols, in.Schema.Columns[in.columnIndex(c)])
	}
	cols = append(cols, models.Column{Name: nameColumn, Type: models.ColumnString})
	cols = append(cols, models.Column{Name: valueColumn, Type: valueType})

	out := NewTable(models.Schema{Columns: cols})
	for _, row := range in.Rows {
		base := make([]any, len(idxIdx))
		for i, ii := range idxIdx {
			base[i] = row[ii]
		}
		for i, vi := range valueIdx {
			newRow := append([]any{}, base...)
			newRow = append(newRow, set.ValueColumns[i], row[vi])
			out.Rows = append(out.Rows, newRow)
		}
	}
	return out, nil
}
