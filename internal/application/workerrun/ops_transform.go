package workerrun

import (
	"fmt"
	"math/rand"

	"github.com/expr-lang/expr"
	"github.com/smilemakc/mbflow/pkg/models"
)

type selectColumn struct {
	Name   string            `json:"name"`
	Rename string            `json:"rename,omitempty"`
	CastTo models.ColumnType `json:"cast_to,omitempty"`
}

type selectSettings struct {
	Columns     []selectColumn `json:"columns"`
	KeepMissing string         `json:"keep_missing,omitempty"`
}

func opSelect(in *Table, raw []byte) (*Table, error) {
	var set selectSettings
	if err := decodeJSON(raw, &set); err != nil {
		return nil, err
	}
	names := make([]string, len(set.Columns))
	for i, c := range set.Columns {
		names[i] = c.Name
	}
	out, err := in.project(names)
	if err != nil {
		return nil, err
	}
	for i, c := range set.Columns {
		if c.Rename != "" {
			out.Schema.Columns[i].Name = c.Rename
		}
		if c.CastTo != "" {
			out.Schema.Columns[i].Type = c.CastTo
			for r := range out.Rows {
				v, err := coerce(out.Rows[r][i], c.CastTo)
				if err != nil {
					return nil, err
				}
				out.Rows[r][i] = v
			}
		}
	}
	return out, nil
}

type filterPredicate struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
	Value2   any    `json:"value2,omitempty"`
}

type filterSettings struct {
	Predicate  *filterPredicate `json:"predicate,omitempty"`
	Expression string           `json:"expression,omitempty"`
}

func opFilter(in *Table, raw []byte) (*Table, error) {
	var set filterSettings
	if err := decodeJSON(raw, &set); err != nil {
		return nil, err
	}
	out := NewTable(in.Schema)

	if set.Expression != "" {
		program, err := expr.Compile(set.Expression)
		if err != nil {
			return nil, fmt.Errorf("filter: %w", err)
		}
		for _, row := range in.Rows {
			env := rowEnv(in.Schema, row)
			result, err := expr.Run(program, map[string]any{"row": env})
			if err != nil {
				return nil, fmt.Errorf("filter: %w", err)
			}
			if keep, ok := result.(bool); ok && keep {
				out.Rows = append(out.Rows, row)
			}
		}
		return out, nil
	}

	if set.Predicate == nil {
		return nil, fmt.Errorf("filter: either predicate or expression is required")
	}
	idx := in.columnIndex(set.Predicate.Field)
	if idx < 0 {
		return nil, fmt.Errorf("filter: unknown column %q", set.Predicate.Field)
	}
	for _, row := range in.Rows {
		if matchPredicate(row[idx], *set.Predicate) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

func rowEnv(schema models.Schema, row []any) map[string]any {
	env := make(map[string]any, len(schema.Columns))
	for i, c := range schema.Columns {
		env[c.Name] = row[i]
	}
	return env
}

func matchPredicate(v any, p filterPredicate) bool {
	switch p.Operator {
	case "is_null":
		return v == nil
	case "not_null":
		return v != nil
	case "eq":
		return compareValues(v, p.Value) == 0
	case "ne":
		return compareValues(v, p.Value) != 0
	case "gt":
		return compareValues(v, p.Value) > 0
	case "gte":
		return compareValues(v, p.Value) >= 0
	case "lt":
		return compareValues(v, p.Value) < 0
	case "lte":
		return compareValues(v, p.Value) <= 0
	case "between":
		return compareValues(v, p.Value) >= 0 && compareValues(v, p.Value2) <= 0
	case "contains":
		s, _ := v.(string)
		sub, _ := p.Value.(string)
		return containsString(s, sub)
	case "starts_with":
		s, _ := v.(string)
		pre, _ := p.Value.(string)
		return len(s) >= len(pre) && s[:len(pre)] == pre
	case "ends_with":
		s, _ := v.(string)
		suf, _ := p.Value.(string)
		return len(s) >= len(suf) && s[len(s)-len(suf):] == suf
	case "in":
		arr, _ := p.Value.([]any)
		for _, item := range arr {
			if compareValues(v, item) == 0 {
				return true
			}
		}
		return false
	}
	return false
}

func containsString(s, sub string) bool {
	return len(sub) == 0 || (len(s) >= len(sub) && indexOf(s, sub) >= 0)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

type recordIDSettings struct {
	OutputColumn string `json:"output_column"`
	StartAt      int64  `json:"start_at,omitempty"`
}

func opRecordID(in *Table, raw []byte) (*Table, error) {
	var set recordIDSettings
	if err := decodeJSON(raw, &set); err != nil {
		return nil, err
	}
	out := &Table{Schema: models.Schema{Columns: append(
		[]models.Column{{Name: set.OutputColumn, Type: models.ColumnInt64}}, in.Schema.Columns...)}}
	for i, row := range in.Rows {
		newRow := append([]any{set.StartAt + int64(i)}, row...)
		out.Rows = append(out.Rows, newRow)
	}
	return out, nil
}

type formulaSettings struct {
	OutputColumn string            `json:"output_column"`
	Expression   string            `json:"expression"`
	OutputType   models.ColumnType `json:"output_type"`
}

func opFormula(in *Table, raw []byte) (*Table, error) {
	var set formulaSettings
	if err := decodeJSON(raw, &set); err != nil {
		return nil, err
	}
	program, err := expr.Compile(set.Expression)
	if err != nil {
		return nil, fmt.Errorf("formula: %w", err)
	}

	outIdx := in.columnIndex(set.OutputColumn)
	var outSchema models.Schema
	if outIdx >= 0 {
		outSchema = models.Schema{Columns: append([]models.Column{}, in.Schema.Columns...)}
		outSchema.Columns[outIdx] = models.Column{Name: set.OutputColumn, Type: set.OutputType}
	} else {
		outSchema = models.Schema{Columns: append(append([]models.Column{}, in.Schema.Columns...),
			models.Column{Name: set.OutputColumn, Type: set.OutputType})}
	}

	out := NewTable(outSchema)
	for _, row := range in.Rows {
		env := rowEnv(in.Schema, row)
		result, err := expr.Run(program, env)
		if err != nil {
			return nil, fmt.Errorf("formula: %w", err)
		}
		coerced, err := coerce(result, set.OutputType)
		if err != nil {
			return nil, fmt.Errorf("formula: %w", err)
		}
		if outIdx >= 0 {
			newRow := append([]any{}, row...)
			newRow[outIdx] = coerced
			out.Rows = append(out.Rows, newRow)
		} else {
			out.Rows = append(out.Rows, append(append([]any{}, row...), coerced))
		}
	}
	return out, nil
}

type limitSettings struct {
	N int64 `json:"n"`
}

func opHead(in *Table, raw []byte) (*Table, error) {
	var set limitSettings
	if err := decodeJSON(raw, &set); err != nil {
		return nil, err
	}
	n := int(set.N)
	if n > len(in.Rows) {
		n = len(in.Rows)
	}
	return &Table{Schema: in.Schema, Rows: append([][]any{}, in.Rows[:n]...)}, nil
}

func opSample(in *Table, raw []byte, rng *rand.Rand) (*Table, error) {
	var set limitSettings
	if err := decodeJSON(raw, &set); err != nil {
		return nil, err
	}
	n := int(set.N)
	if n > len(in.Rows) {
		n = len(in.Rows)
	}
	perm := rng.Perm(len(in.Rows))[:n]
	out := &Table{Schema: in.Schema, Rows: make([][]any, n)}
	for i, p := range perm {
		out.Rows[i] = in.Rows[p]
	}
	return out, nil
}

type sortKey struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending,omitempty"`
}

type sortSettings struct {
	Keys []sortKey `json:"keys"`
}

func opSort(in *Table, raw []byte) (*Table, error) {
	var set sortSettings
	if err := decodeJSON(raw, &set); err != nil {
		return nil, err
	}
	idx := make([]int, len(set.Keys))
	desc := make([]bool, len(set.Keys))
	for i, k := range set.Keys {
		idx[i] = in.columnIndex(k.Column)
		desc[i] = k.Descending
	}
	out := &Table{Schema: in.Schema, Rows: append([][]any{}, in.Rows...)}
	out.sortByKeys(idx, desc)
	return out, nil
}

type uniqueSettings struct {
	Columns []string `json:"columns"`
	Keep    string   `json:"keep"`
}

func opUnique(in *Table, raw []byte) (*Table, error) {
	var set uniqueSettings
	if err := decodeJSON(raw, &set); err != nil {
		return nil, err
	}
	idx := make([]int, len(set.Columns))
	for i, c := range set.Columns {
		idx[i] = in.columnIndex(c)
	}
	keep := set.Keep
	if keep == "" {
		keep = "any"
	}

	if keep == "none" {
		counts := map[string]int{}
		for _, row := range in.Rows {
			counts[uniqueKey(row, idx)]++
		}
		out := &Table{Schema: in.Schema}
		for _, row := range in.Rows {
			if counts[uniqueKey(row, idx)] == 1 {
				out.Rows = append(out.Rows, row)
			}
		}
		return out, nil
	}

	seen := map[string]int{}
	out := &Table{Schema: in.Schema}
	for _, row := range in.Rows {
		key := uniqueKey(row, idx)
		if existing, ok := seen[key]; ok {
			if keep == "last" {
				out.Rows[existing] = row
			}
			continue
		}
		seen[key] = len(out.Rows)
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

func uniqueKey(row []any, idx []int) string {
	key := ""
	for _, i := range idx {
		key += fmt.Sprintf("%v\x1f", row[i])
	}
	return key
}
