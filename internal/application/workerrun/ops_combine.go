package workerrun

import (
	"fmt"

	"github.com/smilemakc/mbflow/pkg/models"
)

type joinKeyPair struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

type joinSettings struct {
	How         string        `json:"how"`
	On          []joinKeyPair `json:"on"`
	SuffixLeft  string        `json:"suffix_left,omitempty"`
	SuffixRight string        `json:"suffix_right,omitempty"`
}

// opJoin implements inner/left/right/full/semi/anti joins over two inputs
// using a hash index built on the right side's join columns. Port 0 is the
// main input, port 1 is the right input.
func opJoin(left, right *Table, raw []byte) (*Table, error) {
	var set joinSettings
	if err := decodeJSON(raw, &set); err != nil {
		return nil, err
	}
	if len(set.On) == 0 {
		return nil, fmt.Errorf("join: at least one key pair is required")
	}

	lIdx := make([]int, len(set.On))
	rIdx := make([]int, len(set.On))
	for i, pair := range set.On {
		lIdx[i] = left.columnIndex(pair.Left)
		rIdx[i] = right.columnIndex(pair.Right)
		if lIdx[i] < 0 || rIdx[i] < 0 {
			return nil, fmt.Errorf("join: unknown key column %q/%q", pair.Left, pair.Right)
		}
	}

	rightByKey := map[string][]int{}
	for j, row := range right.Rows {
		k := uniqueKey(row, rIdx)
		rightByKey[k] = append(rightByKey[k], j)
	}
	matchedRight := make([]bool, len(right.Rows))

	if set.How == "semi" || set.How == "anti" {
		out := NewTable(left.Schema)
		for _, lrow := range left.Rows {
			k := uniqueKey(lrow, lIdx)
			_, hasMatch := rightByKey[k]
			if (set.How == "semi") == hasMatch {
				out.Rows = append(out.Rows, lrow)
			}
		}
		return out, nil
	}

	suffixL, suffixR := set.SuffixLeft, set.SuffixRight
	if suffixL == "" {
		suffixL = "_left"
	}
	if suffixR == "" {
		suffixR = "_right"
	}
	outSchema := joinedSchema(left.Schema, right.Schema, suffixL, suffixR)
	out := NewTable(outSchema)

	for _, lrow := range left.Rows {
		k := uniqueKey(lrow, lIdx)
		matches := rightByKey[k]
		if len(matches) == 0 {
			if set.How == "left" || set.How == "full" {
				out.Rows = append(out.Rows, joinRow(lrow, nil, len(right.Schema.Columns)))
			}
			continue
		}
		for _, j := range matches {
			matchedRight[j] = true
			out.Rows = append(out.Rows, joinRow(lrow, right.Rows[j], len(right.Schema.Columns)))
		}
	}

	if set.How == "right" || set.How == "full" {
		for j, rrow := range right.Rows {
			if matchedRight[j] {
				continue
			}
			out.Rows = append(out.Rows, joinRow(nil, rrow, len(right.Schema.Columns)))
		}
	}
	return out, nil
}

// joinedSchema only suffixes right-side columns, matching the propagation
// rule: the left side's names always win a collision.
func joinedSchema(left, right models.Schema, lSuf, rSuf string) models.Schema {
	leftNames := map[string]bool{}
	for _, c := range left.Columns {
		leftNames[c.Name] = true
	}
	cols := append([]models.Column{}, left.Columns...)
	for _, c := range right.Columns {
		if leftNames[c.Name] {
			c.Name += rSuf
		}
		cols = append(cols, c)
	}
	return models.Schema{Columns: cols}
}

func joinRow(left, right []any, rightWidth int) []any {
	row := make([]any, 0, len(left)+rightWidth)
	row = append(row, left...)
	if right != nil {
		row = append(row, right...)
	} else {
		for i := 0; i < rightWidth; i++ {
			row = append(row, nil)
		}
	}
	return row
}

func opCrossJoin(left, right *Table) (*Table, error) {
	outSchema := joinedSchema(left.Schema, right.Schema, "_left", "_right")
	out := NewTable(outSchema)
	for _, lrow := range left.Rows {
		for _, rrow := range right.Rows {
			out.Rows = append(out.Rows, joinRow(lrow, rrow, len(right.Schema.Columns)))
		}
	}
	return out, nil
}

type unionSettings struct {
	Mode string `json:"mode"` // diagonal|relaxed
}

// opUnion stacks N inputs. In "relaxed" mode every input is assumed to
// share the first input's column order and is appended as-is; "diagonal"
// mode reconciles column sets by name, filling missing columns with null.
func opUnion(tables []*Table, raw []byte) (*Table, error) {
	var set unionSettings
	if err := decodeJSON(raw, &set); err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("union: no inputs")
	}

	if set.Mode != "diagonal" {
		out := NewTable(tables[0].Schema)
		for _, t := range tables {
			out.Rows = append(out.Rows, t.Rows...)
		}
		return out, nil
	}

	seen := map[string]models.Column{}
	var order []string
	for _, t := range tables {
		for _, c := range t.Schema.Columns {
			if _, ok := seen[c.Name]; !ok {
				order = append(order, c.Name)
			}
			seen[c.Name] = c
		}
	}
	cols := make([]models.Column, len(order))
	for i, name := range order {
		cols[i] = seen[name]
	}
	out := NewTable(models.Schema{Columns: cols})
	for _, t := range tables {
		colPos := make(map[string]int, len(t.Schema.Columns))
		for i, c := range t.Schema.Columns {
			colPos[c.Name] = i
		}
		for _, row := range t.Rows {
			newRow := make([]any, len(order))
			for i, name := range order {
				if srcIdx, ok := colPos[name]; ok {
					newRow[i] = row[srcIdx]
				}
			}
			out.Rows = append(out.Rows, newRow)
		}
	}
	return out, nil
}
