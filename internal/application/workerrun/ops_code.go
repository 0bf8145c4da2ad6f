package workerrun

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

type polarsCodeSettings struct {
	Source     string       `json:"source"`
	InputNames []string     `json:"input_names"`
	OutputSpec []columnSpec `json:"output_schema"`
}

// opPolarsCode is a deliberately restricted stand-in for the dataframe
// scripting node: there is no Go dataframe library with polars' surface,
// so source is read as one expr-lang assignment per output column
// ("output_col = expression") rather than executed as a dataframe
// program (see DESIGN.md). Each input port's bound name is exposed as a
// row-valued variable inside the expression; inputs must be row-aligned.
func opPolarsCode(tables []*Table, raw []byte) (*Table, error) {
	var set polarsCodeSettings
	if err := decodeJSON(raw, &set); err != nil {
		return nil, err
	}
	if len(tables) != len(set.InputNames) {
		return nil, fmt.Errorf("polars_code: expected %d input(s), got %d", len(set.InputNames), len(tables))
	}

	assignments, err := parsePolarsAssignments(set.Source)
	if err != nil {
		return nil, err
	}
	programs := make(map[string]*vm.Program, len(assignments))
	for col, src := range assignments {
		p, err := expr.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("polars_code: column %q: %w", col, err)
		}
		programs[col] = p
	}

	rowCount := 0
	if len(tables) > 0 {
		rowCount = len(tables[0].Rows)
	}

	outSchema := specSchema(set.OutputSpec)
	out := NewTable(outSchema)
	for r := 0; r < rowCount; r++ {
		env := map[string]any{}
		for i, name := range set.InputNames {
			if r < len(tables[i].Rows) {
				env[name] = rowEnv(tables[i].Schema, tables[i].Rows[r])
			}
		}
		row := make([]any, len(set.OutputSpec))
		for i, col := range set.OutputSpec {
			program, ok := programs[col.Name]
			if !ok {
				continue
			}
			result, err := expr.Run(program, env)
			if err != nil {
				return nil, fmt.Errorf("polars_code: column %q: %w", col.Name, err)
			}
			v, err := coerce(result, col.Type)
			if err != nil {
				return nil, fmt.Errorf("polars_code: column %q: %w", col.Name, err)
			}
			row[i] = v
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// parsePolarsAssignments reads "column = expression" lines, skipping blank
// lines and lines starting with "#".
func parsePolarsAssignments(source string) (map[string]string, error) {
	out := map[string]string{}
	for _, line := range strings.Split(source, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("polars_code: malformed assignment %q", line)
		}
		out[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return out, nil
}
