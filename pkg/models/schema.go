package models

// ColumnType is the fixed enum of logical column types a node's derived
// schema may use. Schemas are derived, never user-authored.
type ColumnType string

const (
	ColumnInt8     ColumnType = "int8"
	ColumnInt16    ColumnType = "int16"
	ColumnInt32    ColumnType = "int32"
	ColumnInt64    ColumnType = "int64"
	ColumnFloat32  ColumnType = "float32"
	ColumnFloat64  ColumnType = "float64"
	ColumnString   ColumnType = "string"
	ColumnBool     ColumnType = "bool"
	ColumnDate     ColumnType = "date"
	ColumnDatetime ColumnType = "datetime"
	ColumnDecimal  ColumnType = "decimal"
	ColumnList     ColumnType = "list"
	ColumnStruct   ColumnType = "struct"
	ColumnNull     ColumnType = "null"
)

// Column is a single named, typed field of a Schema.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Schema is the ordered column list produced at a node's output port. Two
// schemas are equal iff their column slices are equal in order.
type Schema struct {
	Columns []Column `json:"columns"`
}

// Equal reports whether two schemas have identical columns in the same
// order.
func (s Schema) Equal(other Schema) bool {
	if len(s.Columns) != len(other.Columns) {
		return false
	}
	for i, c := range s.Columns {
		if c != other.Columns[i] {
			return false
		}
	}
	return true
}

// ColumnNames returns the schema's column names in order.
func (s Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// HasColumn reports whether the schema contains a column with the given
// name.
func (s Schema) HasColumn(name string) bool {
	for _, c := range s.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}
