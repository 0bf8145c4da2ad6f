package workerrun

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/smilemakc/mbflow/pkg/models"
)

// decodeJSON unmarshals a node's raw settings payload, rejecting unknown
// fields so a typo in a flow definition surfaces as an execution error
// rather than being silently ignored.
func decodeJSON(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	return nil
}

// coerce converts a raw, untyped value (from CSV text, JSON, or a database
// driver) into the Go representation used internally for a column's
// declared type.
func coerce(raw any, t models.ColumnType) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch t {
	case models.ColumnInt8, models.ColumnInt16, models.ColumnInt32, models.ColumnInt64:
		switch v := raw.(type) {
		case string:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot parse %q as %s: %w", v, t, err)
			}
			return n, nil
		case float64:
			return int64(v), nil
		case int64:
			return v, nil
		}
	case models.ColumnFloat32, models.ColumnFloat64:
		switch v := raw.(type) {
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot parse %q as %s: %w", v, t, err)
			}
			return f, nil
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		}
	case models.ColumnBool:
		switch v := raw.(type) {
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("cannot parse %q as bool: %w", v, err)
			}
			return b, nil
		case bool:
			return v, nil
		}
	case models.ColumnDate, models.ColumnDatetime:
		switch v := raw.(type) {
		case string:
			for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05"} {
				if ts, err := time.Parse(layout, v); err == nil {
					return ts, nil
				}
			}
			return nil, fmt.Errorf("cannot parse %q as %s", v, t)
		case time.Time:
			return v, nil
		}
	case models.ColumnString:
		return fmt.Sprintf("%v", raw), nil
	}
	return raw, nil
}

// formatValue renders an internal value back to a CSV-safe string.
func formatValue(v any) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case time.Time:
		return val.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
