package state

import (
	"database/sql"

	json "github.com/goccy/go-json"
)

// encodeJSON serializes a value for storage in a TEXT column.
// nil-ish values encode as NULL so empty maps don't clutter rows.
func encodeJSON(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if len(val) == 0 {
			return nil, nil
		}
	case []string:
		if len(val) == 0 {
			return nil, nil
		}
	case map[string]map[string]any:
		if len(val) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// decodeJSON deserializes a nullable TEXT column into out.
// A NULL column leaves out untouched.
func decodeJSON(col sql.NullString, out any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), out)
}
