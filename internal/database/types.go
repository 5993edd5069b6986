package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONList stores a string slice as a JSON array in a TEXT column.
type JSONList []string

// Value implements driver.Valuer.
func (l JSONList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal string list: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *JSONList) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported type %T for JSONList", src)
	}
	if len(data) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(data, (*[]string)(l))
}

// Contains reports whether the list already holds s.
func (l JSONList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// Union appends the values not already present, keeping insertion order.
func (l JSONList) Union(values []string) JSONList {
	out := l
	for _, v := range values {
		if v == "" || out.Contains(v) {
			continue
		}
		out = append(out, v)
	}
	return out
}
