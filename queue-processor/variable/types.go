// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

// Package variable resolves the effective variable set for a reduction run.
// It implements the inheritance/override system between script-declared
// defaults, persisted instrument variables, and caller-supplied overrides,
// with copy-on-write versioning tagged by start run.
package variable

import (
	"encoding/json"
	"fmt"
	"html"
	"strconv"
	"strings"
)

// Variable value types. Values are stored as text in the database together
// with one of these type tags, and converted back before use.
const (
	TYPE_TEXT        = "text"
	TYPE_NUMBER      = "number"
	TYPE_BOOLEAN     = "boolean"
	TYPE_LIST_TEXT   = "list_text"
	TYPE_LIST_NUMBER = "list_number"
)

// TypeOf returns the type tag for a value as decoded from JSON. Unsupported
// types default to text.
func TypeOf(value interface{}) string {
	switch v := value.(type) {
	case string:
		return TYPE_TEXT
	case bool:
		return TYPE_BOOLEAN
	case float64, int, int64:
		return TYPE_NUMBER
	case []interface{}:
		for _, item := range v {
			if _, ok := item.(string); ok {
				return TYPE_LIST_TEXT
			}
		}
		return TYPE_LIST_NUMBER
	default:
		return TYPE_TEXT
	}
}

// Encode renders a value to its stored text form.
func Encode(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		// Whole numbers are stored without a fraction so the stored
		// form is stable across JSON decode round trips.
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case []interface{}:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Convert casts a stored text value back to the Go value for its type tag.
// An unrecognised type tag returns the value unchanged.
func Convert(varType, value string) (interface{}, error) {
	switch varType {
	case TYPE_TEXT:
		return value, nil
	case TYPE_NUMBER:
		if strings.Contains(value, ".") {
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q: %s", value, err)
			}
			return f, nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %s", value, err)
		}
		return n, nil
	case TYPE_BOOLEAN:
		return strings.EqualFold(value, "true"), nil
	case TYPE_LIST_TEXT:
		items, err := splitList(value)
		if err != nil {
			return nil, err
		}
		list := []interface{}{}
		for _, item := range items {
			item = strings.Trim(strings.TrimSpace(item), "'\"")
			if item != "" {
				list = append(list, item)
			}
		}
		return list, nil
	case TYPE_LIST_NUMBER:
		items, err := splitList(value)
		if err != nil {
			return nil, err
		}
		list := []interface{}{}
		for _, item := range items {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			n, err := Convert(TYPE_NUMBER, item)
			if err != nil {
				return nil, err
			}
			list = append(list, n)
		}
		return list, nil
	default:
		return value, nil
	}
}

// Coerce converts a caller-supplied override to the type tag of the script's
// declared default. Overrides submitted through web forms arrive as strings
// even for numeric variables; without coercion they would create spurious
// variable copies.
func Coerce(value interface{}, varType string) (interface{}, error) {
	if s, ok := value.(string); ok && varType != TYPE_TEXT {
		return Convert(varType, s)
	}
	return value, nil
}

// splitList parses a stored list value: JSON where possible, the legacy
// bracketed comma-separated form otherwise.
func splitList(value string) ([]string, error) {
	var jsonList []interface{}
	if err := json.Unmarshal([]byte(value), &jsonList); err == nil {
		items := make([]string, 0, len(jsonList))
		for _, item := range jsonList {
			items = append(items, Encode(item))
		}
		return items, nil
	}
	stripped := strings.NewReplacer("[", "", "]", "").Replace(value)
	if strings.TrimSpace(stripped) == "" {
		return []string{}, nil
	}
	return strings.Split(stripped, ","), nil
}

// SanitizeHelp removes any markup in script help text before it is persisted
// and later rendered by the web app.
func SanitizeHelp(helpText string) string {
	helpText = html.EscapeString(helpText)
	helpText = strings.ReplaceAll(helpText, "\n", "<br>")
	helpText = strings.ReplaceAll(helpText, "\t", "&nbsp;&nbsp;&nbsp;&nbsp;")
	return helpText
}
