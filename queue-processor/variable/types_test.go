// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

package variable_test

import (
	"testing"

	"github.com/go-test/deep"

	"github.com/autoreduction/queue-processor/queue-processor/variable"
)

func TestTypeOf(t *testing.T) {
	cases := []struct {
		value    interface{}
		expected string
	}{
		{"some text", variable.TYPE_TEXT},
		{float64(42), variable.TYPE_NUMBER},
		{1.5, variable.TYPE_NUMBER},
		{true, variable.TYPE_BOOLEAN},
		{[]interface{}{float64(1), float64(2)}, variable.TYPE_LIST_NUMBER},
		{[]interface{}{}, variable.TYPE_LIST_NUMBER},
		{[]interface{}{float64(1), "a"}, variable.TYPE_LIST_TEXT},
		{nil, variable.TYPE_TEXT},
	}
	for _, c := range cases {
		if got := variable.TypeOf(c.value); got != c.expected {
			t.Errorf("TypeOf(%v) = %s, expected %s", c.value, got, c.expected)
		}
	}
}

func TestEncode(t *testing.T) {
	cases := []struct {
		value    interface{}
		expected string
	}{
		{"abc", "abc"},
		{float64(2), "2"},
		{2.5, "2.5"},
		{true, "true"},
		{[]interface{}{float64(1), float64(2)}, "[1,2]"},
		{[]interface{}{"a", "b"}, `["a","b"]`},
	}
	for _, c := range cases {
		if got := variable.Encode(c.value); got != c.expected {
			t.Errorf("Encode(%v) = %q, expected %q", c.value, got, c.expected)
		}
	}
}

func TestConvert(t *testing.T) {
	cases := []struct {
		varType  string
		value    string
		expected interface{}
	}{
		{variable.TYPE_TEXT, "abc", "abc"},
		{variable.TYPE_NUMBER, "42", int64(42)},
		{variable.TYPE_NUMBER, "2.5", 2.5},
		{variable.TYPE_BOOLEAN, "true", true},
		{variable.TYPE_BOOLEAN, "True", true},
		{variable.TYPE_BOOLEAN, "no", false},
		{variable.TYPE_LIST_NUMBER, "[1,2]", []interface{}{int64(1), int64(2)}},
		{variable.TYPE_LIST_NUMBER, "1, 2", []interface{}{int64(1), int64(2)}},
		{variable.TYPE_LIST_TEXT, `["a","b"]`, []interface{}{"a", "b"}},
		{variable.TYPE_LIST_TEXT, "['a', 'b']", []interface{}{"a", "b"}},
	}
	for _, c := range cases {
		got, err := variable.Convert(c.varType, c.value)
		if err != nil {
			t.Errorf("Convert(%s, %q) err = %s, expected nil", c.varType, c.value, err)
			continue
		}
		if diff := deep.Equal(got, c.expected); diff != nil {
			t.Errorf("Convert(%s, %q): %v", c.varType, c.value, diff)
		}
	}
}

func TestConvertBadNumber(t *testing.T) {
	if _, err := variable.Convert(variable.TYPE_NUMBER, "not a number"); err == nil {
		t.Error("expected an error, did not get one")
	}
}

func TestCoerce(t *testing.T) {
	got, err := variable.Coerce("42", variable.TYPE_NUMBER)
	if err != nil {
		t.Fatalf("err = %s, expected nil", err)
	}
	if got != int64(42) {
		t.Errorf("Coerce(\"42\", number) = %v, expected 42", got)
	}

	// Non-string values pass through untouched.
	got, err = variable.Coerce(float64(7), variable.TYPE_NUMBER)
	if err != nil {
		t.Fatalf("err = %s, expected nil", err)
	}
	if got != float64(7) {
		t.Errorf("Coerce(7, number) = %v, expected 7", got)
	}
}

func TestSanitizeHelp(t *testing.T) {
	got := variable.SanitizeHelp("<b>bold</b>\nline\ttab")
	expected := "&lt;b&gt;bold&lt;/b&gt;<br>line&nbsp;&nbsp;&nbsp;&nbsp;tab"
	if got != expected {
		t.Errorf("SanitizeHelp = %q, expected %q", got, expected)
	}
}
