package testutils

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// AnyValue in expected JSON matches whatever the actual document holds at
// that position, as long as the key is present.
const AnyValue = "<<ANY>>"

// JSONAssertOptions tune how documents are compared.
type JSONAssertOptions struct {
	IgnoreExtraKeys  bool     `default:"false"`
	IgnoreArrayOrder bool     `default:"false"`
	IgnoredFields    []string `default:""`
}

type JSONOption func(*JSONAssertOptions)

// WithIgnoreExtraKeys drops object keys that the expected document lacks.
func WithIgnoreExtraKeys() JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = true }
}

// WithIgnoreArrayOrder compares arrays as multisets.
func WithIgnoreArrayOrder() JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoreArrayOrder = true }
}

// WithIgnoredFields removes the named keys at every depth on both sides.
func WithIgnoredFields(fields ...string) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoredFields = fields }
}

// JSONAsserter reports a readable structural diff when two JSON documents
// differ.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

func NewJSONAsserter(t TestingT, opts ...JSONOption) *JSONAsserter {
	var o JSONAssertOptions
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}
	return &JSONAsserter{t: t, options: o}
}

// Assert fails the test when actual does not match expected.
func (ja *JSONAsserter) Assert(actual, expected string) bool {
	if h, ok := ja.t.(interface{ Helper() }); ok {
		h.Helper()
	}
	if diff := ja.Diff(actual, expected); diff != "" {
		ja.t.Errorf("JSON mismatch:\n%s", diff)
		return false
	}
	return true
}

// Diff returns an empty string when the documents match.
func (ja *JSONAsserter) Diff(actual, expected string) string {
	var exp, act any
	if err := json.Unmarshal([]byte(expected), &exp); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actual), &act); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff only compares objects at the root.
	exp = map[string]any{"root": exp}
	act = map[string]any{"root": act}

	for _, f := range ja.options.IgnoredFields {
		dropKey(exp, f)
		dropKey(act, f)
	}
	fillAny(exp, act)
	if ja.options.IgnoreArrayOrder {
		sortArrays(exp)
		sortArrays(act)
	}
	if ja.options.IgnoreExtraKeys {
		pruneExtra(act, exp)
	}

	expBytes, _ := json.Marshal(exp)
	actBytes, _ := json.Marshal(act)
	d, err := gojsondiff.New().Compare(expBytes, actBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !d.Modified() {
		return ""
	}
	out, _ := formatter.NewAsciiFormatter(exp, formatter.AsciiFormatterConfig{ShowArrayIndex: true}).Format(d)
	return out
}

func fillAny(exp, act any) {
	switch e := exp.(type) {
	case map[string]any:
		a, ok := act.(map[string]any)
		if !ok {
			return
		}
		for k, v := range e {
			if s, ok := v.(string); ok && s == AnyValue {
				if av, present := a[k]; present {
					e[k] = av
				}
				continue
			}
			fillAny(v, a[k])
		}
	case []any:
		a, ok := act.([]any)
		if !ok {
			return
		}
		for i := range e {
			if i < len(a) {
				if s, ok := e[i].(string); ok && s == AnyValue {
					e[i] = a[i]
					continue
				}
				fillAny(e[i], a[i])
			}
		}
	}
}

func pruneExtra(act, exp any) {
	switch e := exp.(type) {
	case map[string]any:
		a, ok := act.(map[string]any)
		if !ok {
			return
		}
		for k := range a {
			if _, keep := e[k]; !keep {
				delete(a, k)
			}
		}
		for k := range e {
			pruneExtra(a[k], e[k])
		}
	case []any:
		a, ok := act.([]any)
		if !ok {
			return
		}
		for i := range e {
			if i < len(a) {
				pruneExtra(a[i], e[i])
			}
		}
	}
}

func dropKey(v any, key string) {
	switch t := v.(type) {
	case map[string]any:
		delete(t, key)
		for _, child := range t {
			dropKey(child, key)
		}
	case []any:
		for _, child := range t {
			dropKey(child, key)
		}
	}
}

// sortArrays orders every array by the JSON encoding of its elements.
// Ignored fields must already be dropped so they do not affect the order.
func sortArrays(v any) {
	switch t := v.(type) {
	case map[string]any:
		for _, child := range t {
			sortArrays(child)
		}
	case []any:
		for _, child := range t {
			sortArrays(child)
		}
		sort.SliceStable(t, func(i, j int) bool {
			a, _ := json.Marshal(t[i])
			b, _ := json.Marshal(t[j])
			return string(a) < string(b)
		})
	}
}
