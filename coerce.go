package salvage

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// Conventional property names probed, in order, when a schema expects an array
// but the value is an object holding the array under a wrapper key.
var arrayWrapperKeys = []string{"items", "elements", "results", "data", "values", "list"}

// coerceToSchema reshapes a parsed value to match the schema: container shape
// first (object vs array), then field types recursively. It never fails;
// unrecognized shapes degrade to the most schema-shaped best effort, with each
// adjustment recorded as a diagnostic.
func coerceToSchema(v any, doc map[string]any) (any, []string) {
	var diags []string
	v = coerceContainer(v, doc, &diags)
	return coerceValue(v, doc, &diags), diags
}

// coerceContainer fixes object/array mismatches at one level of nesting.
func coerceContainer(v any, doc map[string]any, diags *[]string) any {
	switch schemaType(doc) {
	case "object":
		arr, ok := v.([]any)
		if !ok {
			return v
		}
		if prop := soleArrayProperty(doc); prop != "" {
			*diags = append(*diags, fmt.Sprintf("coerce: wrapped raw array as {%q: ...}", prop))
			return map[string]any{prop: arr}
		}
		if len(arr) == 1 {
			if obj, ok := arr[0].(map[string]any); ok {
				*diags = append(*diags, "coerce: unwrapped one-element array into object")
				return obj
			}
		}
	case "array":
		obj, ok := v.(map[string]any)
		if !ok {
			return v
		}
		for _, key := range arrayWrapperKeys {
			if arr, ok := obj[key].([]any); ok {
				*diags = append(*diags, fmt.Sprintf("coerce: unwrapped array from object key %q", key))
				return arr
			}
		}
		if arr, ok := integerKeyedArray(obj); ok {
			*diags = append(*diags, "coerce: converted integer-keyed object into array")
			return arr
		}
		*diags = append(*diags, "coerce: wrapped object in single-element array")
		return []any{obj}
	}
	return v
}

// coerceValue fixes field types per the schema, recursively. Enum snapping
// runs before type conversion so an out-of-domain value lands on a declared
// option rather than a type-converted stray.
func coerceValue(v any, doc map[string]any, diags *[]string) any {
	if enum := schemaEnum(doc); len(enum) > 0 {
		for _, opt := range enum {
			if reflect.DeepEqual(v, opt) {
				return v
			}
		}
		*diags = append(*diags, fmt.Sprintf("coerce: snapped out-of-domain value %v to enum option %v", v, enum[0]))
		return enum[0]
	}
	switch schemaType(doc) {
	case "string":
		s := toString(v)
		if _, ok := v.(string); !ok {
			*diags = append(*diags, fmt.Sprintf("coerce: stringified %T value", v))
		}
		return s
	case "number":
		return coerceNumber(v, false, diags)
	case "integer":
		return coerceNumber(v, true, diags)
	case "boolean":
		return coerceBool(v, diags)
	case "array":
		v = coerceContainer(v, doc, diags)
		arr, ok := v.([]any)
		if !ok {
			*diags = append(*diags, fmt.Sprintf("coerce: replaced non-array %T with empty array", v))
			return []any{}
		}
		items := schemaItems(doc)
		if items == nil {
			return arr
		}
		out := make([]any, len(arr))
		for i, el := range arr {
			out[i] = coerceValue(coerceContainer(el, items, diags), items, diags)
		}
		return out
	case "object":
		v = coerceContainer(v, doc, diags)
		obj, ok := v.(map[string]any)
		if !ok {
			*diags = append(*diags, fmt.Sprintf("coerce: expected object, got %T", v))
			return v
		}
		out := make(map[string]any, len(obj))
		props := schemaProps(doc)
		for key, val := range obj {
			if prop, ok := props[key]; ok {
				out[key] = coerceValue(coerceContainer(val, prop, diags), prop, diags)
			} else {
				out[key] = val
			}
		}
		return out
	}
	return v
}

func coerceNumber(v any, integer bool, diags *[]string) any {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case json.Number:
		f, _ = t.Float64()
	case bool:
		*diags = append(*diags, "coerce: converted boolean to number")
		if t {
			f = 1
		}
	case string:
		n, ok := extractNumericValue(t)
		if !ok {
			*diags = append(*diags, fmt.Sprintf("coerce: no number in %q, defaulting to 0", t))
			return float64(0)
		}
		*diags = append(*diags, fmt.Sprintf("coerce: parsed number from string %q", t))
		f = n
	default:
		*diags = append(*diags, fmt.Sprintf("coerce: expected number, got %T, defaulting to 0", v))
		return float64(0)
	}
	if integer && f != math.Trunc(f) {
		*diags = append(*diags, fmt.Sprintf("coerce: truncated %v to integer", f))
		f = math.Trunc(f)
	}
	return f
}

func coerceBool(v any, diags *[]string) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true":
			*diags = append(*diags, "coerce: parsed boolean from string")
			return true
		case "false":
			*diags = append(*diags, "coerce: parsed boolean from string")
			return false
		}
	}
	*diags = append(*diags, fmt.Sprintf("coerce: truthiness-converted %T to boolean", v))
	return truthy(v)
}

var numberRE = regexp.MustCompile(`-?\d+(?:\.\d+)?(?:[eE][+-]?\d+)?`)

// extractNumericValue parses a number out of a string, accepting either the
// whole trimmed string or the first embedded numeric token ("$42.50" -> 42.5).
func extractNumericValue(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	if m := numberRE.FindString(s); m != "" {
		if f, err := strconv.ParseFloat(m, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s != "" && s != "false" && s != "0" && s != "null" && s != "no"
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

// soleArrayProperty returns the name of the schema's only array-valued
// property, or "" when there is none or more than one.
func soleArrayProperty(doc map[string]any) string {
	name := ""
	for key, prop := range schemaProps(doc) {
		if schemaType(prop) == "array" {
			if name != "" {
				return ""
			}
			name = key
		}
	}
	return name
}

// integerKeyedArray converts {"0": a, "1": b} into [a, b] when the keys are
// exactly the consecutive integers starting at 0.
func integerKeyedArray(m map[string]any) ([]any, bool) {
	if len(m) == 0 {
		return nil, false
	}
	out := make([]any, len(m))
	for i := range out {
		v, ok := m[strconv.Itoa(i)]
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}
