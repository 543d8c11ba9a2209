package salvage

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"slices"
	"strings"
	"sync"

	genschema "github.com/invopop/jsonschema"
	valschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema pairs a raw JSON Schema document with its compiled validator. The
// document drives coercion and fallback generation; the validator decides
// acceptance.
type Schema struct {
	doc      map[string]any
	compiled *valschema.Schema
}

// NewSchema compiles a raw JSON Schema map. The map is deep-copied, so later
// mutation by the caller does not affect the schema.
func NewSchema(doc map[string]any) (*Schema, error) {
	if doc == nil {
		return nil, errNilSchema
	}
	copied, err := deepCopyMap(doc)
	if err != nil {
		return nil, err
	}
	stripSchemaIDs(copied)
	compiled, err := compileRawSchema(copied)
	if err != nil {
		return nil, err
	}
	return &Schema{doc: copied, compiled: compiled}, nil
}

// MustSchema is NewSchema that panics on error, for package-level schema vars.
func MustSchema(doc map[string]any) *Schema {
	s, err := NewSchema(doc)
	if err != nil {
		panic("salvage: " + err.Error())
	}
	return s
}

// Map returns the underlying schema document (e.g. for a ToolSpec or an LLM
// response_format). Callers must not mutate it.
func (s *Schema) Map() map[string]any { return s.doc }

// Validate checks an already-parsed value against the schema. Failures come
// back as a ClientError wrapping ErrValidation so the message can be shown to
// the model for self-correction.
func (s *Schema) Validate(v any) error {
	if err := s.compiled.Validate(v); err != nil {
		return &ClientError{Reason: err.Error(), Err: ErrValidation}
	}
	return nil
}

type typeMapping struct {
	jsonType string
	format   string
}

var (
	customTypesMu sync.RWMutex
	customTypes   = make(map[reflect.Type]typeMapping)
)

// RegisterType registers a custom Go type to be mapped to a JSON Schema type/format in generated schemas.
// emptyInstance is a value of the type to register (e.g. uuid.UUID{}, or MyMoney{}); it must not be nil.
// jsonType is the JSON Schema type (e.g. "string", "number"); it must not be empty.
// format is optional (e.g. "uuid", "decimal"). Registration is by reflect.TypeOf(emptyInstance).
// Pointer fields (*T) use the same mapping as T; call RegisterType once for the value type.
// Call RegisterType at application startup before the first SchemaFor, NewTool or NewExtractor.
func RegisterType(emptyInstance any, jsonType, format string) {
	if emptyInstance == nil {
		panic("salvage: RegisterType emptyInstance must not be nil")
	}
	if jsonType == "" {
		panic("salvage: RegisterType jsonType must not be empty")
	}
	customTypesMu.Lock()
	defer customTypesMu.Unlock()
	customTypes[reflect.TypeOf(emptyInstance)] = typeMapping{jsonType: jsonType, format: format}
}

func lookupTypeMapping(t reflect.Type) (typeMapping, bool) {
	customTypesMu.RLock()
	defer customTypesMu.RUnlock()
	m, ok := customTypes[t]
	return m, ok
}

// SchemaFor reflects a JSON Schema for type T. Struct tags `description` and
// `enum` on root-level fields are folded into the generated properties.
func SchemaFor[T any]() (*Schema, error) {
	return generateSchema[T](false)
}

// generateSchema produces the schema document and validator for type T.
// It is called once when building a Tool or Extractor. strict sets
// additionalProperties: false for all objects (OpenAI Structured Outputs).
func generateSchema[T any](strict bool) (*Schema, error) {
	reflector := &genschema.Reflector{
		DoNotReference: true,
		Mapper: func(t reflect.Type) *genschema.Schema {
			if m, ok := lookupTypeMapping(t); ok {
				return &genschema.Schema{Type: m.jsonType, Format: m.format}
			}
			return nil
		},
	}
	reflected := reflector.Reflect(new(T))
	if reflected == nil {
		return nil, errNilSchema
	}
	data, err := json.Marshal(reflected)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	enrichSchemaFromStructTags(doc, reflect.TypeOf(*new(T)))
	if strict {
		applyStrictMode(doc)
	}
	stripSchemaIDs(doc)
	delete(doc, "$schema")
	compiled, err := compileRawSchema(doc)
	if err != nil {
		return nil, err
	}
	return &Schema{doc: doc, compiled: compiled}, nil
}

// enrichSchemaFromStructTags adds description and enum from struct tags to root-level properties.
// typ may be a pointer; json tag (first part before comma) is used to match property keys.
func enrichSchemaFromStructTags(doc map[string]any, typ reflect.Type) {
	if doc == nil || typ == nil {
		return
	}
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return
	}
	props, ok := doc["properties"].(map[string]any)
	if !ok || len(props) == 0 {
		return
	}
	jsonToField := make(map[string]reflect.StructField)
	for fi := 0; fi < typ.NumField(); fi++ {
		field := typ.Field(fi)
		jsonTag := strings.Split(field.Tag.Get("json"), ",")[0]
		if jsonTag == "" || jsonTag == "-" {
			continue
		}
		jsonToField[jsonTag] = field
	}
	for key, val := range props {
		prop, ok := val.(map[string]any)
		if !ok {
			continue
		}
		field, ok := jsonToField[key]
		if !ok {
			continue
		}
		if desc := field.Tag.Get("description"); desc != "" {
			prop["description"] = desc
		}
		if enumStr := field.Tag.Get("enum"); enumStr != "" {
			parts := strings.Split(enumStr, ",")
			enum := make([]any, len(parts))
			for i, p := range parts {
				enum[i] = strings.TrimSpace(p)
			}
			prop["enum"] = enum
		}
	}
}

// walkSchema recursively visits every schema node in the tree (including
// $defs and definitions). The maps under "properties", "$defs" and
// "definitions" are name→schema containers, not schema nodes themselves:
// only their values are visited, so a property named like a schema keyword
// (e.g. "id") is never mistaken for one.
func walkSchema(doc map[string]any, visit func(map[string]any)) {
	if doc == nil {
		return
	}
	visit(doc)
	for key, val := range doc {
		if key == "properties" || key == "$defs" || key == "definitions" {
			if container, ok := val.(map[string]any); ok {
				for _, sub := range container {
					if m, ok := sub.(map[string]any); ok {
						walkSchema(m, visit)
					}
				}
			}
			continue
		}
		switch v := val.(type) {
		case map[string]any:
			walkSchema(v, visit)
		case []any:
			for _, item := range v {
				if m, ok := item.(map[string]any); ok {
					walkSchema(m, visit)
				}
			}
		}
	}
}

// applyStrictMode sets additionalProperties: false and full required lists for
// every object in the schema.
func applyStrictMode(doc map[string]any) {
	walkSchema(doc, func(n map[string]any) {
		if _, isObj := n["properties"]; !isObj {
			return
		}
		n["additionalProperties"] = false
		if props, ok := n["properties"].(map[string]any); ok {
			keys := make([]string, 0, len(props))
			for k := range props {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			required := make([]any, len(keys))
			for i, k := range keys {
				required[i] = k
			}
			if len(required) > 0 {
				n["required"] = required
			}
		}
	})
}

// stripSchemaIDs removes id and $id from schema nodes so resolution does not
// depend on them. A property named "id" is untouched (see walkSchema).
func stripSchemaIDs(doc map[string]any) {
	walkSchema(doc, func(n map[string]any) {
		delete(n, "id")
		delete(n, "$id")
	})
}

var errNilSchema = errors.New("schema must not be nil")

// compileRawSchema compiles a raw JSON Schema map into a validator. The map is not mutated.
func compileRawSchema(doc map[string]any) (*valschema.Schema, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	resource, err := valschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	compiler := valschema.NewCompiler()
	if err := compiler.AddResource("schema.json", resource); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

func deepCopyMap(doc map[string]any) (map[string]any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// The helpers below read structural facts out of a schema document for the
// coercion and fallback layers. They infer "object"/"array" from properties or
// items when an explicit "type" is missing.

func schemaType(doc map[string]any) string {
	switch t := doc["type"].(type) {
	case string:
		return t
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && s != "null" {
				return s
			}
		}
	}
	if _, ok := doc["properties"]; ok {
		return "object"
	}
	if _, ok := doc["items"]; ok {
		return "array"
	}
	return ""
}

func schemaProps(doc map[string]any) map[string]map[string]any {
	raw, ok := doc["properties"].(map[string]any)
	if !ok {
		return nil
	}
	props := make(map[string]map[string]any, len(raw))
	for k, v := range raw {
		if m, ok := v.(map[string]any); ok {
			props[k] = m
		}
	}
	return props
}

func schemaItems(doc map[string]any) map[string]any {
	items, _ := doc["items"].(map[string]any)
	return items
}

func schemaEnum(doc map[string]any) []any {
	enum, _ := doc["enum"].([]any)
	return enum
}

func schemaRequired(doc map[string]any) []string {
	raw, _ := doc["required"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
