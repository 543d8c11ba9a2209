package salvage

// GenerateFallback derives a placeholder value conforming to the schema.
// Declared defaults win, then the first enum option; otherwise objects
// populate every declared property and scalars take their zero value, with
// numeric and array floors (minimum, minItems) honored so the result
// validates.
func GenerateFallback(schema *Schema) any {
	return fallbackForDoc(schema.doc)
}

func fallbackForDoc(doc map[string]any) any {
	if d, ok := doc["default"]; ok {
		return d
	}
	if enum := schemaEnum(doc); len(enum) > 0 {
		return enum[0]
	}
	switch schemaType(doc) {
	case "object":
		obj := make(map[string]any)
		for key, prop := range schemaProps(doc) {
			obj[key] = fallbackForDoc(prop)
		}
		for _, name := range schemaRequired(doc) {
			if _, ok := obj[name]; !ok {
				obj[name] = nil
			}
		}
		return obj
	case "array":
		n := 0
		if m, ok := doc["minItems"].(float64); ok {
			n = int(m)
		}
		items := schemaItems(doc)
		out := make([]any, n)
		for i := range out {
			if items != nil {
				out[i] = fallbackForDoc(items)
			}
		}
		return out
	case "string":
		return ""
	case "number", "integer":
		if m, ok := doc["minimum"].(float64); ok {
			return m
		}
		return float64(0)
	case "boolean":
		return false
	}
	return nil
}

// mergeFallback lays parsed partial values over the generated fallback:
// the partial wins per key, recursing into nested objects so a half-filled
// branch keeps its filled leaves.
func mergeFallback(partial, fallback any) any {
	po, pok := partial.(map[string]any)
	fo, fok := fallback.(map[string]any)
	if !pok || !fok {
		if partial == nil {
			return fallback
		}
		return partial
	}
	out := make(map[string]any, len(fo)+len(po))
	for k, v := range fo {
		out[k] = v
	}
	for k, v := range po {
		if fv, ok := fo[k]; ok {
			out[k] = mergeFallback(v, fv)
		} else {
			out[k] = v
		}
	}
	return out
}
