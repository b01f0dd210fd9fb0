package schema

// JSONSchemaDraft is the meta schema advertised by config and command schemas.
const JSONSchemaDraft = "http://json-schema.org/draft-07/schema#"

// Property helpers for building schema fragments.

// IntegerProperty describes an integer key with inclusive bounds.
func IntegerProperty(title string, min, max int64) Document {
	return Document{"title": title, "type": "integer", "minimum": min, "maximum": max}
}

// NumberProperty describes a floating point key with inclusive bounds.
func NumberProperty(title string, min, max float64) Document {
	return Document{"title": title, "type": "number", "minimum": min, "maximum": max}
}

// BooleanProperty describes a boolean key.
func BooleanProperty(title string) Document {
	return Document{"title": title, "type": "boolean"}
}

// StringProperty describes a free form string key.
func StringProperty(title string) Document {
	return Document{"title": title, "type": "string"}
}

// EnumProperty describes a string key restricted to values.
func EnumProperty(title string, values ...string) Document {
	enum := make([]any, len(values))
	for i, v := range values {
		enum[i] = v
	}
	return Document{"title": title, "type": "string", "enum": enum}
}

// Envelope wraps properties into a draft-07 object schema.
func Envelope(title string, properties Document) Document {
	return Document{
		"$schema":    JSONSchemaDraft,
		"title":      title,
		"type":       "object",
		"properties": properties,
	}
}
