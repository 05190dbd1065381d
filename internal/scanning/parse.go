package scanning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// decodeFields parses a JSON object returned by a model and checks it against the schema
func decodeFields(text string, schema Schema) (Fields, error) {
	text = strings.TrimSpace(text)

	// Remove markdown code blocks if present
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	text = text[startIdx : endIdx+1]

	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()

	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	return fieldsFromArgs(args, schema)
}

// fieldsFromArgs keeps exactly the schema's keys and coerces each value to its declared type.
// Integer fields also accept numeric-looking strings such as "15,300원"; those
// are kept verbatim so the fare rule can judge them.
func fieldsFromArgs(args map[string]any, schema Schema) (Fields, error) {
	if args == nil {
		return nil, fmt.Errorf("%s: empty arguments", schema.Name)
	}

	fields := make(Fields, len(schema.Fields))
	for _, f := range schema.Fields {
		raw, ok := args[f.Name]
		if !ok {
			return nil, fmt.Errorf("%s: missing required field %q", schema.Name, f.Name)
		}

		value, err := coerce(raw, f.Type)
		if err != nil {
			return nil, fmt.Errorf("%s: field %q: %w", schema.Name, f.Name, err)
		}
		fields[f.Name] = value
	}

	return fields, nil
}

func coerce(raw any, t FieldType) (any, error) {
	switch t {
	case FieldString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", raw)
		}
		return s, nil

	case FieldInteger:
		switch v := raw.(type) {
		case json.Number:
			if i, err := v.Int64(); err == nil {
				return i, nil
			}
			f, err := v.Float64()
			if err != nil {
				return nil, fmt.Errorf("invalid number %q: %w", v, err)
			}
			return integral(f), nil
		case float64:
			return integral(v), nil
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case string:
			return v, nil
		default:
			return nil, fmt.Errorf("expected integer, got %T", raw)
		}
	}

	return nil, fmt.Errorf("unsupported field type %q", t)
}

// integral narrows whole floats (Gemini returns every number as float64) to int64
func integral(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}
