package scanning

import "strings"

// FieldType is the JSON type a schema field must decode to.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldInteger FieldType = "integer"
)

// Field describes one value the model must return.
type Field struct {
	Name        string
	Type        FieldType
	Description string
}

// Schema is a function-calling contract: a named function whose parameters
// are the fields to extract. Every field is required.
type Schema struct {
	Name        string
	Description string
	Fields      []Field
}

// FrontSchema reads the payment side of a taxi receipt.
var FrontSchema = Schema{
	Name:        "parse_front_taxi_receipt",
	Description: "Extract key fields from Korean taxi receipts",
	Fields: []Field{
		{
			Name:        "paid_at",
			Type:        FieldString,
			Description: "거래 일시로 적혀있음. 결과는 2025년 이후임. 출력예시: 2025-07-07 23:43",
		},
		{
			Name:        "fare",
			Type:        FieldInteger,
			Description: "총 결제 금액 (원)",
		},
	},
}

// NewBackSchema builds the schema for the handwritten side of a receipt. The
// name description lists the roster so the model picks one of its members.
func NewBackSchema(members []string) Schema {
	return Schema{
		Name:        "parse_back_taxi_receipt",
		Description: "Extract key fields from Korean taxi receipts",
		Fields: []Field{
			{
				Name: "name",
				Type: FieldString,
				Description: "팀원 이름을 확인해서 이 중에 1명이름을 가져오도록 함. 유사한 이름이 있으면 팀원 이름으로 대체해. " +
					strings.Join(members, ", ") + " 중 1명임",
			},
			{
				Name:        "route",
				Type:        FieldString,
				Description: "출발지 - 도착지. example: 회사 - 집 / 집 - 회사 / 야근택시비 / 야근 / 회식 - 집 등등",
			},
		},
	}
}

// Required returns the field names in declaration order
func (s Schema) Required() []string {
	names := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		names = append(names, f.Name)
	}
	return names
}

// Field looks up a field by name
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// JSONSchema renders the parameters as a strict JSON Schema object, the shape
// both OpenAI function tools and Ollama's format option accept.
func (s Schema) JSONSchema() map[string]any {
	properties := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		properties[f.Name] = map[string]any{
			"type":        string(f.Type),
			"description": f.Description,
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             s.Required(),
		"additionalProperties": false,
	}
}
