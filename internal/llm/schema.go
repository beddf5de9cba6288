package llm

import "google.golang.org/genai"

// Type is a JSON schema type.
type Type string

const (
	TypeObject Type = "object"
	TypeString Type = "string"
	TypeArray  Type = "array"
)

// Schema is the subset of JSON schema used to constrain structured output.
// Every declared property is required.
type Schema struct {
	Type        Type
	Description string
	Enum        []string
	Items       *Schema
	Properties  map[string]*Schema
	// Order lists property names in the order they should be emitted.
	Order []string
}

func (s *Schema) propertyNames() []string {
	if len(s.Order) > 0 {
		return s.Order
	}
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	return names
}

// GenAI converts the schema to the Gemini representation.
func (s *Schema) GenAI() *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Description: s.Description,
		Enum:        s.Enum,
	}
	switch s.Type {
	case TypeObject:
		out.Type = genai.TypeObject
	case TypeArray:
		out.Type = genai.TypeArray
	default:
		out.Type = genai.TypeString
	}
	if s.Items != nil {
		out.Items = s.Items.GenAI()
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, p := range s.Properties {
			out.Properties[name] = p.GenAI()
		}
		out.Required = s.propertyNames()
		out.PropertyOrdering = s.propertyNames()
	}
	return out
}

// JSONSchema converts the schema to a strict JSON schema document.
func (s *Schema) JSONSchema() map[string]any {
	if s == nil {
		return nil
	}
	out := map[string]any{"type": string(s.Type)}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	if s.Items != nil {
		out["items"] = s.Items.JSONSchema()
	}
	if s.Type == TypeObject {
		props := make(map[string]any, len(s.Properties))
		for name, p := range s.Properties {
			props[name] = p.JSONSchema()
		}
		out["properties"] = props
		out["required"] = s.propertyNames()
		out["additionalProperties"] = false
	}
	return out
}

// paramsSchema builds the object schema for a function declaration.
func paramsSchema(params []Param) *Schema {
	s := &Schema{Type: TypeObject, Properties: make(map[string]*Schema, len(params))}
	for _, p := range params {
		s.Properties[p.Name] = &Schema{Type: TypeString, Description: p.Description}
		s.Order = append(s.Order, p.Name)
	}
	return s
}
