package scanning

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements the Scanner interface using Google Gemini
type Gemini struct {
	client    *genai.Client
	modelName string
}

// NewGemini creates a new Gemini Scanner instance
func NewGemini(ctx context.Context, apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrMissingAPIKey)
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client:    client,
		modelName: modelName,
	}, nil
}

// ExtractFields forces a call to the schema's function and decodes its arguments
func (g *Gemini) ExtractFields(ctx context.Context, imageData []byte, contentType string, schema Schema) (Fields, error) {
	finalImageData, mimeType, err := prepareImage(imageData, contentType)
	if err != nil {
		return nil, err
	}

	// The model is configured per call because tools differ between schemas
	model := g.client.GenerativeModel(g.modelName)
	model.SetTemperature(0)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemInstruction)},
	}
	model.Tools = []*genai.Tool{{
		FunctionDeclarations: []*genai.FunctionDeclaration{geminiFunction(schema)},
	}}
	model.ToolConfig = &genai.ToolConfig{
		FunctionCallingConfig: &genai.FunctionCallingConfig{
			Mode:                 genai.FunctionCallingAny,
			AllowedFunctionNames: []string{schema.Name},
		},
	}

	// genai.ImageData expects just the format suffix (e.g., "jpeg"), not the full MIME type
	resp, err := model.GenerateContent(ctx, genai.ImageData(strings.TrimPrefix(mimeType, "image/"), finalImageData))
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	return functionCallFields(resp, schema)
}

// functionCallFields decodes the first call to the schema's function in the
// top candidate. Other parts and other functions are skipped.
func functionCallFields(resp *genai.GenerateContentResponse, schema Schema) (Fields, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no response from gemini")
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		call, ok := part.(genai.FunctionCall)
		if !ok || call.Name != schema.Name {
			continue
		}
		fields, err := fieldsFromArgs(call.Args, schema)
		if err != nil {
			return nil, fmt.Errorf("parsing function arguments: %w", err)
		}
		return fields, nil
	}

	return nil, fmt.Errorf("gemini %s: %w", schema.Name, ErrNoFunctionCall)
}

// geminiFunction translates a Schema into a Gemini function declaration
func geminiFunction(schema Schema) *genai.FunctionDeclaration {
	properties := make(map[string]*genai.Schema, len(schema.Fields))
	for _, f := range schema.Fields {
		t := genai.TypeString
		if f.Type == FieldInteger {
			t = genai.TypeInteger
		}
		properties[f.Name] = &genai.Schema{
			Type:        t,
			Description: f.Description,
		}
	}

	return &genai.FunctionDeclaration{
		Name:        schema.Name,
		Description: schema.Description,
		Parameters: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: properties,
			Required:   schema.Required(),
		},
	}
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
