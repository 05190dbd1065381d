package scanning

import (
	"context"
	"fmt"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAI implements the Scanner interface using the OpenAI Responses API
type OpenAI struct {
	client *openai.Client
	model  shared.ResponsesModel
}

// NewOpenAI creates a new OpenAI Scanner instance. Extra request options
// (base URL, HTTP client) are appended after the API key.
func NewOpenAI(apiKey string, modelName string, opts ...option.RequestOption) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}
	if modelName == "" {
		modelName = defaultOpenAIModel
	}

	// A failed call fails the pair; retrying is up to whoever drives the batch
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	client := openai.NewClient(opts...)

	return &OpenAI{
		client: &client,
		model:  shared.ResponsesModel(modelName),
	}, nil
}

// ExtractFields sends the image with the schema as a strict function tool
func (o *OpenAI) ExtractFields(ctx context.Context, imageData []byte, contentType string, schema Schema) (Fields, error) {
	finalImageData, mimeType, err := prepareImage(imageData, contentType)
	if err != nil {
		return nil, err
	}

	resp, err := o.client.Responses.New(ctx, responses.ResponseNewParams{
		Model: o.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: responses.ResponseInputParam{
				responses.ResponseInputItemParamOfMessage(systemInstruction, responses.EasyInputMessageRoleSystem),
				responses.ResponseInputItemParamOfMessage(responses.ResponseInputMessageContentListParam{
					{
						OfInputImage: &responses.ResponseInputImageParam{
							ImageURL: openai.String(dataURL(finalImageData, mimeType)),
							Detail:   responses.ResponseInputImageDetailAuto,
						},
					},
				}, responses.EasyInputMessageRoleUser),
			},
		},
		Tools: []responses.ToolUnionParam{{
			OfFunction: &responses.FunctionToolParam{
				Name:        schema.Name,
				Description: openai.String(schema.Description),
				Parameters:  schema.JSONSchema(),
				Strict:      openai.Bool(true),
			},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("call OpenAI: %w", err)
	}

	for _, item := range resp.Output {
		if item.Type != "function_call" {
			continue
		}
		call := item.AsFunctionCall()
		if call.Name != schema.Name {
			continue
		}
		fields, err := decodeFields(call.Arguments, schema)
		if err != nil {
			return nil, fmt.Errorf("parsing function arguments: %w", err)
		}
		return fields, nil
	}

	return nil, fmt.Errorf("openai %s: %w", schema.Name, ErrNoFunctionCall)
}

// Close is a no-op; the SDK client holds no resources that need releasing
func (o *OpenAI) Close() error {
	return nil
}
