package scanning

import (
	"context"
	"errors"
)

// systemInstruction is the shared instruction sent to every provider alongside the receipt image
const systemInstruction = "You are a helpful assistant that extracts structured data from Korean taxi receipts."

var (
	// ErrMissingAPIKey is returned when a hosted provider is built without credentials.
	ErrMissingAPIKey = errors.New("api key is required")

	// ErrNoFunctionCall is returned when the model answered without calling the schema function.
	ErrNoFunctionCall = errors.New("model returned no function call")
)

// Fields holds the values extracted for one schema, keyed by field name.
type Fields map[string]any

// Scanner defines the vision capability used to read one side of a receipt
type Scanner interface {
	// ExtractFields sends one image with the schema as a structured-output
	// constraint and returns one value per schema field.
	ExtractFields(ctx context.Context, imageData []byte, contentType string, schema Schema) (Fields, error)
	// Close closes the scanner and releases resources
	Close() error
}
