package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/zombor/taxi-receipts/internal/scanning"
)

func (c *config) newScanner(ctx context.Context, logger *slog.Logger) (scanning.Scanner, error) {
	switch c.scanner {
	case "openai":
		// Get OpenAI API key from flag or environment
		apiKey := c.openaiKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		logger.Info("Initializing OpenAI scanner...", "model", c.openaiModel)
		scanner, err := scanning.NewOpenAI(apiKey, c.openaiModel)
		if err != nil {
			return nil, fmt.Errorf("initializing OpenAI (set --openai-key or OPENAI_API_KEY): %w", err)
		}
		return scanner, nil
	case "gemini":
		apiKey := c.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		logger.Info("Initializing Gemini scanner...", "model", c.geminiModel)
		scanner, err := scanning.NewGemini(ctx, apiKey, c.geminiModel)
		if err != nil {
			return nil, fmt.Errorf("initializing Gemini (set --gemini-key or GEMINI_API_KEY): %w", err)
		}
		return scanner, nil
	case "ollama":
		logger.Info("Initializing Ollama scanner...", "url", c.ollamaURL, "model", c.ollamaModel)
		scanner, err := scanning.NewOllama(c.ollamaURL, c.ollamaModel)
		if err != nil {
			return nil, fmt.Errorf("initializing Ollama: %w", err)
		}
		return scanner, nil
	default:
		return nil, fmt.Errorf("invalid scanner type %q: want openai, gemini or ollama", c.scanner)
	}
}
