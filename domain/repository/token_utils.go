package repository

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// default token budget for a trace handed to the summarizer
	DefaultMaxTraceTokens = 8000
)

func GetMaxTraceTokens() int {
	if envMaxTokens := os.Getenv("MAX_TRACE_TOKENS"); envMaxTokens != "" {
		if maxTokens, err := strconv.Atoi(envMaxTokens); err == nil && maxTokens > 0 {
			return maxTokens
		}
	}
	return DefaultMaxTraceTokens
}

type TokenCalculator struct {
	encoder *tiktoken.Tiktoken
}

func NewTokenCalculator() (*TokenCalculator, error) {
	encoder, err := tiktoken.EncodingForModel("gpt-4")
	if err != nil {
		return nil, fmt.Errorf("failed to get encoding for GPT-4: %w", err)
	}

	return &TokenCalculator{
		encoder: encoder,
	}, nil
}

func (tc *TokenCalculator) CountTokens(text string) int {
	if tc.encoder == nil {
		// fallback: chars / 4 is a rough estimate
		return len(text) / 4
	}

	tokens := tc.encoder.Encode(text, nil, nil)
	return len(tokens)
}

// TruncateToBudget drops the oldest part of a trace that exceeds the token
// budget. The tail holds the most recent steps, which is what the
// summarizer needs.
func (tc *TokenCalculator) TruncateToBudget(text string, maxTokens int) string {
	if tc.encoder == nil {
		if len(text) <= maxTokens*4 {
			return text
		}
		return text[len(text)-maxTokens*4:]
	}

	tokens := tc.encoder.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return tc.encoder.Decode(tokens[len(tokens)-maxTokens:])
}
