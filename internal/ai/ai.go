// Package ai wraps the text and document inference backends used as the
// last extraction strategy.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/masahif/oppcrawl/internal/config"
)

// Document is a binary document sent alongside the prompt
type Document struct {
	MediaType string
	Data      []byte
}

// PDF wraps raw PDF bytes
func PDF(data []byte) *Document {
	return &Document{MediaType: "application/pdf", Data: data}
}

// Inferrer answers a prompt, optionally about a document, with free-form text
type Inferrer interface {
	Infer(ctx context.Context, prompt string, doc *Document) (string, error)
}

var (
	// ErrDocumentUnsupported means the backend cannot read the document type
	ErrDocumentUnsupported = errors.New("document type not supported by backend")
	// ErrEmptyResponse means the backend answered without any text
	ErrEmptyResponse = errors.New("empty inference response")
	// ErrNoAPIKey means a backend was selected without credentials
	ErrNoAPIKey = errors.New("missing AI API key")
	// ErrUnknownProvider means the configured provider has no implementation
	ErrUnknownProvider = errors.New("unknown AI provider")
)

// StatusError is an HTTP-level failure reported by a backend
type StatusError struct {
	Provider string
	Status   int
	Message  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s upstream %d: %s", e.Provider, e.Status, e.Message)
}

// Retryable reports whether another attempt may succeed
func (e *StatusError) Retryable() bool {
	return e.Status == http.StatusRequestTimeout || e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// New builds the configured backend wrapped with retry and rate limiting.
// Provider "none" (or an empty provider) returns a nil Inferrer.
func New(cfg config.AIConfig, apiKey string, observe func(error)) (Inferrer, error) {
	var backend Inferrer
	switch strings.ToLower(cfg.Provider) {
	case "", "none":
		return nil, nil
	case "anthropic":
		if apiKey == "" {
			return nil, fmt.Errorf("anthropic: %w", ErrNoAPIKey)
		}
		backend = NewAnthropic(apiKey, cfg.BaseURL, cfg.Model, cfg.MaxTokens)
	case "openai":
		if apiKey == "" {
			return nil, fmt.Errorf("openai: %w", ErrNoAPIKey)
		}
		backend = NewOpenAI(apiKey, cfg.BaseURL, cfg.Model, cfg.MaxTokens, cfg.Timeout+5*time.Second)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}

	return NewRetrying(backend, RetryOptions{
		Attempts:       cfg.Attempts,
		Backoff:        cfg.Backoff,
		Timeout:        cfg.Timeout,
		RequestsPerMin: cfg.RequestsPerMin,
		Observe:        observe,
	}), nil
}
