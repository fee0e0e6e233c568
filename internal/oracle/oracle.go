// Package oracle is the decision-model collaborator consulted by every worker
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrRateLimited  = errors.New("oracle: rate limited")
	ErrUnauthorized = errors.New("oracle: unauthorized")
	ErrTimeout      = errors.New("oracle: timeout")
)

// Message is one prior exchange passed as context
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single generation call
type Request struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Context      []Message
}

// EstimatedTokens is a rough size of the request, four characters per token
func (r Request) EstimatedTokens() int {
	n := len(r.SystemPrompt) + len(r.UserPrompt)
	for _, m := range r.Context {
		n += len(m.Content)
	}
	return n/4 + 1
}

// Oracle turns prompts into free-form text
type Oracle interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to Oracle
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// ProviderError is a non-classified failure reported by the provider
type ProviderError struct {
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	if e.Status == 0 {
		return "oracle: " + e.Message
	}
	return fmt.Sprintf("oracle: provider %d: %s", e.Status, e.Message)
}

// Kind is how a worker should react to an oracle error
type Kind int

const (
	KindTransient Kind = iota
	KindRateLimit
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindAuth:
		return "auth"
	default:
		return "transient"
	}
}

// Classify maps an error to its Kind. Typed sentinels win; otherwise the
// message text is inspected so errors from foreign clients still classify.
func Classify(err error) Kind {
	if err == nil {
		return KindTransient
	}
	switch {
	case errors.Is(err, ErrRateLimited):
		return KindRateLimit
	case errors.Is(err, ErrUnauthorized):
		return KindAuth
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	if strings.Contains(msg, "401") && strings.Contains(lower, "unauthorized") {
		return KindAuth
	}
	if strings.Contains(msg, "429") || strings.Contains(lower, "rate") {
		return KindRateLimit
	}
	return KindTransient
}
