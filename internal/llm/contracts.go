package llm

import "context"

// CompletionRequest is a single-turn chat completion: one user message, one model.
type CompletionRequest struct {
	Model     string
	Prompt    string
	MaxTokens int
}

// Completion is the reply text plus the usage the service reported for the call.
type Completion struct {
	Text        string
	TotalTokens int
	Model       string
}

// Completer is the interface the resolver depends on. Implementations must honour ctx
// cancellation and return an error for transport failures, non-2xx statuses and
// responses that do not carry a reply.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req CompletionRequest) (Completion, error)

func (f CompleterFunc) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	return f(ctx, req)
}
