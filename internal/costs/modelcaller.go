package costs

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ModelCaller is the collaborator the Cost Breaker gates in front of: one
// outbound model call, returning the token counts the Ledger prices. The
// Breaker and Ledger never talk to a model SDK directly — they depend on
// this interface so tests can substitute a fake caller without any network
// access.
type ModelCaller interface {
	Call(ctx context.Context, model, prompt string) (inputTokens, outputTokens int, err error)
}

// AnthropicCaller is the production ModelCaller, backed by the official
// Anthropic Go SDK.
type AnthropicCaller struct {
	client anthropic.Client
}

// NewAnthropicCaller builds a caller authenticated with apiKey.
func NewAnthropicCaller(apiKey string) *AnthropicCaller {
	return &AnthropicCaller{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

// Call sends prompt to model and returns the usage token counts reported
// back by the API, which the Ledger treats as authoritative for pricing.
func (c *AnthropicCaller) Call(ctx context.Context, model, prompt string) (int, int, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return 0, 0, err
	}
	return int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens), nil
}
