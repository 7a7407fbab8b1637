// Package llm defines the chat model abstraction used by the decision client.
package llm

import (
	"context"

	"github.com/entrhq/testpilot/pkg/types"
)

// Provider sends a conversation to a chat model.
//
// Providers only handle API communication. Prompt construction and reply
// validation belong to the decision client, so tests can script a Provider
// without a server.
type Provider interface {
	// Complete returns the model's reply to messages. It must return as
	// soon as ctx is done.
	Complete(ctx context.Context, messages []*types.Message) (*types.Message, error)

	// Model returns the model name.
	Model() string
}
