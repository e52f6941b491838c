// Package llmtest provides a scripted langchaingo model for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// Fake is an llms.Model whose replies come from a function.
type Fake struct {
	mu      sync.Mutex
	reply   func(system, user string) (string, error)
	prompts []string
}

var _ llms.Model = (*Fake)(nil)

// New returns a fake that answers every call with reply.
func New(reply func(system, user string) (string, error)) *Fake {
	return &Fake{reply: reply}
}

// Constant returns a fake that always answers text.
func Constant(text string) *Fake {
	return New(func(string, string) (string, error) { return text, nil })
}

// Calls returns the user prompts received so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

func (f *Fake) GenerateContent(ctx context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	var system, user string
	for _, m := range messages {
		for _, p := range m.Parts {
			text, ok := p.(llms.TextContent)
			if !ok {
				continue
			}
			switch m.Role {
			case llms.ChatMessageTypeSystem:
				system += text.Text
			case llms.ChatMessageTypeHuman:
				user += text.Text
			}
		}
	}

	f.mu.Lock()
	f.prompts = append(f.prompts, user)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := f.reply(system, user)
	if err != nil {
		return nil, err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:        out,
			GenerationInfo: map[string]any{"PromptTokens": len(user) / 4, "CompletionTokens": len(out) / 4},
		}},
	}, nil
}

func (f *Fake) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}
