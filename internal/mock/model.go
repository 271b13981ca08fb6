package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// Model is a scripted llms.Model. Respond, when set, computes the reply from
// the flattened prompt; otherwise Responses are returned in turn and the last
// one repeats.
type Model struct {
	Responses []string
	Respond   func(prompt string) (string, error)
	Err       error

	mu       sync.Mutex
	next     int
	requests [][]llms.MessageContent
}

var _ llms.Model = (*Model)(nil)

func NewModel(responses ...string) *Model {
	return &Model{Responses: responses}
}

func (m *Model) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}

	m.mu.Lock()
	m.requests = append(m.requests, messages)
	reply, err := m.reply(Flatten(messages))
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if opts.StreamingFunc != nil {
		for _, word := range strings.SplitAfter(reply, " ") {
			if word == "" {
				continue
			}
			if err := opts.StreamingFunc(ctx, []byte(word)); err != nil {
				return nil, err
			}
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: reply}},
	}, nil
}

func (m *Model) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// Requests returns a copy of every message list the model received.
func (m *Model) Requests() [][]llms.MessageContent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]llms.MessageContent, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *Model) reply(prompt string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	if m.Respond != nil {
		return m.Respond(prompt)
	}
	if len(m.Responses) == 0 {
		return "", nil
	}
	r := m.Responses[m.next]
	if m.next < len(m.Responses)-1 {
		m.next++
	}
	return r, nil
}

// Flatten joins the text parts of messages as "role: text" lines.
func Flatten(messages []llms.MessageContent) string {
	var b strings.Builder
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if tc, ok := part.(llms.TextContent); ok {
				b.WriteString(string(msg.Role))
				b.WriteString(": ")
				b.WriteString(tc.Text)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}
