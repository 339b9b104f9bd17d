// Package fake provides a scripted LLM for tests.
package fake

import (
	"context"
	"errors"
	"sync"

	"github.com/fk219/VoxiHub-sub002/pkg/ai"
	"github.com/fk219/VoxiHub-sub002/pkg/llm"
)

// LLM replays scripted responses in order, repeating the last one when
// the script runs out. Calls counts upstream invocations so cache tests
// can assert exactly-once behavior.
type LLM struct {
	mu        sync.Mutex
	responses []llm.ChatResponse
	calls     int

	// Fail makes every call return ErrProviderUnavailable.
	Fail bool

	// Requests records every request seen, for assertions on history
	// trimming and function result feedback.
	Requests []llm.ChatRequest
}

// New builds a fake that answers with the given texts in order.
func New(texts ...string) *LLM {
	responses := make([]llm.ChatResponse, len(texts))
	for i, text := range texts {
		responses[i] = llm.ChatResponse{
			Message:      llm.Message{Role: llm.RoleAssistant, Content: text},
			FinishReason: "stop",
		}
	}
	return &LLM{responses: responses}
}

// Script appends a full response, e.g. one carrying a function call.
func (f *LLM) Script(resp llm.ChatResponse) *LLM {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return f
}

func (f *LLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Fail {
		return llm.ChatResponse{}, ai.NewUnavailable("fake", "chat", 503, errors.New("simulated outage"))
	}

	f.Requests = append(f.Requests, req)
	if len(f.responses) == 0 {
		return llm.ChatResponse{}, errors.New("fake llm: no scripted responses")
	}

	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return f.responses[idx], nil
}

// ChatStream splits the scripted response into word-sized deltas.
func (f *LLM) ChatStream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamDelta, error) {
	resp, err := f.Chat(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan llm.StreamDelta, 16)
	go func() {
		defer close(out)
		content := resp.Message.Content
		for i := 0; i < len(content); i += 8 {
			end := i + 8
			if end > len(content) {
				end = len(content)
			}
			select {
			case out <- llm.StreamDelta{Content: content[i:end]}:
			case <-ctx.Done():
				return
			}
		}
		out <- llm.StreamDelta{Done: true, FunctionCall: resp.FunctionCall}
	}()
	return out, nil
}

// Calls reports how many upstream invocations occurred.
func (f *LLM) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
