package llm

import (
	"errors"
	"fmt"
	"io"

	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/fk219/VoxiHub-sub002/pkg/ai"
)

// OpenAIConfig configures the chat client. BaseURL switches the same
// client onto any OpenAI-compatible surface (Groq, proxies); AzureEndpoint
// selects the Azure request shape instead.
type OpenAIConfig struct {
	APIKey        string
	Model         string
	BaseURL       string
	AzureEndpoint string
}

// OpenAIClient implements LLM over the chat completions API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds a chat client from cfg.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: missing LLM API key", ai.ErrConfigurationInvalid)
	}

	var conf openai.ClientConfig
	switch {
	case cfg.AzureEndpoint != "":
		conf = openai.DefaultAzureConfig(cfg.APIKey, cfg.AzureEndpoint)
	case cfg.BaseURL != "":
		conf = openai.DefaultConfig(cfg.APIKey)
		conf.BaseURL = cfg.BaseURL
	default:
		conf = openai.DefaultConfig(cfg.APIKey)
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(conf),
		model:  model,
	}, nil
}

func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(req, false))
	if err != nil {
		return ChatResponse{}, ai.NewUnavailable("openai", "chat", 0, err)
	}
	if len(resp.Choices) == 0 {
		return ChatResponse{}, ai.NewUnavailable("openai", "chat", 0,
			errors.New("no completion choices returned"))
	}

	choice := resp.Choices[0]
	out := ChatResponse{
		Message: Message{
			Role:    Role(choice.Message.Role),
			Content: choice.Message.Content,
		},
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: string(choice.FinishReason),
	}
	if len(choice.Message.ToolCalls) > 0 {
		call := choice.Message.ToolCalls[0]
		out.FunctionCall = &FunctionCall{
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		}
	}
	return out, nil
}

// ChatStream relays completion deltas. Tool call arguments stream in
// fragments, so they are accumulated and attached to the terminal delta.
func (c *OpenAIClient) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, c.buildRequest(req, true))
	if err != nil {
		return nil, ai.NewUnavailable("openai", "chat", 0, err)
	}

	out := make(chan StreamDelta, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		var fnName, fnArgs string
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				terminal := StreamDelta{Done: true}
				if fnName != "" {
					terminal.FunctionCall = &FunctionCall{Name: fnName, Arguments: fnArgs}
				}
				out <- terminal
				return
			}
			if err != nil {
				out <- StreamDelta{Done: true, Err: ai.NewUnavailable("openai", "chat", 0, err)}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}

			delta := resp.Choices[0].Delta
			for _, call := range delta.ToolCalls {
				if call.Function.Name != "" {
					fnName = call.Function.Name
				}
				fnArgs += call.Function.Arguments
			}
			if delta.Content != "" {
				select {
				case out <- StreamDelta{Content: delta.Content}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *OpenAIClient) buildRequest(req ChatRequest, stream bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
			Name:    msg.Name,
		}
	}

	var tools []openai.Tool
	for _, fn := range req.Functions {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        fn.Name,
				Description: fn.Description,
				Parameters:  fn.Parameters,
			},
		})
	}

	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Tools:       tools,
		Stream:      stream,
	}
}
