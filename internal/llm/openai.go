package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/duckmesh/querypilot/internal/agenterr"
	"github.com/duckmesh/querypilot/internal/observability"
)

type OpenAIConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	Referer   string
	Title     string
}

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint such as OpenRouter.
type OpenAIClient struct {
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
	referer   string
	title     string
	client    *http.Client
}

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIClient{
		baseURL:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:    strings.TrimSpace(cfg.APIKey),
		model:     model,
		maxTokens: maxTokens,
		referer:   strings.TrimSpace(cfg.Referer),
		title:     strings.TrimSpace(cfg.Title),
		client:    &http.Client{Timeout: timeout},
	}, nil
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *JSONSchema `json:"json_schema,omitempty"`
}

type chatPayload struct {
	Model             string          `json:"model"`
	Messages          []chatMessage   `json:"messages"`
	Temperature       float64         `json:"temperature"`
	MaxTokens         int             `json:"max_tokens"`
	Stream            bool            `json:"stream"`
	ResponseFormat    *responseFormat `json:"response_format,omitempty"`
	Tools             []chatTool      `json:"tools,omitempty"`
	ParallelToolCalls *bool           `json:"parallel_tool_calls,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *OpenAIClient) Generate(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	content, err := c.generate(ctx, req)
	observability.ObserveLLMRequest(operationName(req.Operation), time.Since(start), err)
	return content, err
}

func (c *OpenAIClient) generate(ctx context.Context, req Request) (string, error) {
	payload := c.basePayload(req.System, req.Messages, req.Temperature)
	if req.Schema != nil {
		payload.ResponseFormat = &responseFormat{Type: "json_schema", JSONSchema: req.Schema}
	}
	parsed, err := c.complete(ctx, payload)
	if err != nil {
		return "", err
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) ChatWithTools(ctx context.Context, req ToolRequest) (ToolResponse, error) {
	start := time.Now()
	response, err := c.chatWithTools(ctx, req)
	observability.ObserveLLMRequest("tool_call", time.Since(start), err)
	return response, err
}

func (c *OpenAIClient) chatWithTools(ctx context.Context, req ToolRequest) (ToolResponse, error) {
	payload := c.basePayload(req.System, req.Messages, req.Temperature)
	for _, tool := range req.Tools {
		payload.Tools = append(payload.Tools, chatTool{
			Type:     "function",
			Function: chatFunction{Name: tool.Name, Description: tool.Description, Parameters: tool.Parameters},
		})
	}
	parallel := false
	payload.ParallelToolCalls = &parallel

	parsed, err := c.complete(ctx, payload)
	if err != nil {
		return ToolResponse{}, err
	}
	message := parsed.Choices[0].Message
	response := ToolResponse{Content: message.Content}
	for _, call := range message.ToolCalls {
		response.ToolCalls = append(response.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return response, nil
}

// Stream requests a server-sent event stream and forwards each content delta to onToken.
func (c *OpenAIClient) Stream(ctx context.Context, req Request, onToken func(string)) (string, error) {
	start := time.Now()
	content, err := c.stream(ctx, req, onToken)
	observability.ObserveLLMRequest(operationName(req.Operation), time.Since(start), err)
	return content, err
}

func (c *OpenAIClient) stream(ctx context.Context, req Request, onToken func(string)) (string, error) {
	payload := c.basePayload(req.System, req.Messages, req.Temperature)
	payload.Stream = true

	resp, err := c.post(ctx, payload)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			full.WriteString(choice.Delta.Content)
			if onToken != nil {
				onToken(choice.Delta.Content)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", agenterr.Wrap(err, agenterr.Service, "read completion stream")
	}
	return full.String(), nil
}

func (c *OpenAIClient) basePayload(system string, messages []Message, temperature float64) chatPayload {
	out := make([]chatMessage, 0, len(messages)+1)
	if strings.TrimSpace(system) != "" {
		out = append(out, chatMessage{Role: RoleSystem, Content: system})
	}
	for _, message := range messages {
		converted := chatMessage{Role: message.Role, Content: message.Content, ToolCallID: message.ToolCallID}
		for _, call := range message.ToolCalls {
			var wire chatToolCall
			wire.ID = call.ID
			wire.Type = "function"
			wire.Function.Name = call.Name
			wire.Function.Arguments = call.Arguments
			converted.ToolCalls = append(converted.ToolCalls, wire)
		}
		out = append(out, converted)
	}
	return chatPayload{
		Model:       c.model,
		Messages:    out,
		Temperature: temperature,
		MaxTokens:   c.maxTokens,
	}
}

func (c *OpenAIClient) complete(ctx context.Context, payload chatPayload) (chatResponse, error) {
	resp, err := c.post(ctx, payload)
	if err != nil {
		return chatResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return chatResponse{}, agenterr.Wrap(err, agenterr.Service, "read chat response body")
	}
	var parsed chatResponse
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return chatResponse{}, agenterr.Wrap(err, agenterr.Service, "decode chat completion response")
	}
	if len(parsed.Choices) == 0 {
		return chatResponse{}, agenterr.New(agenterr.Service, "empty chat completion choices")
	}
	return parsed, nil
}

func (c *OpenAIClient) post(ctx context.Context, payload chatPayload) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		httpReq.Header.Set("X-Title", c.title)
	}
	if payload.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, agenterr.Wrap(err, agenterr.Service, "request chat completion")
	}
	if resp.StatusCode >= 400 {
		rawRespBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, agenterr.Newf(agenterr.Service, "chat completion failed status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(rawRespBody)))
	}
	return resp, nil
}

func operationName(operation string) string {
	if operation == "" {
		return "generate"
	}
	return operation
}
