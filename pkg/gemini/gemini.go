// Package gemini adapts the Google GenAI SDK to the eino chat model interface.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/getkin/kin-openapi/openapi3"
	"google.golang.org/genai"
)

type Config struct {
	APIKey          string  `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model           string  `envconfig:"MODEL" split_words:"true" default:"gemini-2.0-flash"`
	Temperature     float32 `envconfig:"TEMPERATURE" split_words:"true" default:"0.4"`
	MaxOutputTokens int32   `envconfig:"MAX_OUTPUT_TOKENS" split_words:"true" default:"1024"`
}

// contentGenerator is the slice of *genai.Models the adapter uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

var _ model.ToolCallingChatModel = (*ChatModel)(nil)

type ChatModel struct {
	gen         contentGenerator
	model       string
	temperature float32
	maxTokens   int32
	tools       []*genai.FunctionDeclaration
}

func (c Config) New(ctx context.Context) (model.ToolCallingChatModel, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  strings.TrimSpace(c.APIKey),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return newChatModel(client.Models, c), nil
}

func newChatModel(gen contentGenerator, c Config) *ChatModel {
	name := strings.TrimSpace(c.Model)
	if name == "" {
		name = "gemini-2.0-flash"
	}
	return &ChatModel{
		gen:         gen,
		model:       name,
		temperature: c.Temperature,
		maxTokens:   c.MaxOutputTokens,
	}
}

func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	temperature := m.temperature
	modelName := m.model
	options := model.GetCommonOptions(&model.Options{
		Temperature: &temperature,
		Model:       &modelName,
	}, opts...)

	contents, system, err := toContents(input)
	if err != nil {
		return nil, err
	}

	conf := &genai.GenerateContentConfig{
		Temperature:     options.Temperature,
		MaxOutputTokens: m.maxTokens,
	}
	if options.MaxTokens != nil {
		conf.MaxOutputTokens = int32(*options.MaxTokens)
	}
	if system != "" {
		conf.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if len(m.tools) > 0 {
		conf.Tools = []*genai.Tool{{FunctionDeclarations: m.tools}}
	}

	name := m.model
	if options.Model != nil && strings.TrimSpace(*options.Model) != "" {
		name = *options.Model
	}

	resp, err := m.gen.GenerateContent(ctx, name, contents, conf)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, errors.New("gemini: empty response")
	}
	return fromResponse(resp)
}

func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *ChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		if t == nil || strings.TrimSpace(t.Name) == "" {
			continue
		}
		decl := &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Desc,
		}
		if t.ParamsOneOf != nil {
			params, err := t.ParamsOneOf.ToOpenAPIV3()
			if err != nil {
				return nil, fmt.Errorf("gemini: tool %s params: %w", t.Name, err)
			}
			// Gemini rejects OBJECT schemas without properties.
			if params != nil && len(params.Properties) > 0 {
				decl.Parameters = toSchema(params)
			}
		}
		decls = append(decls, decl)
	}

	out := *m
	out.tools = decls
	return &out, nil
}

func toContents(input []*schema.Message) ([]*genai.Content, string, error) {
	var (
		system    []string
		contents  []*genai.Content
		toolNames = map[string]string{}
	)

	for _, msg := range input {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			if s := strings.TrimSpace(msg.Content); s != "" {
				system = append(system, s)
			}
		case schema.User:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case schema.Assistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				args := map[string]any{}
				if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
					if err := json.Unmarshal([]byte(raw), &args); err != nil {
						return nil, "", fmt.Errorf("gemini: tool call %s args: %w", call.Function.Name, err)
					}
				}
				toolNames[call.ID] = call.Function.Name
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   call.ID,
					Name: call.Function.Name,
					Args: args,
				}})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: string(genai.RoleModel), Parts: parts})
			}
		case schema.Tool:
			name := toolNames[msg.ToolCallID]
			if name == "" {
				name = msg.ToolCallID
			}
			contents = append(contents, &genai.Content{
				Role: string(genai.RoleUser),
				Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
					ID:       msg.ToolCallID,
					Name:     name,
					Response: map[string]any{"result": decodeToolOutput(msg.Content)},
				}}},
			})
		default:
			return nil, "", fmt.Errorf("gemini: unsupported message role %q", msg.Role)
		}
	}

	if len(contents) == 0 {
		return nil, "", errors.New("gemini: no conversational messages")
	}
	return contents, strings.Join(system, "\n\n"), nil
}

func decodeToolOutput(content string) any {
	var v any
	if err := json.Unmarshal([]byte(content), &v); err == nil {
		return v
	}
	return content
}

func fromResponse(resp *genai.GenerateContentResponse) (*schema.Message, error) {
	out := &schema.Message{
		Role:    schema.Assistant,
		Content: resp.Text(),
	}

	for i, call := range resp.FunctionCalls() {
		if call == nil {
			continue
		}
		args, err := json.Marshal(call.Args)
		if err != nil {
			return nil, fmt.Errorf("gemini: marshal function call args: %w", err)
		}
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("%s_%d", call.Name, i)
		}
		out.ToolCalls = append(out.ToolCalls, schema.ToolCall{
			ID:   id,
			Type: "function",
			Function: schema.FunctionCall{
				Name:      call.Name,
				Arguments: string(args),
			},
		})
	}

	meta := &schema.ResponseMeta{FinishReason: string(resp.Candidates[0].FinishReason)}
	if u := resp.UsageMetadata; u != nil {
		meta.Usage = &schema.TokenUsage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	out.ResponseMeta = meta
	return out, nil
}

func toSchema(s *openapi3.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
	}
	switch s.Type {
	case openapi3.TypeString:
		out.Type = genai.TypeString
	case openapi3.TypeNumber:
		out.Type = genai.TypeNumber
	case openapi3.TypeInteger:
		out.Type = genai.TypeInteger
	case openapi3.TypeBoolean:
		out.Type = genai.TypeBoolean
	case openapi3.TypeArray:
		out.Type = genai.TypeArray
		if s.Items != nil {
			out.Items = toSchema(s.Items.Value)
		}
	default:
		out.Type = genai.TypeObject
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, ref := range s.Properties {
			if ref != nil {
				out.Properties[name] = toSchema(ref.Value)
			}
		}
	}
	for _, e := range s.Enum {
		out.Enum = append(out.Enum, fmt.Sprint(e))
	}
	return out
}

// IsTransient reports Gemini quota and overload errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return transientAPIError(apiErr)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return transientAPIError(*apiErrPtr)
	}
	return false
}

func transientAPIError(e genai.APIError) bool {
	switch e.Code {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	}
	return strings.EqualFold(e.Status, "RESOURCE_EXHAUSTED") || strings.EqualFold(e.Status, "UNAVAILABLE")
}
