package backends

import (
	"context"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog/log"

	"github.com/nuri428/ontology-chat/internal/config"
	"github.com/nuri428/ontology-chat/internal/errkind"
)

// OpenAILM adapts an OpenAI-compatible runtime (local model servers included)
// to the LM interface via a base URL override.
type OpenAILM struct {
	client      *openai.Client
	chatModel   string
	reportModel string
}

// NewOpenAILM builds the client from LM config.
func NewOpenAILM(cfg config.LMConfig) *OpenAILM {
	opts := []option.RequestOption{}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	} else {
		// local runtimes ignore the key but the SDK requires one
		opts = append(opts, option.WithAPIKey("local"))
	}
	client := openai.NewClient(opts...)
	return &OpenAILM{
		client:      &client,
		chatModel:   cfg.ChatModel,
		reportModel: cfg.ReportModel,
	}
}

// ChatModel returns the fast-path model name.
func (m *OpenAILM) ChatModel() string { return m.chatModel }

// ReportModel returns the deep-analysis model name.
func (m *OpenAILM) ReportModel() string { return m.reportModel }

// Generate runs one completion. An empty opts.Model selects the chat model.
func (m *OpenAILM) Generate(ctx context.Context, system, prompt string, opts GenOptions) (string, error) {
	model := opts.Model
	if model == "" {
		model = m.chatModel
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessageParamUnion{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: openai.String(system),
				},
			},
		})
	}
	messages = append(messages, openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfString: openai.String(prompt),
			},
		},
	})

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: openai.Ptr(shared.NewResponseFormatJSONObjectParam()),
		}
	}

	completion, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classifyLMErr(err)
	}
	if len(completion.Choices) == 0 {
		return "", errkind.Wrap(errkind.ErrUpstream, "lm: empty response")
	}
	text := completion.Choices[0].Message.Content
	log.Debug().
		Str("model", model).
		Int("chars", len(text)).
		Int64("tokens", completion.Usage.TotalTokens).
		Msg("lm generation completed")
	return text, nil
}

func classifyLMErr(err error) error {
	if kerr := errkind.FromContext(err); kerr != err {
		return errkind.Wrap(kerr, "lm: %v", err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") ||
		strings.Contains(msg, "overloaded"):
		return errkind.Wrap(errkind.ErrOverload, "lm: %v", err)
	case strings.Contains(msg, "connection") || strings.Contains(msg, "refused") ||
		strings.Contains(msg, "no such host"):
		return errkind.Wrap(errkind.ErrBackendUnavailable, "lm: %v", err)
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "api key"):
		return errkind.Wrap(errkind.ErrValidation, "lm auth: %v", err)
	default:
		return errkind.Wrap(errkind.ErrUpstream, "lm: %v", err)
	}
}
