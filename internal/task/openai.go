package task

import (
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// DefaultModel is the OpenAI chat model used by the demo chain.
const DefaultModel = "gpt-4o-mini"

// OpenAIConfig selects the OpenAI model. The API key comes from
// OPENAI_API_KEY unless Token is set.
type OpenAIConfig struct {
	Model   string
	Token   string
	BaseURL string
}

// OpenAIModel returns a factory for an OpenAI chat model. handler may be nil.
func OpenAIModel(cfg OpenAIConfig, handler callbacks.Handler) ModelFactory {
	return func() (llms.Model, error) {
		model := cfg.Model
		if model == "" {
			model = DefaultModel
		}

		opts := []openai.Option{openai.WithModel(model)}
		if cfg.Token != "" {
			opts = append(opts, openai.WithToken(cfg.Token))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if handler != nil {
			opts = append(opts, openai.WithCallback(handler))
		}
		return openai.New(opts...)
	}
}
