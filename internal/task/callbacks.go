package task

import (
	"context"
	"log/slog"

	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
)

// LogHandler logs model calls through slog. Events it does not override are
// ignored via the embedded SimpleHandler.
type LogHandler struct {
	callbacks.SimpleHandler
	logger *slog.Logger
}

var _ callbacks.Handler = (*LogHandler)(nil)

// NewLogHandler creates a LogHandler. A nil logger means slog.Default().
func NewLogHandler(logger *slog.Logger) *LogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogHandler{logger: logger}
}

// HandleLLMGenerateContentStart logs the number of messages sent.
func (h *LogHandler) HandleLLMGenerateContentStart(ctx context.Context, ms []llms.MessageContent) {
	h.logger.DebugContext(ctx, "llm call started", "messages", len(ms))
}

// HandleLLMGenerateContentEnd logs the number of choices returned.
func (h *LogHandler) HandleLLMGenerateContentEnd(ctx context.Context, res *llms.ContentResponse) {
	choices := 0
	if res != nil {
		choices = len(res.Choices)
	}
	h.logger.DebugContext(ctx, "llm call finished", "choices", choices)
}

// HandleLLMError logs a failed model call.
func (h *LogHandler) HandleLLMError(ctx context.Context, err error) {
	h.logger.ErrorContext(ctx, "llm call failed", "error", err)
}
