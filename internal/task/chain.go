package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
)

// SystemPrompt is the system message of the demo chain.
const SystemPrompt = "You are a concise assistant."

// HumanPrompt is the fixed human message of the demo chain.
const HumanPrompt = "Give me 3 short steps for using LangChain workers safely with MachineID. " +
	"MachineID is a lightweight device-level gate: each worker uses a user-assigned deviceId, " +
	"registers once, and validates before running tasks so organizations can enforce simple device " +
	"limits and prevent uncontrolled scaling. Keep each step brief and practical, focusing only on " +
	"registering, validating, and stopping workers when validation fails."

// ErrNoChoices is returned when the model answers without any choice.
var ErrNoChoices = errors.New("model returned no choices")

// ModelFactory creates the chat model on first use.
type ModelFactory func() (llms.Model, error)

// Chain is the prompt | model pipeline run after a successful validation.
type Chain struct {
	prompt   prompts.ChatPromptTemplate
	newModel ModelFactory
}

// NewChain creates the demo chain over the model returned by newModel.
func NewChain(newModel ModelFactory) *Chain {
	return &Chain{
		prompt: prompts.NewChatPromptTemplate([]prompts.MessageFormatter{
			prompts.NewSystemMessagePromptTemplate(SystemPrompt, nil),
			prompts.NewHumanMessagePromptTemplate(HumanPrompt, nil),
		}),
		newModel: newModel,
	}
}

// Run formats the prompt, calls the model once and returns the first choice.
func (c *Chain) Run(ctx context.Context) (string, error) {
	model, err := c.newModel()
	if err != nil {
		return "", fmt.Errorf("create model: %w", err)
	}

	messages, err := c.Messages()
	if err != nil {
		return "", err
	}

	resp, err := model.GenerateContent(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Content, nil
}

// Messages renders the chat prompt into model input.
func (c *Chain) Messages() ([]llms.MessageContent, error) {
	chat, err := c.prompt.FormatMessages(map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("format prompt: %w", err)
	}

	messages := make([]llms.MessageContent, 0, len(chat))
	for _, msg := range chat {
		messages = append(messages, llms.TextParts(msg.GetType(), msg.GetContent()))
	}
	return messages, nil
}
