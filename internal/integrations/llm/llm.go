// Package llm composes natural-language answers from semantic search
// matches. It is optional wiring: without an API key the ask endpoint
// falls back to a templated answer.
package llm

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"pminsight/internal/domain"
	"pminsight/internal/search"
)

const defaultModel = "claude-sonnet-4-5-20250929"

const systemPrompt = "You summarize support ticket search results for a product manager. " +
	"Answer the question in two or three sentences using only the matching tickets provided. " +
	"Mention concrete ticket titles where helpful. Do not invent tickets or details."

// Answerer implements search.Composer on the Anthropic messages API.
type Answerer struct {
	client anthropic.Client
	model  string
}

func NewAnswerer(apiKey, model string, opts ...option.RequestOption) *Answerer {
	if model == "" {
		model = defaultModel
	}
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Answerer{
		client: anthropic.NewClient(all...),
		model:  model,
	}
}

func (a *Answerer) Compose(ctx context.Context, question string, matches []search.Result) (string, error) {
	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(question, matches))),
		},
	})
	if err != nil {
		log.Printf("llm answer error: %v", err)
		return "", fmt.Errorf("Anthropic API error: %w", err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm answer size=%d tokens_in=%d tokens_out=%d",
				len(block.Text), message.Usage.InputTokens, message.Usage.OutputTokens)
			return strings.TrimSpace(block.Text), nil
		}
	}
	return "", fmt.Errorf("no text content in Anthropic response")
}

func buildPrompt(question string, matches []search.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nMatching tickets:\n", question)
	for i, m := range matches {
		title := m.Title
		if title == "" {
			title = m.URL
		}
		if title == "" {
			title = "(untitled)"
		}
		kind := m.Kind
		if kind == "" {
			kind = domain.KindUnknown
		}
		fmt.Fprintf(&b, "%d. [%s/%s] %s (similarity %.2f)", i+1, m.Source, kind, title, m.Similarity)
		if m.URL != "" {
			fmt.Fprintf(&b, " %s", m.URL)
		}
		b.WriteString("\n")
	}
	return b.String()
}
