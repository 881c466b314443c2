// Package classify assigns topic categories to cards.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/wordcards/cardsync/internal/schema"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "claude-sonnet-4-20250514"

// MaxCategories caps how many categories are kept per card.
const MaxCategories = 5

// ErrNoAPIKey is returned by NewAnthropic without credentials.
var ErrNoAPIKey = errors.New("classify: API key not configured")

// Classifier returns ranked topic categories for a card, most relevant
// first.
type Classifier interface {
	Classify(ctx context.Context, key schema.EntityKey, translation string) ([]string, error)
}

// Config configures the Anthropic classifier.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Anthropic classifies cards with the Anthropic Messages API.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic creates a classifier. Extra request options are appended
// after the ones derived from cfg.
func NewAnthropic(cfg Config, opts ...option.RequestOption) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	reqOpts = append(reqOpts, opts...)

	return &Anthropic{
		client: anthropic.NewClient(reqOpts...),
		model:  model,
	}, nil
}

// Classify implements Classifier.
func (a *Anthropic) Classify(ctx context.Context, key schema.EntityKey, translation string) ([]string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 256,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(key, translation))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("classify %s: %w", key, err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("classify %s: empty response", key)
	}
	return parseCategories(text.String())
}

func buildPrompt(key schema.EntityKey, translation string) string {
	var sb strings.Builder
	sb.WriteString("Assign topic categories to a vocabulary card. Return JSON only.\n\n")
	fmt.Fprintf(&sb, "Word or phrase (%s): %s\n", key.SourceLanguage, key.Text)
	if translation != "" {
		fmt.Fprintf(&sb, "Translation (%s): %s\n", key.TargetLanguage, translation)
	}
	fmt.Fprintf(&sb, `
Return a JSON array of at most %d category names, most relevant first, e.g.
["food", "fruit", "kitchen"]

Rules:
- Use short lowercase English nouns
- Prefer general, reusable topics over very specific ones
- Return ONLY the JSON array, no other text.`, MaxCategories)
	return sb.String()
}

// parseCategories decodes the model's answer, tolerating a markdown code
// fence around it.
func parseCategories(resp string) ([]string, error) {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	resp = strings.TrimSpace(resp)

	var raw []string
	if err := json.Unmarshal([]byte(resp), &raw); err != nil {
		return nil, fmt.Errorf("parse categories: %w (response: %s)", err, resp)
	}
	return Normalize(raw), nil
}

// Normalize lowercases and trims categories, dropping empties and
// duplicates and keeping at most MaxCategories in their original order.
func Normalize(categories []string) []string {
	out := make([]string, 0, len(categories))
	seen := make(map[string]bool, len(categories))
	for _, c := range categories {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
		if len(out) == MaxCategories {
			break
		}
	}
	return out
}
