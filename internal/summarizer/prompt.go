package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xaenox/memory-service/internal/llm"
	"github.com/xaenox/memory-service/internal/models"
)

const systemPrompt = `You summarize conversations between clients and an advisory service that helps with business setup, legal questions and immigration (visas, residence permits, relocation).
Keep client preferences, deadlines, documents, amounts and every decision that was made.
Respond with a single JSON object and nothing else:
{
    "summary": "condensed narrative of the conversation",
    "topics": ["topic1", "topic2"],
    "key_decisions": ["decision1"],
    "important_facts": ["fact1"]
}
Use empty arrays when there is nothing to list.`

// Result is the decoded model answer.
type Result struct {
	Summary        string   `json:"summary"`
	Topics         []string `json:"topics"`
	KeyDecisions   []string `json:"key_decisions"`
	ImportantFacts []string `json:"important_facts"`
}

func (r *Result) Validate() error {
	switch {
	case strings.TrimSpace(r.Summary) == "":
		return errors.New("summary is empty")
	case r.Topics == nil:
		return errors.New("topics is missing")
	case r.KeyDecisions == nil:
		return errors.New("key_decisions is missing")
	case r.ImportantFacts == nil:
		return errors.New("important_facts is missing")
	}
	return nil
}

// GenerateSummary asks the model to condense msgs. When previous is set its
// text is handed to the model so the new summary extends it.
func (s *Summarizer) GenerateSummary(ctx context.Context, msgs []models.Message, previous *models.Summary) (*Result, error) {
	var result Result
	req := llm.Request{
		System:    systemPrompt,
		Prompt:    buildPrompt(msgs, previous),
		MaxTokens: s.maxTokens,
	}
	if err := llm.Call(ctx, s.llm, "summarize", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func buildPrompt(msgs []models.Message, previous *models.Summary) string {
	var b strings.Builder
	if previous != nil && previous.Content != "" {
		b.WriteString("Previous summary of this conversation:\n")
		b.WriteString(previous.Content)
		b.WriteString("\n\nUpdate it with the conversation below.\n\n")
	}
	b.WriteString("Conversation:\n")
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}
