package facts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xaenox/memory-service/internal/llm"
	"github.com/xaenox/memory-service/internal/models"
)

const extractionPrompt = `You extract durable facts from conversations of an advisory service for business setup, legal questions and immigration.
Only keep facts that are useful beyond this conversation: client preferences, visa rules, legal requirements, business processes and decisions.
Respond with a single JSON object and nothing else:
{
    "facts": [
        {
            "memory_type": "client_preference|visa_rule|legal_requirement|business_process|decision|general",
            "content": "the fact as one self-contained sentence",
            "importance_score": 0.0,
            "confidence": 0.0,
            "tags": ["tag1", "tag2"]
        }
    ]
}
Scores are between 0 and 1. Return {"facts": []} when there is nothing worth keeping.`

type rawFact struct {
	MemoryType string   `json:"memory_type"`
	Content    string   `json:"content"`
	Importance *float64 `json:"importance_score"`
	Confidence *float64 `json:"confidence"`
	Tags       []string `json:"tags"`
}

type extraction struct {
	Facts []rawFact `json:"facts"`
}

func (x *extraction) Validate() error {
	if x.Facts == nil {
		return errors.New("facts is missing")
	}
	for i, f := range x.Facts {
		switch {
		case strings.TrimSpace(f.MemoryType) == "":
			return fmt.Errorf("fact %d: memory_type is empty", i)
		case strings.TrimSpace(f.Content) == "":
			return fmt.Errorf("fact %d: content is empty", i)
		case f.Importance == nil:
			return fmt.Errorf("fact %d: importance_score is missing", i)
		case f.Confidence == nil:
			return fmt.Errorf("fact %d: confidence is missing", i)
		case !unitInterval(*f.Importance):
			return fmt.Errorf("fact %d: importance_score %v out of range", i, *f.Importance)
		case !unitInterval(*f.Confidence):
			return fmt.Errorf("fact %d: confidence %v out of range", i, *f.Confidence)
		}
	}
	return nil
}

func unitInterval(v float64) bool {
	return v >= 0 && v <= 1
}

// ExtractFacts asks the model for candidate facts in msgs.
func (e *Extractor) ExtractFacts(ctx context.Context, msgs []models.Message) ([]Candidate, error) {
	if len(msgs) < minMessages {
		return nil, &InsufficientContextError{Have: len(msgs), Need: minMessages}
	}

	var b strings.Builder
	b.WriteString("Conversation:\n")
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}

	var out extraction
	req := llm.Request{System: extractionPrompt, Prompt: b.String(), MaxTokens: e.cfg.MaxTokens}
	if err := llm.Call(ctx, e.llm, "extract facts", req, &out); err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(out.Facts))
	for _, f := range out.Facts {
		memType := strings.ToLower(strings.TrimSpace(f.MemoryType))
		if !models.KnownMemoryType(memType) {
			memType = models.MemoryTypeGeneral
		}
		tags := f.Tags
		if tags == nil {
			tags = []string{}
		}
		candidates = append(candidates, Candidate{
			MemoryType: memType,
			Content:    strings.TrimSpace(f.Content),
			Importance: *f.Importance,
			Confidence: *f.Confidence,
			Tags:       tags,
		})
	}
	return candidates, nil
}
