// Package facts promotes durable facts from conversations into the
// collective memory.
package facts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/memory-service/internal/llm"
	"github.com/xaenox/memory-service/internal/models"
	"github.com/xaenox/memory-service/internal/storage"
)

const (
	DefaultMinConfidence = 0.7
	DefaultMinImportance = 0.6
	DefaultWindow        = 20

	minMessages      = 2
	defaultMaxTokens = 1000
)

// Store is the part of storage the extractor reads and writes.
type Store interface {
	storage.ConversationStore
	storage.CollectiveMemoryStore
}

// Config gates are taken as given, so zero keeps every candidate. Negative
// gates fall back to the defaults.
type Config struct {
	MinConfidence float64
	MinImportance float64
	// Window is how many of the newest messages are read per session.
	Window    int
	MaxTokens int
}

func DefaultConfig() Config {
	return Config{
		MinConfidence: DefaultMinConfidence,
		MinImportance: DefaultMinImportance,
		Window:        DefaultWindow,
		MaxTokens:     defaultMaxTokens,
	}
}

func (c *Config) applyDefaults() {
	if c.MinConfidence < 0 {
		c.MinConfidence = DefaultMinConfidence
	}
	if c.MinImportance < 0 {
		c.MinImportance = DefaultMinImportance
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
}

// Candidate is a fact proposed by the model, before filtering.
type Candidate struct {
	MemoryType string
	Content    string
	Importance float64
	Confidence float64
	Tags       []string
}

// Fact is a filtered candidate ready to be stored under Key.
type Fact struct {
	Candidate
	Key         string
	SimilarKeys []string
}

// InsufficientContextError is returned by ExtractFacts when there are too
// few messages to extract anything from.
type InsufficientContextError struct {
	Have int
	Need int
}

func (e *InsufficientContextError) Error() string {
	return fmt.Sprintf("insufficient context: have %d messages, need %d", e.Have, e.Need)
}

type Extractor struct {
	store  Store
	llm    llm.Completer
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func NewExtractor(store Store, completer llm.Completer, cfg Config, logger *zap.Logger) *Extractor {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		store:  store,
		llm:    completer,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Filter keeps candidates that pass both the confidence and the importance
// threshold.
func (e *Extractor) Filter(candidates []Candidate) []Candidate {
	var kept []Candidate
	for _, c := range candidates {
		if c.Confidence >= e.cfg.MinConfidence && c.Importance >= e.cfg.MinImportance {
			kept = append(kept, c)
		}
	}
	return kept
}

// StoreFact upserts the fact by key. An existing entry keeps its content and
// only has its access count and last access refreshed.
func (e *Extractor) StoreFact(ctx context.Context, fact Fact, createdBy string) (bool, error) {
	if fact.Key == "" {
		return false, errors.New("fact key is empty")
	}

	now := e.now().UTC()
	entry := &models.CollectiveMemoryEntry{
		Key:          fact.Key,
		Type:         fact.MemoryType,
		Content:      fact.Content,
		Importance:   fact.Importance,
		Confidence:   fact.Confidence,
		Tags:         fact.Tags,
		CreatedBy:    createdBy,
		LastAccessed: now,
		CreatedAt:    now,
	}
	if len(fact.SimilarKeys) > 0 {
		entry.Metadata = map[string]any{"similar_keys": fact.SimilarKeys}
	}

	inserted, err := e.store.UpsertFact(ctx, entry)
	if err != nil {
		return false, fmt.Errorf("store fact %s: %w", fact.Key, err)
	}
	return inserted, nil
}

// ProcessSession extracts facts from the newest messages of a session and
// stores those that pass the filter. It returns the number of facts stored.
// Only a failure to read the messages is returned as an error.
func (e *Extractor) ProcessSession(ctx context.Context, sessionID, userID string) (int, error) {
	msgs, err := e.store.RecentMessages(ctx, sessionID, e.cfg.Window)
	if err != nil {
		return 0, fmt.Errorf("recent messages: %w", err)
	}

	candidates, err := e.ExtractFacts(ctx, msgs)
	if err != nil {
		var insufficient *InsufficientContextError
		if errors.As(err, &insufficient) {
			e.logger.Debug("Skipping fact extraction",
				zap.String("session_id", sessionID), zap.Int("messages", insufficient.Have))
			return 0, nil
		}
		e.logger.Error("Failed to extract facts",
			zap.String("session_id", sessionID), zap.Error(err))
		return 0, nil
	}

	kept := e.Filter(candidates)
	salt := e.now()
	stored := 0
	for _, c := range kept {
		fact := Fact{Candidate: c, Key: DeriveKey(c.MemoryType, c.Content, salt)}

		similar, err := e.FindSimilar(ctx, c.Content)
		if err != nil {
			e.logger.Warn("Failed to look up similar facts",
				zap.String("session_id", sessionID), zap.Error(err))
		}
		for _, s := range similar {
			if s.Key != fact.Key {
				fact.SimilarKeys = append(fact.SimilarKeys, s.Key)
			}
		}

		if _, err := e.StoreFact(ctx, fact, userID); err != nil {
			e.logger.Error("Failed to store fact",
				zap.String("session_id", sessionID),
				zap.String("memory_key", fact.Key),
				zap.Error(err))
			continue
		}
		stored++
	}

	e.logger.Info("Fact extraction finished",
		zap.String("session_id", sessionID),
		zap.Int("candidates", len(candidates)),
		zap.Int("kept", len(kept)),
		zap.Int("stored", stored))
	return stored, nil
}

// ListFacts is the administrative listing of collective memory.
func (e *Extractor) ListFacts(ctx context.Context, filter models.FactFilter) ([]models.CollectiveMemoryEntry, error) {
	return e.store.ListFacts(ctx, filter)
}

// SearchFacts finds stored facts sharing words with query.
func (e *Extractor) SearchFacts(ctx context.Context, query string) ([]models.CollectiveMemoryEntry, error) {
	return e.FindSimilar(ctx, query)
}

func normalize(content string) string {
	return strings.Join(strings.Fields(strings.ToLower(content)), " ")
}
