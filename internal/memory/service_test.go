package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaenox/memory-service/internal/analytics"
	"github.com/xaenox/memory-service/internal/facts"
	"github.com/xaenox/memory-service/internal/llm"
	"github.com/xaenox/memory-service/internal/models"
	"github.com/xaenox/memory-service/internal/storage"
	"github.com/xaenox/memory-service/internal/summarizer"
)

const summaryAnswer = `{"summary":"Client is relocating to Lisbon","topics":["relocation"],"key_decisions":[],"important_facts":[]}`

type fixture struct {
	store   storage.Storage
	tracker *analytics.Tracker
	svc     *Service

	// modelErr, when set, makes every model call fail.
	modelErr error
}

func newFixture(t *testing.T, store storage.Storage, answer string, autoSummarize bool) *fixture {
	t.Helper()
	f := &fixture{store: store}
	completer := llm.CompleterFunc(func(context.Context, llm.Request) (string, error) {
		if f.modelErr != nil {
			return "", f.modelErr
		}
		return answer, nil
	})

	sum, err := summarizer.New(store, completer, summarizer.Config{MessageThreshold: 4, KeepRecentCount: 2}, nil)
	require.NoError(t, err)
	tracker := analytics.NewTracker(store, analytics.Config{}, nil)
	t.Cleanup(tracker.Close)

	f.tracker = tracker
	f.svc = NewService(Options{
		Store:         store,
		Summarizer:    sum,
		Extractor:     facts.NewExtractor(store, completer, facts.DefaultConfig(), nil),
		Tracker:       tracker,
		AutoSummarize: autoSummarize,
	})
	return f
}

// events flushes the tracker and returns event counts by type.
func (f *fixture) events(t *testing.T) map[models.EventType]int {
	t.Helper()
	f.tracker.Close()
	now := time.Now()
	events, err := f.store.ListEvents(context.Background(), now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)

	counts := make(map[models.EventType]int)
	for _, e := range events {
		counts[e.Type]++
	}
	return counts
}

func TestAppendMessageValidates(t *testing.T) {
	f := newFixture(t, storage.NewMemoryStorage(), summaryAnswer, false)
	ctx := context.Background()

	tests := []struct {
		name      string
		sessionID string
		role      models.Role
		content   string
	}{
		{name: "empty session", sessionID: "", role: models.RoleUser, content: "hi"},
		{name: "bad role", sessionID: "s1", role: "bot", content: "hi"},
		{name: "empty content", sessionID: "s1", role: models.RoleUser, content: "   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AppendMessage(ctx, tt.sessionID, "u1", tt.role, tt.content, nil)
			assert.ErrorIs(t, err, ErrInvalidMessage)
		})
	}

	_, err := f.store.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAppendMessageKeepsTimestampsMonotonic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.NewMemoryStorage(), summaryAnswer, false)
	t0 := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	f.svc.now = func() time.Time { return t0 }
	first, err := f.svc.AppendMessage(ctx, "s1", "u1", models.RoleUser, "first", map[string]any{"channel": "web"})
	require.NoError(t, err)
	assert.NotZero(t, first.ID)

	f.svc.now = func() time.Time { return t0.Add(-time.Hour) }
	second, err := f.svc.AppendMessage(ctx, "s1", "u1", models.RoleAssistant, "second", nil)
	require.NoError(t, err)
	assert.Equal(t, t0, second.Timestamp)
	assert.Greater(t, second.ID, first.ID)

	session, err := f.store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "u1", session.UserID)
	assert.Equal(t, t0, session.LastActivity)

	msgs, err := f.store.GetMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "web", msgs[0].Metadata["channel"])
	assert.Equal(t, 2, f.events(t)[models.EventMessageStore])
}

func TestGetContextForPromptCaches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.NewMemoryStorage(), summaryAnswer, false)

	_, err := f.svc.AppendMessage(ctx, "s1", "u1", models.RoleUser, "I want to move to Lisbon", nil)
	require.NoError(t, err)

	first, err := f.svc.GetContextForPrompt(ctx, "s1")
	require.NoError(t, err)
	assert.Contains(t, first, "user: I want to move to Lisbon")

	second, err := f.svc.GetContextForPrompt(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Appending invalidates the cached context.
	_, err = f.svc.AppendMessage(ctx, "s1", "u1", models.RoleAssistant, "Great choice", nil)
	require.NoError(t, err)
	third, err := f.svc.GetContextForPrompt(ctx, "s1")
	require.NoError(t, err)
	assert.Contains(t, third, "assistant: Great choice")

	assert.Equal(t, map[models.EventType]int{
		models.EventMessageStore:         2,
		models.EventCacheMiss:            2,
		models.EventCacheHit:             1,
		models.EventConversationRetrieve: 2,
	}, f.events(t))
}

func TestGetContextForPromptAutoSummarizes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.NewMemoryStorage(), summaryAnswer, true)

	for _, content := range []string{"one", "two", "three", "four", "five"} {
		_, err := f.svc.AppendMessage(ctx, "s1", "u1", models.RoleUser, "msg "+content, nil)
		require.NoError(t, err)
	}

	out, err := f.svc.GetContextForPrompt(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "=== CONVERSATION SUMMARY ===\nClient is relocating to Lisbon"))
	assert.NotContains(t, out, "msg three")
	assert.Contains(t, out, "msg four")
	assert.Contains(t, out, "msg five")

	summary, err := f.store.LatestSummary(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.SourceMessageCount)

	f.tracker.Close()
	events, err := f.store.ListEvents(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	retrievals := 0
	for _, e := range events {
		if e.Type == models.EventConversationRetrieve {
			assert.Equal(t, 2, e.MessageCount())
			assert.Equal(t, true, e.Metadata[models.MetaHasSummary])
			assert.Equal(t, "u1", e.UserID)
			retrievals++
		}
	}
	assert.Equal(t, 1, retrievals)
}

func TestGetContextForPromptSurvivesModelFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.NewMemoryStorage(), "not json", true)

	for i := 0; i < 6; i++ {
		_, err := f.svc.AppendMessage(ctx, "s1", "u1", models.RoleUser, "message", nil)
		require.NoError(t, err)
	}

	out, err := f.svc.GetContextForPrompt(ctx, "s1")
	require.NoError(t, err)
	assert.NotContains(t, out, "=== CONVERSATION SUMMARY ===")
	assert.Contains(t, out, "=== RECENT MESSAGES ===")
}

func TestGetContextForPromptKeepsMessagesAfterStaleSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.NewMemoryStorage(), summaryAnswer, true)

	for i := 0; i < 5; i++ {
		_, err := f.svc.AppendMessage(ctx, "s1", "u1", models.RoleUser, fmt.Sprintf("m%d", i), nil)
		require.NoError(t, err)
	}
	out, err := f.svc.GetContextForPrompt(ctx, "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "Client is relocating to Lisbon")
	assert.NotContains(t, out, "user: m2")

	f.modelErr = errors.New("connection refused")
	for i := 5; i < 9; i++ {
		_, err := f.svc.AppendMessage(ctx, "s1", "u1", models.RoleUser, fmt.Sprintf("m%d", i), nil)
		require.NoError(t, err)
	}

	out, err = f.svc.GetContextForPrompt(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "=== CONVERSATION SUMMARY ===\nClient is relocating to Lisbon"))
	for i := 3; i < 9; i++ {
		assert.Contains(t, out, fmt.Sprintf("user: m%d\n", i))
	}
	assert.NotContains(t, out, "user: m2")
}

func TestGetContextForPromptWithoutAutoSummarize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.NewMemoryStorage(), summaryAnswer, false)

	for i := 0; i < 5; i++ {
		_, err := f.svc.AppendMessage(ctx, "s1", "u1", models.RoleUser, fmt.Sprintf("m%d", i), nil)
		require.NoError(t, err)
	}
	// Below the summary everything is handed out raw.
	out, err := f.svc.GetContextForPrompt(ctx, "s1")
	require.NoError(t, err)
	assert.NotContains(t, out, "=== CONVERSATION SUMMARY ===")
	for i := 0; i < 5; i++ {
		assert.Contains(t, out, fmt.Sprintf("user: m%d\n", i))
	}

	summary, err := f.svc.SummarizeSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, summary)

	for i := 5; i < 9; i++ {
		_, err := f.svc.AppendMessage(ctx, "s1", "u1", models.RoleUser, fmt.Sprintf("m%d", i), nil)
		require.NoError(t, err)
	}
	out, err = f.svc.GetContextForPrompt(ctx, "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "Client is relocating to Lisbon")
	for i := 3; i < 9; i++ {
		assert.Contains(t, out, fmt.Sprintf("user: m%d\n", i))
	}
}

// appendDuringRead runs hook once, after the history has been read but
// before it is returned.
type appendDuringRead struct {
	*storage.MemoryStorage
	hook func()
}

func (s *appendDuringRead) MessagesAfter(ctx context.Context, sessionID string, afterID int64, limit int) ([]models.Message, error) {
	msgs, err := s.MemoryStorage.MessagesAfter(ctx, sessionID, afterID, limit)
	if hook := s.hook; hook != nil {
		s.hook = nil
		hook()
	}
	return msgs, err
}

func TestGetContextForPromptDoesNotCacheStaleHistory(t *testing.T) {
	ctx := context.Background()
	store := &appendDuringRead{MemoryStorage: storage.NewMemoryStorage()}
	f := newFixture(t, store, summaryAnswer, false)

	_, err := f.svc.AppendMessage(ctx, "s1", "u1", models.RoleUser, "first question", nil)
	require.NoError(t, err)

	store.hook = func() {
		_, err := f.svc.AppendMessage(ctx, "s1", "u1", models.RoleAssistant, "late answer", nil)
		require.NoError(t, err)
	}
	first, err := f.svc.GetContextForPrompt(ctx, "s1")
	require.NoError(t, err)
	assert.NotContains(t, first, "late answer")

	second, err := f.svc.GetContextForPrompt(ctx, "s1")
	require.NoError(t, err)
	assert.Contains(t, second, "assistant: late answer")

	counts := f.events(t)
	assert.Equal(t, 2, counts[models.EventCacheMiss])
	assert.Zero(t, counts[models.EventCacheHit])
}

type brokenHistory struct {
	*storage.MemoryStorage
}

func (brokenHistory) MessagesAfter(context.Context, string, int64, int) ([]models.Message, error) {
	return nil, &storage.StorageError{Op: "messages after", Err: errors.New("connection reset")}
}

func TestGetContextForPromptPropagatesReadErrors(t *testing.T) {
	f := newFixture(t, brokenHistory{storage.NewMemoryStorage()}, summaryAnswer, false)

	_, err := f.svc.GetContextForPrompt(context.Background(), "s1")
	var se *storage.StorageError
	assert.ErrorAs(t, err, &se)
}

func TestAfterSessionIdle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.NewMemoryStorage(),
		`{"facts":[{"memory_type":"client_preference","content":"Client prefers Lisbon over Porto","importance_score":0.8,"confidence":0.9,"tags":["relocation"]}]}`,
		false)

	_, err := f.svc.AppendMessage(ctx, "s1", "u1", models.RoleUser, "Lisbon, not Porto", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, f.svc.AfterSessionIdle(ctx, "s1", "u1"))

	_, err = f.svc.AppendMessage(ctx, "s1", "u1", models.RoleAssistant, "Noted", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.svc.AfterSessionIdle(ctx, "s1", "u1"))

	found, err := f.svc.SearchFacts(ctx, "Lisbon")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "u1", found[0].CreatedBy)

	listed, err := f.svc.ListFacts(ctx, models.FactFilter{Type: models.MemoryTypeClientPreference})
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}
