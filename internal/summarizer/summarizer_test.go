package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaenox/memory-service/internal/llm"
	"github.com/xaenox/memory-service/internal/models"
	"github.com/xaenox/memory-service/internal/storage"
)

const validAnswer = `{"summary":"Client wants a D7 visa","topics":["visa"],"key_decisions":["apply in May"],"important_facts":["has remote income"]}`

var fixedNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, store storage.ConversationStore, sessionID string, n int) {
	t.Helper()
	ctx := context.Background()
	base := fixedNow.Add(-time.Hour)
	for i := 0; i < n; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		_, err := store.UpsertSession(ctx, sessionID, "u1", at)
		require.NoError(t, err)
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		require.NoError(t, store.AppendMessage(ctx, &models.Message{
			SessionID: sessionID,
			UserID:    "u1",
			Role:      role,
			Content:   fmt.Sprintf("msg-%d", i),
			Timestamp: at,
		}))
	}
}

func appendMessage(t *testing.T, store storage.ConversationStore, sessionID, content string) {
	t.Helper()
	require.NoError(t, store.AppendMessage(context.Background(), &models.Message{
		SessionID: sessionID,
		UserID:    "u1",
		Role:      models.RoleUser,
		Content:   content,
		Timestamp: fixedNow,
	}))
}

type recorder struct {
	answer  string
	err     error
	prompts []string
}

func (r *recorder) Complete(_ context.Context, req llm.Request) (string, error) {
	r.prompts = append(r.prompts, req.Prompt)
	return r.answer, r.err
}

func newSummarizer(t *testing.T, store Store, c llm.Completer, threshold, keep int) *Summarizer {
	t.Helper()
	s, err := New(store, c, Config{MessageThreshold: threshold, KeepRecentCount: keep}, nil)
	require.NoError(t, err)
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestNewRejectsKeepAboveThreshold(t *testing.T) {
	_, err := New(storage.NewMemoryStorage(), &recorder{}, Config{MessageThreshold: 5, KeepRecentCount: 6}, nil)
	assert.Error(t, err)

	_, err = New(storage.NewMemoryStorage(), &recorder{}, Config{MessageThreshold: 30, ContextLimit: 10}, nil)
	assert.Error(t, err)

	s, err := New(storage.NewMemoryStorage(), &recorder{}, Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultMessageThreshold, s.threshold)
	assert.Equal(t, DefaultKeepRecentCount, s.keep)
	assert.Equal(t, DefaultContextLimit, s.contextLimit)
}

func TestNeedsSummarizationOverThreshold(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	seed(t, store, "s1", 9)
	s := newSummarizer(t, store, &recorder{}, 7, 2)

	needed, err := s.NeedsSummarization(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, needed)

	msgs, err := s.MessagesToSummarize(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 7)
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), m.Content)
	}
}

func TestSmallSessionsAreNeverSummarized(t *testing.T) {
	ctx := context.Background()
	const keep = 3

	for n := 0; n <= keep; n++ {
		store := storage.NewMemoryStorage()
		sessionID := fmt.Sprintf("s-%d", n)
		seed(t, store, sessionID, n)
		c := &recorder{answer: validAnswer}
		s := newSummarizer(t, store, c, 5, keep)

		needed, err := s.NeedsSummarization(ctx, sessionID)
		require.NoError(t, err)
		assert.False(t, needed, "n=%d", n)

		msgs, err := s.MessagesToSummarize(ctx, sessionID)
		require.NoError(t, err)
		assert.Empty(t, msgs, "n=%d", n)

		summary, err := s.SummarizeConversation(ctx, sessionID)
		require.NoError(t, err)
		assert.Nil(t, summary, "n=%d", n)
		assert.Empty(t, c.prompts)
	}
}

func TestMessagesToSummarizeSelectsOldestPrefix(t *testing.T) {
	ctx := context.Background()
	const threshold, keep = 6, 4

	for n := threshold + 1; n <= threshold+5; n++ {
		store := storage.NewMemoryStorage()
		seed(t, store, "s1", n)
		s := newSummarizer(t, store, &recorder{}, threshold, keep)

		msgs, err := s.MessagesToSummarize(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, msgs, n-keep)
		assert.Equal(t, "msg-0", msgs[0].Content)
		assert.Equal(t, fmt.Sprintf("msg-%d", n-keep-1), msgs[len(msgs)-1].Content)

		recent, err := s.RecentMessages(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, recent, keep)
		assert.Equal(t, fmt.Sprintf("msg-%d", n-keep), recent[0].Content)
	}
}

func TestSummarizeConversationStoresSummary(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	seed(t, store, "s1", 9)
	c := &recorder{answer: validAnswer}
	s := newSummarizer(t, store, c, 7, 2)

	summary, err := s.SummarizeConversation(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, "2024-05-10", summary.SummaryDate)
	assert.Equal(t, 7, summary.SourceMessageCount)
	assert.Equal(t, []string{"visa"}, summary.Topics)
	assert.Equal(t, []string{"apply in May"}, summary.KeyDecisions)

	stored, err := store.GetSummary(ctx, "s1", "2024-05-10")
	require.NoError(t, err)
	assert.Equal(t, "Client wants a D7 visa", stored.Content)

	require.Len(t, c.prompts, 1)
	assert.Contains(t, c.prompts[0], "user: msg-0")
	assert.Contains(t, c.prompts[0], "user: msg-6")
	assert.NotContains(t, c.prompts[0], "msg-7")
	assert.NotContains(t, c.prompts[0], "Previous summary")
}

func TestSummarizeConversationIsIncremental(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	seed(t, store, "s1", 9)
	c := &recorder{answer: validAnswer}
	s := newSummarizer(t, store, c, 7, 2)

	first, err := s.SummarizeConversation(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, first)

	// Nothing new has left the raw tail yet.
	again, err := s.SummarizeConversation(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, again)
	require.Len(t, c.prompts, 1)

	appendMessage(t, store, "s1", "msg-9")
	c.answer = `{"summary":"Client applied for a D7 visa","topics":["visa"],"key_decisions":[],"important_facts":[]}`
	summary, err := s.SummarizeConversation(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, summary)

	require.Len(t, c.prompts, 2)
	assert.Contains(t, c.prompts[1], "Previous summary of this conversation:\nClient wants a D7 visa")
	assert.Contains(t, c.prompts[1], "assistant: msg-7")
	for i := 0; i <= 6; i++ {
		assert.NotContains(t, c.prompts[1], fmt.Sprintf("msg-%d\n", i))
	}
	assert.NotContains(t, c.prompts[1], "msg-8")
	assert.Equal(t, 8, summary.SourceMessageCount)
	assert.Equal(t, true, summary.Metadata[models.MetaIncremental])

	stored, err := store.LatestSummary(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Client applied for a D7 visa", stored.Content)
	lastID, ok := stored.LastMessageID()
	require.True(t, ok)
	firstID, _ := first.LastMessageID()
	assert.Greater(t, lastID, firstID)
}

func TestContextMessagesStartAfterSummary(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	seed(t, store, "s1", 9)
	c := &recorder{answer: validAnswer}
	s := newSummarizer(t, store, c, 7, 2)

	all, err := s.ContextMessages(ctx, "s1", nil)
	require.NoError(t, err)
	assert.Len(t, all, 9)

	summary, err := s.SummarizeConversation(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, summary)

	// The model fails from here on; the summary stays at msg-6.
	c.err = errors.New("connection refused")
	for i := 9; i < 13; i++ {
		appendMessage(t, store, "s1", fmt.Sprintf("msg-%d", i))
	}
	failed, err := s.SummarizeConversation(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, failed)

	rest, err := s.ContextMessages(ctx, "s1", summary)
	require.NoError(t, err)
	require.Len(t, rest, 6)
	for i, m := range rest {
		assert.Equal(t, fmt.Sprintf("msg-%d", i+7), m.Content)
	}

	// A summary without a recorded boundary keeps the whole history.
	legacy, err := s.ContextMessages(ctx, "s1", &models.Summary{Content: "old"})
	require.NoError(t, err)
	assert.Len(t, legacy, 13)
}

func TestSummarizeConversationSwallowsModelFailures(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		answer string
		err    error
	}{
		{name: "call error", err: errors.New("connection refused")},
		{name: "not json", answer: "Here is the summary you asked for"},
		{name: "missing field", answer: `{"summary":"x","topics":[],"key_decisions":[]}`},
		{name: "empty summary", answer: `{"summary":"","topics":[],"key_decisions":[],"important_facts":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStorage()
			seed(t, store, "s1", 9)
			s := newSummarizer(t, store, &recorder{answer: tt.answer, err: tt.err}, 7, 2)

			summary, err := s.SummarizeConversation(ctx, "s1")
			require.NoError(t, err)
			assert.Nil(t, summary)

			_, err = store.LatestSummary(ctx, "s1")
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})
	}
}

func TestGenerateSummaryReturnsExternalServiceError(t *testing.T) {
	s := newSummarizer(t, storage.NewMemoryStorage(), &recorder{answer: `{"summary":"x"}`}, 7, 2)

	_, err := s.GenerateSummary(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}}, nil)
	var ese *llm.ExternalServiceError
	assert.ErrorAs(t, err, &ese)
}

type failingStore struct {
	*storage.MemoryStorage
}

func (failingStore) CountMessages(context.Context, string) (int, error) {
	return 0, &storage.StorageError{Op: "count messages", Err: errors.New("connection reset")}
}

func TestSummarizeConversationPropagatesReadErrors(t *testing.T) {
	s := newSummarizer(t, failingStore{storage.NewMemoryStorage()}, &recorder{}, 7, 2)

	_, err := s.SummarizeConversation(context.Background(), "s1")
	var se *storage.StorageError
	assert.ErrorAs(t, err, &se)
}

func TestFormatContext(t *testing.T) {
	summary := &models.Summary{
		Content:      "Client wants a D7 visa",
		Topics:       []string{"visa"},
		KeyDecisions: []string{"apply in May"},
	}
	recent := []models.Message{
		{Role: models.RoleUser, Content: "what documents?", Timestamp: fixedNow},
		{Role: models.RoleAssistant, Content: "passport and bank statements", Timestamp: fixedNow.Add(time.Minute)},
	}

	out := FormatContext(summary, recent)

	summaryAt := strings.Index(out, summaryMarker)
	recentAt := strings.Index(out, recentMarker)
	endAt := strings.Index(out, endMarker)
	require.True(t, summaryAt >= 0 && recentAt >= 0 && endAt >= 0)
	assert.Less(t, summaryAt, recentAt)
	assert.Less(t, recentAt, endAt)
	assert.Less(t, strings.Index(out, "what documents?"), strings.Index(out, "passport and bank statements"))
	assert.Contains(t, out, "Key decisions:\n- apply in May\n")
	assert.Contains(t, out, "[2024-05-10 12:00] user: what documents?")
	assert.True(t, strings.HasSuffix(out, endMarker))

	assert.Empty(t, FormatContext(nil, nil))
	assert.NotContains(t, FormatContext(nil, recent), summaryMarker)
	assert.NotContains(t, FormatContext(summary, nil), recentMarker)
}
