package assistant

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"diet-bot/internal/db"
	"diet-bot/internal/gpt"
	"diet-bot/internal/models"

	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream unavailable")

type fakeGenerator struct {
	mu       sync.Mutex
	calls    [][]gpt.Message
	reply    string
	summary  string
	err      error
	sumErr   error
	temps    []float32
	sumCalls int
}

func (f *fakeGenerator) Generate(_ context.Context, messages []gpt.Message, temperature float32) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(messages) > 0 && messages[0].Content == summaryPrompt {
		f.sumCalls++
		if f.sumErr != nil {
			return "", f.sumErr
		}
		return f.summary, nil
	}
	f.calls = append(f.calls, messages)
	f.temps = append(f.temps, temperature)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeAnalyzer struct {
	doc   gpt.Analysis
	err   error
	calls []string
}

func (f *fakeAnalyzer) AnalyzeImage(_ context.Context, imageRef, _ string) (gpt.Analysis, error) {
	f.calls = append(f.calls, imageRef)
	if f.err != nil {
		return nil, f.err
	}
	return f.doc, nil
}

type fakeTranscriber struct {
	text  string
	err   error
	calls int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []byte, _ string) (string, error) {
	f.calls++
	return f.text, f.err
}

func newTestStore(t *testing.T) db.Store {
	t.Helper()
	store, err := db.NewSQLiteDB(filepath.Join(t.TempDir(), "assistant.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type testEnv struct {
	store       db.Store
	generator   *fakeGenerator
	analyzer    *fakeAnalyzer
	transcriber *fakeTranscriber
	service     *Service
}

func newTestEnv(t *testing.T, freeMessages int) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, newTestStore(t), freeMessages)
}

func newTestEnvWithStore(t *testing.T, store db.Store, freeMessages int) *testEnv {
	t.Helper()
	env := &testEnv{
		store:       store,
		generator:   &fakeGenerator{reply: "Привет! Чем помочь?", summary: "Цель: похудеть."},
		analyzer:    &fakeAnalyzer{},
		transcriber: &fakeTranscriber{text: "Что съесть на ужин?"},
	}
	service, err := NewService(ServiceConfig{
		Store:         env.store,
		Generator:     env.generator,
		Analyzer:      env.analyzer,
		Transcriber:   env.transcriber,
		FreeMessages:  freeMessages,
		HistoryWindow: 10,
		CompactEvery:  15,
		CompactWindow: 50,
		CallTimeout:   time.Second,
	})
	require.NoError(t, err)
	env.service = service
	return env
}

func (e *testEnv) messageCount(t *testing.T, userID string) int {
	t.Helper()
	count, err := e.store.CountMessages(context.Background(), userID)
	require.NoError(t, err)
	return count
}

func (e *testEnv) freeLeft(t *testing.T, userID string) int {
	t.Helper()
	user, err := e.store.GetUser(context.Background(), userID)
	require.NoError(t, err)
	return user.FreeLeft
}

// commitFailingStore rejects every transactional commit.
type commitFailingStore struct {
	db.Store
}

func (commitFailingStore) CommitTurn(context.Context, *models.MealEntry, []*models.MessageEntry) error {
	return errors.New("disk I/O error")
}
