package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pirate-talk/bot/internal/channel"
	"github.com/pirate-talk/bot/internal/conversation"
	"github.com/pirate-talk/bot/internal/engine"
	"github.com/pirate-talk/bot/internal/models"
	"github.com/pirate-talk/bot/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeEngine struct {
	mu      sync.Mutex
	resp    *engine.Response
	context engine.Context
	hasCtx  bool
	texts   []string
	deltas  []map[string]any
}

func (f *fakeEngine) Send(ctx context.Context, userID, text string, contextDelta map[string]any) (*engine.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	f.deltas = append(f.deltas, contextDelta)
	if f.resp != nil {
		return f.resp, nil
	}
	return &engine.Response{Context: f.context}, nil
}

func (f *fakeEngine) UserContext(userID string) (engine.Context, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.context, f.hasCtx
}

func (f *fakeEngine) ResetContext(userID string) {}

func (f *fakeEngine) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.texts))
	copy(out, f.texts)
	return out
}

func (f *fakeEngine) sentDeltas() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, len(f.deltas))
	copy(out, f.deltas)
	return out
}

type fakeSlackChannel struct {
	mu                sync.Mutex
	replies           []channel.Reply
	patches           []string
	suggestionDialogs []models.CorrelationToken
	surveyTriggers    []string
	nextID            int
}

func (a *fakeSlackChannel) Name() string { return "slack" }

func (a *fakeSlackChannel) ConfirmsDelivery() bool { return false }

func (a *fakeSlackChannel) SendReply(ctx context.Context, userID string, reply *channel.Reply) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies = append(a.replies, *reply)
	a.nextID++
	return "ts-" + string(rune('0'+a.nextID)), nil
}

func (a *fakeSlackChannel) SendInteractivePatch(ctx context.Context, ref models.InteractiveRef, footer string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.patches = append(a.patches, footer)
	return nil
}

func (a *fakeSlackChannel) OpenSuggestionDialog(ctx context.Context, triggerID string, token models.CorrelationToken) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.suggestionDialogs = append(a.suggestionDialogs, token)
	return nil
}

func (a *fakeSlackChannel) OpenSurveyDialog(ctx context.Context, triggerID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.surveyTriggers = append(a.surveyTriggers, triggerID)
	return nil
}

func (a *fakeSlackChannel) sentPatches() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.patches))
	copy(out, a.patches)
	return out
}

func (a *fakeSlackChannel) openedSuggestions() []models.CorrelationToken {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.CorrelationToken, len(a.suggestionDialogs))
	copy(out, a.suggestionDialogs)
	return out
}

func (a *fakeSlackChannel) openedSurveys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.surveyTriggers))
	copy(out, a.surveyTriggers)
	return out
}

type slackFixture struct {
	server  *Server
	adapter *fakeSlackChannel
	eng     *fakeEngine
	store   storage.Storage
	handler *SlackHandler
}

func newSlackFixture(eng *fakeEngine) *slackFixture {
	adapter := &fakeSlackChannel{}
	registry := conversation.NewRegistry()
	store := storage.NewMemoryStorage()
	config := conversation.Config{WorkspaceID: "ws-1"}
	dispatcher := conversation.NewDispatcher(registry, eng, adapter, config, zap.NewNop())
	correlator := conversation.NewCorrelator(registry, eng, store, config, zap.NewNop())
	handler := NewSlackHandler(dispatcher, correlator, adapter, zap.NewNop())

	server := NewServer(zap.NewNop())
	server.MountSlack(handler)

	return &slackFixture{
		server:  server,
		adapter: adapter,
		eng:     eng,
		store:   store,
		handler: handler,
	}
}

func (f *slackFixture) postAction(t *testing.T, payload string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{"payload": {payload}}
	req := httptest.NewRequest(http.MethodPost, "/slack/actions", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	f.server.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	return w
}

func (f *slackFixture) recordTurn(userID string, turnID int, output string) {
	user := f.handler.dispatcher.Registry().FindOrCreate(userID, true)
	user.RecordTurn(&models.Turn{
		TurnID:         turnID,
		ConversationID: f.eng.context.ConversationID,
		UserID:         userID,
		BotOutput:      []string{output},
	}, nil, "Welcome")
}

func TestSlackMaybePressOpensSuggestionDialog(t *testing.T) {
	eng := &fakeEngine{context: engine.Context{ConversationID: "conv-1"}, hasCtx: true}
	f := newSlackFixture(eng)
	f.recordTurn("C1", 0, "ahoy")

	f.postAction(t, `{
		"type": "interactive_message",
		"callback_id": "conv-1:0",
		"trigger_id": "trig-1",
		"channel": {"id": "C1"},
		"original_message": {"ts": "111.222", "text": "ahoy"},
		"actions": [{"name": "soso", "value": "maybe", "type": "button"}]
	}`)

	// The rating is stored and the written-suggestion dialog opens on it.
	var saved models.Feedback
	require.NoError(t, f.store.Feedbacks().Get(context.Background(), "conv-1:0", &saved))
	assert.Equal(t, "maybe", saved.Action)

	dialogs := f.adapter.openedSuggestions()
	require.Len(t, dialogs, 1)
	assert.Equal(t, "conv-1:0", dialogs[0].String())

	patches := f.adapter.sentPatches()
	require.Len(t, patches, 1)
	assert.Contains(t, patches[0], ":clap:")
}

func TestSlackGoodPressStoresWithoutDialog(t *testing.T) {
	eng := &fakeEngine{context: engine.Context{ConversationID: "conv-1"}, hasCtx: true}
	f := newSlackFixture(eng)
	f.recordTurn("C1", 0, "ahoy")

	f.postAction(t, `{
		"type": "interactive_message",
		"callback_id": "conv-1:0",
		"trigger_id": "trig-1",
		"channel": {"id": "C1"},
		"original_message": {"ts": "111.222", "text": "ahoy"},
		"actions": [{"name": "ok", "value": "good", "type": "button"}]
	}`)

	var saved models.Feedback
	require.NoError(t, f.store.Feedbacks().Get(context.Background(), "conv-1:0", &saved))
	assert.Equal(t, "good", saved.Action)
	assert.Empty(t, f.adapter.openedSuggestions())
}

func TestSlackSurveyButtonOpensSurveyDialog(t *testing.T) {
	eng := &fakeEngine{context: engine.Context{ConversationID: "conv-1"}, hasCtx: true}
	f := newSlackFixture(eng)

	f.postAction(t, `{
		"type": "interactive_message",
		"callback_id": "survey",
		"trigger_id": "trig-9",
		"channel": {"id": "C1"},
		"original_message": {"ts": "111.222", "text": "how was it?"},
		"actions": [{"name": "open", "value": "open", "type": "button"}]
	}`)

	triggers := f.adapter.openedSurveys()
	require.Len(t, triggers, 1)
	assert.Equal(t, "trig-9", triggers[0])
}

func TestSlackLanguageLevelButtonContinuesDialog(t *testing.T) {
	eng := &fakeEngine{context: engine.Context{ConversationID: "conv-1"}, hasCtx: true}
	f := newSlackFixture(eng)

	f.postAction(t, `{
		"type": "interactive_message",
		"callback_id": "pick_language_level",
		"trigger_id": "trig-1",
		"channel": {"id": "C1"},
		"original_message": {"ts": "111.222", "text": "pick a level"},
		"actions": [{"name": "beginner", "value": "beginner", "type": "button"}]
	}`)

	patches := f.adapter.sentPatches()
	require.Len(t, patches, 1)
	assert.Contains(t, patches[0], "beginner")

	assert.Eventually(t, func() bool {
		for _, delta := range f.eng.sentDeltas() {
			if delta["language_level"] == "beginner" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestSlackSurveySubmissionAcknowledgesButtonMessage(t *testing.T) {
	eng := &fakeEngine{context: engine.Context{ConversationID: "conv-1"}, hasCtx: true}
	f := newSlackFixture(eng)

	// Pressing the survey button remembers the message to acknowledge on.
	f.postAction(t, `{
		"type": "interactive_message",
		"callback_id": "survey",
		"trigger_id": "trig-9",
		"channel": {"id": "C1"},
		"original_message": {"ts": "111.222", "text": "how was it?"},
		"actions": [{"name": "open", "value": "open", "type": "button"}]
	}`)

	f.postAction(t, `{
		"type": "dialog_submission",
		"callback_id": "survey",
		"channel": {"id": "C1"},
		"submission": {"comment": "great bot"}
	}`)

	var saved models.Survey
	require.NoError(t, f.store.Surveys().Get(context.Background(), "conv-1", &saved))
	assert.Equal(t, "great bot", saved.Comment)

	patches := f.adapter.sentPatches()
	require.NotEmpty(t, patches)
	assert.Contains(t, patches[len(patches)-1], ":hugging_face:")
}

func TestSlackSuggestionSubmissionUpdatesFeedback(t *testing.T) {
	eng := &fakeEngine{context: engine.Context{ConversationID: "conv-1"}, hasCtx: true}
	f := newSlackFixture(eng)
	f.recordTurn("C1", 0, "ahoy")

	f.postAction(t, `{
		"type": "interactive_message",
		"callback_id": "conv-1:0",
		"trigger_id": "trig-1",
		"channel": {"id": "C1"},
		"original_message": {"ts": "111.222", "text": "ahoy"},
		"actions": [{"name": "soso", "value": "maybe", "type": "button"}]
	}`)

	f.postAction(t, `{
		"type": "dialog_submission",
		"callback_id": "conv-1:0",
		"channel": {"id": "C1"},
		"submission": {"what": "flow", "how": "slow down a bit"}
	}`)

	var saved models.Feedback
	require.NoError(t, f.store.Feedbacks().Get(context.Background(), "conv-1:0", &saved))
	require.NotNil(t, saved.Suggestion)
	assert.Equal(t, "flow", saved.Suggestion.What)
	assert.Equal(t, "slow down a bit", saved.Suggestion.How)
}
