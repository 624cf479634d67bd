package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pirate-talk/bot/internal/channel"
	"github.com/pirate-talk/bot/internal/conversation"
	"github.com/pirate-talk/bot/internal/engine"
	"github.com/pirate-talk/bot/internal/models"
	"github.com/pirate-talk/bot/internal/speech"
	"github.com/pirate-talk/bot/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMessengerAdapter struct {
	mu      sync.Mutex
	replies []channel.Reply
	nextID  int
}

func (a *fakeMessengerAdapter) Name() string { return "facebook" }

func (a *fakeMessengerAdapter) ConfirmsDelivery() bool { return true }

func (a *fakeMessengerAdapter) SendReply(ctx context.Context, userID string, reply *channel.Reply) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies = append(a.replies, *reply)
	a.nextID++
	return "mid-" + string(rune('0'+a.nextID)), nil
}

func (a *fakeMessengerAdapter) SendInteractivePatch(ctx context.Context, ref models.InteractiveRef, footer string) error {
	return nil
}

func (a *fakeMessengerAdapter) sent() []channel.Reply {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]channel.Reply, len(a.replies))
	copy(out, a.replies)
	return out
}

type fakeRecognizer struct {
	transcript *speech.Transcript
	err        error
}

func (r *fakeRecognizer) Transcribe(ctx context.Context, audioURL string) (*speech.Transcript, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.transcript, nil
}

type facebookFixture struct {
	server  *Server
	adapter *fakeMessengerAdapter
	eng     *fakeEngine
	store   storage.Storage
	handler *FacebookHandler
}

func newFacebookFixture(eng *fakeEngine, recognizer speech.Recognizer) *facebookFixture {
	adapter := &fakeMessengerAdapter{}
	registry := conversation.NewRegistry()
	store := storage.NewMemoryStorage()
	config := conversation.Config{WorkspaceID: "ws-1"}
	dispatcher := conversation.NewDispatcher(registry, eng, adapter, config, zap.NewNop())
	correlator := conversation.NewCorrelator(registry, eng, store, config, zap.NewNop())
	transcripts := conversation.NewTranscripts(eng, store, config, zap.NewNop())
	handler := NewFacebookHandler(dispatcher, correlator, transcripts, recognizer, adapter,
		"verify-token", 0.85, zap.NewNop())

	server := NewServer(zap.NewNop())
	server.MountFacebook(handler)

	return &facebookFixture{
		server:  server,
		adapter: adapter,
		eng:     eng,
		store:   store,
		handler: handler,
	}
}

func TestLowConfidenceAudioSendsConfirmButton(t *testing.T) {
	eng := &fakeEngine{context: engine.Context{ConversationID: "conv-1", TurnCounter: 0}, hasCtx: true}
	recognizer := &fakeRecognizer{transcript: &speech.Transcript{
		Text:       "how do i order coffee",
		Confidence: 0.4,
	}}
	f := newFacebookFixture(eng, recognizer)

	f.handler.handleAudio(context.Background(), "u1", "mid-9", "http://cdn.example/audio.mp4")

	// The transcript is parked; nothing reaches the dialog engine yet.
	assert.Empty(t, f.eng.sentTexts())

	replies := f.adapter.sent()
	require.Len(t, replies, 1)
	require.Len(t, replies[0].Attachments, 1)
	confirm := replies[0].Attachments[0]
	assert.Equal(t, "transcript.conv-1.0", confirm.CallbackID)
	require.Len(t, confirm.Actions, 1)
	assert.Equal(t, "button", confirm.Actions[0].Type)

	// The button press comes back as a postback and replays the parked
	// text as the user's message.
	f.handler.handlePostback(context.Background(), "u1", confirm.CallbackID+"."+confirm.Actions[0].Name)
	assert.Contains(t, f.eng.sentTexts(), "how do i order coffee")
}

func TestHighConfidenceAudioGoesStraightToDialog(t *testing.T) {
	eng := &fakeEngine{context: engine.Context{ConversationID: "conv-1"}, hasCtx: true}
	recognizer := &fakeRecognizer{transcript: &speech.Transcript{
		Text:       "hello there",
		Confidence: 0.95,
	}}
	f := newFacebookFixture(eng, recognizer)

	f.handler.handleAudio(context.Background(), "u1", "mid-9", "http://cdn.example/audio.mp4")

	assert.Contains(t, f.eng.sentTexts(), "hello there")
}

func TestWebhookDeliveryReleasesDeferredReply(t *testing.T) {
	eng := &fakeEngine{context: engine.Context{ConversationID: "conv-1"}, hasCtx: true}
	f := newFacebookFixture(eng, &fakeRecognizer{})

	// A reply sequence is mid-flight with a deferred text part.
	user := f.handler.dispatcher.Registry().FindOrCreate("u1", true)
	require.True(t, user.TryEnter("m1"))
	forward := &engine.Response{
		Text:    []string{"pick one"},
		Context: engine.Context{ConversationID: "conv-1"},
	}
	user.MarkSent("mid-1", forward, time.Minute, nil)

	body := `{
		"object": "page",
		"entry": [{"messaging": [{"sender": {"id": "u1"}, "delivery": {"mids": ["mid-1"]}}]}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/facebook/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	// The confirmation is processed off the request path; the deferred
	// text goes out shortly after the 200.
	assert.Eventually(t, func() bool {
		for _, reply := range f.adapter.sent() {
			if reply.Text == "pick one" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}
