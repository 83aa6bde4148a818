package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/killallgit/strand/pkg/api"
	"github.com/killallgit/strand/pkg/approval"
	"github.com/killallgit/strand/pkg/conversation"
	"github.com/killallgit/strand/pkg/events"
	"github.com/killallgit/strand/pkg/provider"
	"github.com/killallgit/strand/pkg/pubsub"
	"github.com/killallgit/strand/pkg/runner"
	"github.com/killallgit/strand/pkg/store"
)

// instantClient answers every round immediately with a fixed reply.
type instantClient struct{}

func (instantClient) StreamRound(ctx context.Context, msgs []provider.Message, opts provider.RoundOptions, onDelta func(delta string) error) (*provider.RoundResult, error) {
	if err := onDelta("Hi!"); err != nil {
		return nil, err
	}
	return &provider.RoundResult{Content: "Hi!"}, nil
}

func newTestServer(t *testing.T) (*api.Server, *store.SQLiteStore) {
	t.Helper()

	broker := pubsub.NewBroker()
	st, err := store.NewSQLiteStore(":memory:", broker)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	approvals := approval.NewRegistry()
	r := runner.New(st, instantClient{}, nil, approvals, nil, runner.Options{Model: "test-model"})
	return api.NewServer(st, r, approvals, broker, nil), st
}

func doJSON(t *testing.T, s *api.Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func createdStreamID(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var conv conversation.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	require.NotEmpty(t, conv.StreamID)
	return conv.StreamID
}

// waitIdle polls until the stream's log ends in a terminal turn event, then
// returns the projected conversation.
func waitIdle(t *testing.T, st *store.SQLiteStore, streamID string) conversation.Conversation {
	t.Helper()

	ctx := context.Background()
	require.Eventually(t, func() bool {
		log, err := st.GetEvents(ctx, streamID, 0)
		if err != nil || len(log) == 0 {
			return false
		}
		last := log[len(log)-1].Type
		return last == events.TypeAssistantStreamCompleted || last == events.TypeAssistantStreamFailed
	}, 3*time.Second, 10*time.Millisecond)

	conv, err := st.GetConversation(ctx, streamID)
	require.NoError(t, err)
	return conv
}

func TestCreateConversation(t *testing.T) {
	s, st := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/conversations", `{"content":"hello","user_id":"u1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var conv conversation.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, "u1", conv.UserID)
	require.NotEmpty(t, conv.Messages)
	assert.Equal(t, "hello", conv.Messages[0].Content)

	settled := waitIdle(t, st, conv.StreamID)
	assert.Equal(t, conversation.StatusIdle, settled.Status)
	require.Len(t, settled.Messages, 2)
	assert.Equal(t, "Hi!", settled.Messages[1].Content)
}

func TestCreateConversationEmptyContent(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/conversations", `{"content":"  "}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSendMessageAppends(t *testing.T) {
	s, st := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/conversations", `{"content":"first"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var conv conversation.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	waitIdle(t, st, conv.StreamID)

	rec = doJSON(t, s, http.MethodPost, "/api/conversations/"+conv.StreamID+"/messages", `{"content":"second"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	settled := waitIdle(t, st, conv.StreamID)
	assert.Len(t, settled.Messages, 4)
}

func TestGetConversation(t *testing.T) {
	s, st := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/conversations", `{"content":"hello"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created conversation.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	waitIdle(t, st, created.StreamID)

	rec = doJSON(t, s, http.MethodGet, "/api/conversations/"+created.StreamID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got conversation.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, created.ID, got.ID)
}

func TestGetConversationNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/conversations/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListConversations(t *testing.T) {
	s, st := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = doJSON(t, s, http.MethodPost, "/api/conversations", `{"content":"hello"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var conv conversation.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	waitIdle(t, st, conv.StreamID)

	rec = doJSON(t, s, http.MethodGet, "/api/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []conversation.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestEditMessage(t *testing.T) {
	s, st := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/conversations", `{"content":"original"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var conv conversation.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	messageID := conv.Messages[0].ID
	waitIdle(t, st, conv.StreamID)

	rec = doJSON(t, s, http.MethodPut, "/api/conversations/"+conv.StreamID+"/messages/"+messageID, `{"content":"edited"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	settled := waitIdle(t, st, conv.StreamID)
	require.Len(t, settled.Messages, 2)
	assert.Equal(t, "edited", settled.Messages[0].Content)
}

func TestEditUnknownMessage(t *testing.T) {
	s, st := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/conversations", `{"content":"hello"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var conv conversation.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	waitIdle(t, st, conv.StreamID)

	rec = doJSON(t, s, http.MethodPut, "/api/conversations/"+conv.StreamID+"/messages/missing", `{"content":"edited"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPendingToolCallsEmpty(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/tool-calls/pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"pending":[]}`, rec.Body.String())
}

func TestDecideUnknownToolCall(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/tool-calls/nope/decision", `{"approved":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngestWithoutRetriever(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/documents", `{"documents":[{"id":"d1","content":"x"}]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCancelUnknownConversation(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/conversations/nope/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
