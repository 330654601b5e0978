package wshub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

type fakeChatHandler struct {
	lastSessionID string
	lastText      string
}

func (f *fakeChatHandler) HandleChat(ctx context.Context, sessionID, text string, contextPatch map[string]any) (map[string]any, error) {
	f.lastSessionID = sessionID
	f.lastText = text
	return map[string]any{"response": "ok: " + text}, nil
}

type fakeStatsHandler struct{}

func (f *fakeStatsHandler) Stats(ctx context.Context, sessionID string) (map[string]any, error) {
	return map[string]any{"message_count": 3}, nil
}

func setupTestHub(t *testing.T, chat ChatHandler, stats StatsHandler, sessionID string) (*Hub, *httptest.Server) {
	t.Helper()
	hub := New(chat, stats)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			t.Logf("accept error: %v", err)
			return
		}
		hub.HandleConnection(r.Context(), conn, sessionID)
	}))
	t.Cleanup(server.Close)
	return hub, server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestHandleConnection_SendsConnectedFrame(t *testing.T) {
	_, server := setupTestHub(t, &fakeChatHandler{}, &fakeStatsHandler{}, "s1")
	conn := dial(t, server)

	msg := readJSON(t, conn)
	require.Equal(t, "connected", msg["type"])
	require.Equal(t, "s1", msg["session_id"])
}

func TestHandleConnection_ChatRoutesToHandler(t *testing.T) {
	chat := &fakeChatHandler{}
	_, server := setupTestHub(t, chat, &fakeStatsHandler{}, "s1")
	conn := dial(t, server)
	_ = readJSON(t, conn) // connected

	writeJSON(t, conn, map[string]any{"type": "chat", "message": "hello"})
	resp := readJSON(t, conn)
	require.Equal(t, "chat_response", resp["type"])
	require.Equal(t, "s1", chat.lastSessionID)
	require.Equal(t, "hello", chat.lastText)
}

func TestHandleConnection_Ping(t *testing.T) {
	_, server := setupTestHub(t, &fakeChatHandler{}, &fakeStatsHandler{}, "s1")
	conn := dial(t, server)
	_ = readJSON(t, conn) // connected

	writeJSON(t, conn, map[string]any{"type": "ping"})
	resp := readJSON(t, conn)
	require.Equal(t, "pong", resp["type"])
}

func TestHandleConnection_GetStatus(t *testing.T) {
	_, server := setupTestHub(t, &fakeChatHandler{}, &fakeStatsHandler{}, "s1")
	conn := dial(t, server)
	_ = readJSON(t, conn) // connected

	writeJSON(t, conn, map[string]any{"type": "get_status"})
	resp := readJSON(t, conn)
	require.Equal(t, "status", resp["type"])
}

func TestHandleConnection_MalformedJSON_DoesNotDisconnect(t *testing.T) {
	_, server := setupTestHub(t, &fakeChatHandler{}, &fakeStatsHandler{}, "s1")
	conn := dial(t, server)
	_ = readJSON(t, conn) // connected

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("not json{{")))

	resp := readJSON(t, conn)
	require.Equal(t, "error", resp["type"])
	require.Equal(t, "Invalid JSON format", resp["message"])

	// The connection is still alive: ping still works afterward.
	writeJSON(t, conn, map[string]any{"type": "ping"})
	resp = readJSON(t, conn)
	require.Equal(t, "pong", resp["type"])
}

func TestSendToSession_DeliversToAllConnections(t *testing.T) {
	hub, server := setupTestHub(t, &fakeChatHandler{}, &fakeStatsHandler{}, "s1")
	conn1 := dial(t, server)
	conn2 := dial(t, server)
	_ = readJSON(t, conn1)
	_ = readJSON(t, conn2)

	require.Eventually(t, func() bool { return hub.ActiveConnections("s1") == 2 }, time.Second, 10*time.Millisecond)

	err := hub.SendToSession(context.Background(), "s1", map[string]any{"type": "progress", "data": map[string]any{"progress": 0.5}})
	require.NoError(t, err)

	msg1 := readJSON(t, conn1)
	msg2 := readJSON(t, conn2)
	require.Equal(t, "progress", msg1["type"])
	require.Equal(t, "progress", msg2["type"])
}

func TestDisconnect_RemovesFromSet(t *testing.T) {
	hub, server := setupTestHub(t, &fakeChatHandler{}, &fakeStatsHandler{}, "s1")
	conn := dial(t, server)
	_ = readJSON(t, conn)
	require.Eventually(t, func() bool { return hub.ActiveConnections("s1") == 1 }, time.Second, 10*time.Millisecond)

	conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return hub.ActiveConnections("s1") == 0 }, time.Second, 10*time.Millisecond)
}
