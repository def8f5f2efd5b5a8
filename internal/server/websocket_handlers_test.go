package server

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"quizthread/internal/identity"
	"quizthread/internal/service"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T, ts *testServer) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = ts.app.Listener(ln) }()
	t.Cleanup(func() { _ = ts.app.Shutdown() })
	return ln.Addr().String()
}

func readLive(t *testing.T, conn *websocket.Conn) LiveMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg LiveMessage
	require.NoError(t, json.Unmarshal(payload, &msg))
	return msg
}

func TestLiveThreadHandler_StreamsViews(t *testing.T) {
	ts := newTestServer(t)
	svc := service.NewCommentService(ts.store)
	_, err := svc.Create(context.Background(), service.CreateCommentInput{
		ThreadKey: "T1", Content: "first", Author: identity.Authenticated("u1", "Ana"),
	})
	require.NoError(t, err)

	addr := listen(t, ts)
	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/threads/T1/live", nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = conn.Close() }()

	initial := readLive(t, conn)
	assert.Equal(t, "thread", initial.Type)
	assert.Equal(t, "T1", initial.ThreadKey)
	assert.Equal(t, service.SourceLive, initial.Source)
	assert.Equal(t, 1, initial.Count)
	assert.Empty(t, initial.Error)

	_, err = svc.Create(context.Background(), service.CreateCommentInput{
		ThreadKey: "T1", Content: "second", Author: identity.Authenticated("u2", "Ben"),
	})
	require.NoError(t, err)
	update := readLive(t, conn)
	assert.Equal(t, service.SourceLive, update.Source)
	assert.Equal(t, 2, update.Count)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "refresh"}))
	refreshed := readLive(t, conn)
	assert.Equal(t, service.SourceRefresh, refreshed.Source)
	assert.Equal(t, 2, refreshed.Count)
}

func TestLiveThreadHandler_IgnoresUnknownMessages(t *testing.T) {
	ts := newTestServer(t)
	addr := listen(t, ts)
	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/threads/empty/live", nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = conn.Close() }()

	initial := readLive(t, conn)
	assert.Zero(t, initial.Count)
	assert.NotNil(t, initial.Comments)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "dance"}))
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "refresh"}))
	assert.Equal(t, service.SourceRefresh, readLive(t, conn).Source)
}
