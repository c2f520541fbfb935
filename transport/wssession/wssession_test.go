package wssession

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/mcpgateway/fedcore/upstream"
)

// echoServer replies to every wireRequest with a wireResponse that
// echoes its ID and a fixed result, enough to exercise the
// request/response correlation path.
func echoServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req struct {
				ID     string `json:"id"`
				Params any    `json:"params"`
			}
			if err := json.Unmarshal(data, &req); err != nil {
				continue
			}
			result, _ := json.Marshal(map[string]string{"echo": "pong"})
			resp, _ := json.Marshal(map[string]any{"id": req.ID, "result": json.RawMessage(result)})
			if err := conn.WriteMessage(websocket.TextMessage, resp); err != nil {
				return
			}
		}
	}))
}

func TestInvokeCorrelatesRequestAndResponse(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	f := NewFactory(Config{DialTimeout: time.Second})
	sess, err := f.Create(context.Background(), upstream.Ref{ID: "ws-a", Target: wsURL})
	require.NoError(t, err)
	defer sess.Close()

	resp, err := sess.Invoke(context.Background(), map[string]string{"op": "ping"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"echo": "pong"}, resp)
}

func TestInvokeReturnsErrorWhenContextCancelled(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	f := NewFactory(Config{DialTimeout: time.Second})
	sess, err := f.Create(context.Background(), upstream.Ref{ID: "ws-b", Target: wsURL})
	require.NoError(t, err)
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sess.Invoke(ctx, map[string]string{"op": "ping"})
	require.Error(t, err)
}
