package link

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocket_Messages(t *testing.T) {
	w := NewWebSocket(16)
	srv := httptest.NewServer(w.Handler())
	defer srv.Close()
	defer w.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return w.Clients() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{byte(ChannelMode), 1}))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ignored")))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0xEE, 1}))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{byte(ChannelUpload), 0x04}))

	var got []Message
	require.Eventually(t, func() bool {
		if m, ok := w.Poll(); ok {
			got = append(got, m)
		}
		return len(got) == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, Message{Channel: ChannelMode, Payload: []byte{1}}, got[0])
	assert.Equal(t, Message{Channel: ChannelUpload, Payload: []byte{0x04}}, got[1])

	require.NoError(t, w.Notify(ChannelStatus, []byte{1, 50, 1, 0}))
	conn.SetReadDeadline(time.Now().Add(time.Second))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, []byte{byte(ChannelStatus), 1, 50, 1, 0}, data)
}

func TestWebSocket_Status(t *testing.T) {
	w := NewWebSocket(4)
	srv := httptest.NewServer(w.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	w.SetStatusFunc(func() any { return map[string]int{"classes": 3} })
	resp, err = http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 3, body["classes"])

	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Notify(ChannelStatus, nil), ErrClosed)
}
