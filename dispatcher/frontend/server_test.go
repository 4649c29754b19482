package frontend

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/obgate/dispatcher/config"
	"github.com/ceyewan/obgate/dispatcher/onebot"
)

func testLogger() clog.Logger { return clog.Discard() }

func startTestServer(t *testing.T, cfg config.Frontend, onFrame OnFrame) (*Server, *httptest.Server, string) {
	t.Helper()
	srv, err := NewServer(cfg, testLogger(), onFrame, func(*Session) {})
	require.NoError(t, err)

	httpSrv := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	t.Cleanup(httpSrv.Close)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	return srv, httpSrv, wsURL
}

func dial(t *testing.T, url string, headers http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, headers)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServer_AcceptsAndClassifiesMessageEvent(t *testing.T) {
	received := make(chan onebot.Kind, 1)
	_, _, url := startTestServer(t, config.Frontend{}, func(sess *Session, frame *onebot.Frame, kind onebot.Kind) {
		received <- kind
	})

	conn := dial(t, url, nil)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"post_type":"message","user_id":1,"raw_message":"hi"}`)))

	select {
	case kind := <-received:
		assert.Equal(t, onebot.KindMessageEvent, kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestServer_RejectsMissingBearerToken(t *testing.T) {
	_, httpSrv, _ := startTestServer(t, config.Frontend{Token: "secret"}, func(*Session, *onebot.Frame, onebot.Kind) {})

	resp, err := http.Get(httpSrv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_AcceptsValidBearerToken(t *testing.T) {
	_, _, url := startTestServer(t, config.Frontend{Token: "secret"}, func(*Session, *onebot.Frame, onebot.Kind) {})

	headers := http.Header{"Authorization": []string{"Bearer secret"}}
	conn := dial(t, url, headers)
	assert.NotNil(t, conn)
}

func TestServer_SendToDeliversToCorrectSession(t *testing.T) {
	srv, _, url := startTestServer(t, config.Frontend{}, func(*Session, *onebot.Frame, onebot.Kind) {})

	conn := dial(t, url, nil)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"post_type":"message","user_id":1}`)))

	var sessionID string
	require.Eventually(t, func() bool {
		srv.mu.RLock()
		defer srv.mu.RUnlock()
		for id := range srv.sessions {
			sessionID = id
			return true
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, srv.SendTo(sessionID, onebot.SyntheticReply("pong", "")))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "pong")
}

func TestServer_SendToUnknownSessionFails(t *testing.T) {
	srv, _, _ := startTestServer(t, config.Frontend{}, func(*Session, *onebot.Frame, onebot.Kind) {})

	err := srv.SendTo("ghost", onebot.SyntheticReply("hi", ""))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestServer_InvokesOnGoneAfterSessionCloses(t *testing.T) {
	gone := make(chan string, 1)
	srv, err := NewServer(config.Frontend{}, testLogger(), func(*Session, *onebot.Frame, onebot.Kind) {},
		func(sess *Session) { gone <- sess.ID() })
	require.NoError(t, err)

	httpSrv := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	defer httpSrv.Close()
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http")

	conn := dial(t, wsURL, nil)
	conn.Close()

	select {
	case <-gone:
	case <-time.After(2 * time.Second):
		t.Fatal("onGone was never invoked")
	}
}

func TestBearerMatches(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer secret")
	assert.True(t, bearerMatches(req, "secret"))
	assert.False(t, bearerMatches(req, "other"))

	req2, _ := http.NewRequest(http.MethodGet, "/", nil)
	assert.False(t, bearerMatches(req2, "secret"))
}
