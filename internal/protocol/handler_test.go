package protocol

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmpulse/farmpulse/internal/registry"
)

// testServer upgrades connections and runs a Handler per connection, the way
// the HTTP layer does in production.
func testServer(t *testing.T, reg *registry.Registry) func() *websocket.Conn {
	return testServerWithWait(t, reg, time.Minute)
}

func testServerWithWait(t *testing.T, reg *registry.Registry, pongWait time.Duration) func() *websocket.Conn {
	t.Helper()

	clock := clockwork.NewRealClock()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := registry.NewClient(conn, clock, pongWait)
		handler := NewHandler(reg, client, clock)
		go handler.Run(conn)
	}))
	t.Cleanup(server.Close)

	return func() *websocket.Conn {
		t.Helper()
		url := "ws" + strings.TrimPrefix(server.URL, "http")
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return conn
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func waitForCount(t *testing.T, reg *registry.Registry, userID int64, expected int) {
	t.Helper()
	for _i := 0; _i < 200; _i++ {
		if reg.CountFor(userID) == expected {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("user %d never reached %d connections", userID, expected)
}

func TestHandler_GreetsWithConnected(t *testing.T) {
	reg := registry.NewRegistry(clockwork.NewRealClock(), 0)
	defer reg.Stop()
	dial := testServer(t, reg)

	conn := dial()
	env := readFrame(t, conn)
	assert.Equal(t, TypeConnected, env.Type)
	assert.NotZero(t, env.Timestamp)
}

func TestHandler_SubscribeRegisters(t *testing.T) {
	reg := registry.NewRegistry(clockwork.NewRealClock(), 0)
	defer reg.Stop()
	dial := testServer(t, reg)

	conn := dial()
	readFrame(t, conn) // connected

	sendFrame(t, conn, `{"type":"subscribe","userId":7}`)
	env := readFrame(t, conn)
	assert.Equal(t, TypeSubscribed, env.Type)
	require.NotNil(t, env.UserID)
	assert.Equal(t, int64(7), *env.UserID)
	waitForCount(t, reg, 7, 1)
}

func TestHandler_SubscribeRequiresPositiveUserID(t *testing.T) {
	reg := registry.NewRegistry(clockwork.NewRealClock(), 0)
	defer reg.Stop()
	dial := testServer(t, reg)

	for _, frame := range []string{
		`{"type":"subscribe"}`,
		`{"type":"subscribe","userId":0}`,
		`{"type":"subscribe","userId":-3}`,
	} {
		conn := dial()
		readFrame(t, conn)

		sendFrame(t, conn, frame)
		env := readFrame(t, conn)
		assert.Equal(t, TypeError, env.Type, "frame %s", frame)
	}
	assert.Equal(t, 0, reg.Count())
}

func TestHandler_ResubscribeMovesUser(t *testing.T) {
	reg := registry.NewRegistry(clockwork.NewRealClock(), 0)
	defer reg.Stop()
	dial := testServer(t, reg)

	conn := dial()
	readFrame(t, conn)

	sendFrame(t, conn, `{"type":"subscribe","userId":7}`)
	readFrame(t, conn)
	sendFrame(t, conn, `{"type":"subscribe","userId":9}`)
	env := readFrame(t, conn)

	assert.Equal(t, TypeSubscribed, env.Type)
	require.NotNil(t, env.UserID)
	assert.Equal(t, int64(9), *env.UserID)
	waitForCount(t, reg, 9, 1)
	waitForCount(t, reg, 7, 0)
}

func TestHandler_UnsubscribeKeepsConnectionUsable(t *testing.T) {
	reg := registry.NewRegistry(clockwork.NewRealClock(), 0)
	defer reg.Stop()
	dial := testServer(t, reg)

	conn := dial()
	readFrame(t, conn)

	sendFrame(t, conn, `{"type":"subscribe","userId":7}`)
	readFrame(t, conn)

	sendFrame(t, conn, `{"type":"unsubscribe"}`)
	env := readFrame(t, conn)
	assert.Equal(t, TypeUnsubscribed, env.Type)
	waitForCount(t, reg, 7, 0)

	// The connection is still open and can subscribe again.
	sendFrame(t, conn, `{"type":"subscribe","userId":7}`)
	env = readFrame(t, conn)
	assert.Equal(t, TypeSubscribed, env.Type)
	waitForCount(t, reg, 7, 1)
}

func TestHandler_UnsubscribeWithoutSubscription(t *testing.T) {
	reg := registry.NewRegistry(clockwork.NewRealClock(), 0)
	defer reg.Stop()
	dial := testServer(t, reg)

	conn := dial()
	readFrame(t, conn)

	sendFrame(t, conn, `{"type":"unsubscribe"}`)
	env := readFrame(t, conn)
	assert.Equal(t, TypeError, env.Type)
}

func TestHandler_PingPong(t *testing.T) {
	reg := registry.NewRegistry(clockwork.NewRealClock(), 0)
	defer reg.Stop()
	dial := testServer(t, reg)

	conn := dial()
	readFrame(t, conn)

	sendFrame(t, conn, `{"type":"ping"}`)
	env := readFrame(t, conn)
	assert.Equal(t, TypePong, env.Type)
}

func TestHandler_PingKeepsUnsubscribedConnectionAlive(t *testing.T) {
	reg := registry.NewRegistry(clockwork.NewRealClock(), 0)
	defer reg.Stop()
	dial := testServerWithWait(t, reg, 400*time.Millisecond)

	conn := dial()
	readFrame(t, conn)

	// Ping for several multiples of the read-deadline window without ever
	// subscribing; the deadline must follow the JSON pings.
	stop := time.Now().Add(1200 * time.Millisecond)
	for time.Now().Before(stop) {
		sendFrame(t, conn, `{"type":"ping"}`)
		env := readFrame(t, conn)
		require.Equal(t, TypePong, env.Type)
		time.Sleep(100 * time.Millisecond)
	}

	// The connection is still open and can subscribe.
	sendFrame(t, conn, `{"type":"subscribe","userId":7}`)
	env := readFrame(t, conn)
	assert.Equal(t, TypeSubscribed, env.Type)
	waitForCount(t, reg, 7, 1)
}

func TestHandler_SubscribeAfterShutdownClosesConnection(t *testing.T) {
	reg := registry.NewRegistry(clockwork.NewRealClock(), 0)
	dial := testServer(t, reg)

	conn := dial()
	readFrame(t, conn)

	reg.Stop()

	// Registration cannot succeed anymore, so the server must drop the
	// transport rather than leave the socket dangling.
	sendFrame(t, conn, `{"type":"subscribe","userId":7}`)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestHandler_MalformedMessageDoesNotChangeState(t *testing.T) {
	reg := registry.NewRegistry(clockwork.NewRealClock(), 0)
	defer reg.Stop()
	dial := testServer(t, reg)

	conn := dial()
	readFrame(t, conn)

	sendFrame(t, conn, `{"type":"subscribe","userId":7}`)
	readFrame(t, conn)

	for _, frame := range []string{
		`not json at all`,
		`{"type":"launch_missiles"}`,
	} {
		sendFrame(t, conn, frame)
		env := readFrame(t, conn)
		assert.Equal(t, TypeError, env.Type, "frame %s", frame)
		var payload ErrorData
		require.NoError(t, json.Unmarshal(env.Data, &payload))
		assert.NotEmpty(t, payload.Message)
	}

	// Still subscribed.
	assert.Equal(t, 1, reg.CountFor(7))
}

func TestHandler_TransportCloseUnregisters(t *testing.T) {
	reg := registry.NewRegistry(clockwork.NewRealClock(), 0)
	defer reg.Stop()
	dial := testServer(t, reg)

	conn := dial()
	readFrame(t, conn)
	sendFrame(t, conn, `{"type":"subscribe","userId":7}`)
	readFrame(t, conn)
	waitForCount(t, reg, 7, 1)

	conn.Close()
	waitForCount(t, reg, 7, 0)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "subscribed", StateSubscribed.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, fmt.Sprintf("state(%d)", 99), State(99).String())
}
