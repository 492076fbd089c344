package observer

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
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"settlecraft.ai/internal/observerproto"
	"settlecraft.ai/internal/sim/geom"
	"settlecraft.ai/internal/sim/settlement"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct{}

func (fakeSource) Now() uint64 { return 42 }

func (fakeSource) Stations() []settlement.StationView {
	return []settlement.StationView{{Pos: geom.Vec3i{X: 1, Y: 64, Z: 2}, Blueprint: "starter_hut", AgentID: "a-1", Cursor: 3, Total: 40}}
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(fakeSource{}, "overworld", zaptest.NewLogger(t))
	mux := http.NewServeMux()
	mux.HandleFunc("/observer/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/observer/ws", s.WSHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return s, srv
}

func dial(t *testing.T, s *Server, srv *httptest.Server, sub observerproto.SubscribeMsg) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	before := s.Sessions()
	require.NoError(t, conn.WriteJSON(sub))
	require.Eventually(t, func() bool { return s.Sessions() == before+1 }, 2*time.Second, 5*time.Millisecond)
	t.Cleanup(func() {
		conn.Close()
		require.Eventually(t, func() bool { return s.Sessions() == 0 }, 2*time.Second, 5*time.Millisecond)
	})
	return conn
}

func subscribe(x, y, z int, stations bool) observerproto.SubscribeMsg {
	return observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		Pos:             [3]int{x, y, z},
		Stations:        stations,
	}
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(v))
}

func TestNoticeReachesOnlyNearbyObservers(t *testing.T) {
	s, srv := newTestServer(t)
	conn := dial(t, s, srv, subscribe(0, 64, 0, false))

	s.NotifyNearby(geom.Vec3i{X: 500, Y: 64, Z: 0}, 32, "far away")
	s.NotifyNearby(geom.Vec3i{X: 10, Y: 64, Z: 0}, 32, "Builder a-1 needs GLASS")

	var got observerproto.NoticeMsg
	readJSON(t, conn, &got)
	assert.Equal(t, observerproto.NoticeMsg{
		Type:            observerproto.TypeNotice,
		ProtocolVersion: observerproto.Version,
		Origin:          [3]int{10, 64, 0},
		Text:            "Builder a-1 needs GLASS",
	}, got)
}

func TestResubscribeMovesObserver(t *testing.T) {
	s, srv := newTestServer(t)
	conn := dial(t, s, srv, subscribe(0, 64, 0, false))

	require.NoError(t, conn.WriteJSON(subscribe(1000, 64, 0, false)))
	require.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		for _, ss := range s.sessions {
			return ss.pos.X == 1000
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	s.NotifyNearby(geom.Vec3i{X: 1000, Y: 64, Z: 5}, 16, "moved")
	var got observerproto.NoticeMsg
	readJSON(t, conn, &got)
	assert.Equal(t, "moved", got.Text)
}

func TestPublishStationsOnlyToSubscribers(t *testing.T) {
	s, srv := newTestServer(t)
	conn := dial(t, s, srv, subscribe(0, 64, 0, true))

	s.PublishStations(99)
	var got observerproto.StationsMsg
	readJSON(t, conn, &got)
	assert.Equal(t, uint64(99), got.Tick)
	require.Len(t, got.Stations, 1)
	assert.Equal(t, observerproto.StationInfo{Pos: [3]int{1, 64, 2}, Blueprint: "starter_hut", AgentID: "a-1", Cursor: 3, Total: 40}, got.Stations[0])
}

func TestSlowObserverDropsInsteadOfBlocking(t *testing.T) {
	s := NewServer(fakeSource{}, "overworld", zaptest.NewLogger(t))
	ss := &session{id: "O1", out: make(chan []byte, 1)}
	s.sessions[ss.id] = ss

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			s.NotifyNearby(geom.Vec3i{}, 8, "hello")
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("NotifyNearby blocked")
	}
	assert.Equal(t, uint64(4), s.Dropped())
}

func TestBadHandshakeIsClosed(t *testing.T) {
	s, srv := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "HELLO"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	assert.Zero(t, s.Sessions())
}

func TestBootstrap(t *testing.T) {
	_, srv := newTestServer(t)
	resp, err := srv.Client().Get(srv.URL + "/observer/bootstrap")
	require.NoError(t, err)
	defer resp.Body.Close()

	var got observerproto.BootstrapResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "overworld", got.Dimension)
	assert.Equal(t, uint64(42), got.Tick)
	assert.Len(t, got.Stations, 1)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/observer/bootstrap", nil)
	resp2, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}

func TestIsLoopbackRemote(t *testing.T) {
	assert.True(t, isLoopbackRemote("127.0.0.1:5555"))
	assert.True(t, isLoopbackRemote("[::1]:5555"))
	assert.False(t, isLoopbackRemote("10.0.0.2:5555"))
	assert.False(t, isLoopbackRemote("garbage"))
}
