package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Rendezvous/internal/app"
	"github.com/dkeye/Rendezvous/internal/core"
	"github.com/dkeye/Rendezvous/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

type wireEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func testOptions() Options {
	return Options{
		ReadLimit:  64 * 1024,
		PingPeriod: time.Second,
		PongWait:   2 * time.Second,
		WriteWait:  time.Second,
		SendBuffer: 16,
	}
}

// startServer runs a gateway bound to a fresh engine behind httptest.
func startServer(t *testing.T, opts Options) (*Gateway, *app.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	g := NewGateway(opts)
	e := app.NewEngine(g)
	Bind(g, e)

	ctx, cancel := context.WithCancel(context.Background())
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { g.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
		e.Close()
	})
	return g, e, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
	id domain.ConnID
}

func dial(t *testing.T, url string) *client {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c := &client{t: t, ws: ws}
	t.Cleanup(func() { _ = ws.Close() })

	ev := c.read()
	if ev.Type != domain.EventConnected {
		t.Fatalf("first event %q, want connected", ev.Type)
	}
	var hello domain.Connected
	c.decode(ev, &hello)
	if hello.ID == "" {
		t.Fatal("empty connection id")
	}
	c.id = hello.ID
	return c
}

func (c *client) emit(event string, data string) {
	c.t.Helper()
	frame := `{"type":"` + event + `"}`
	if data != "" {
		frame = `{"type":"` + event + `","data":` + data + `}`
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *client) read() wireEvent {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	var ev wireEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.t.Fatalf("decode %s: %v", raw, err)
	}
	return ev
}

func (c *client) expect(event string) wireEvent {
	c.t.Helper()
	ev := c.read()
	if ev.Type != event {
		c.t.Fatalf("got %q (%s), want %q", ev.Type, ev.Data, event)
	}
	return ev
}

// expectIdle proves nothing is queued for c: the next event is the pong.
func (c *client) expectIdle() {
	c.t.Helper()
	c.emit(domain.EventPing, "")
	c.expect(domain.EventPong)
}

func (c *client) decode(ev wireEvent, v any) {
	c.t.Helper()
	if err := json.Unmarshal(ev.Data, v); err != nil {
		c.t.Fatalf("decode %s: %v", ev.Data, err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestJoinAndLeaveOverWebsocket(t *testing.T) {
	_, e, url := startServer(t, testOptions())
	a := dial(t, url)
	b := dial(t, url)

	a.emit(domain.EventJoinRoom, `{"name":"A"}`)
	var snapA map[string]json.RawMessage
	a.decode(a.expect(domain.EventExistingUsers), &snapA)
	if len(snapA) != 0 {
		t.Fatalf("A snapshot %v", snapA)
	}

	b.emit(domain.EventJoinRoom, `{"name":"B"}`)
	var snapB map[string]json.RawMessage
	b.decode(b.expect(domain.EventExistingUsers), &snapB)
	if len(snapB) != 1 || string(snapB[string(a.id)]) != `{"name":"A"}` {
		t.Fatalf("B snapshot %v", snapB)
	}

	var joined struct {
		ID   domain.ConnID   `json:"id"`
		User json.RawMessage `json:"user"`
	}
	a.decode(a.expect(domain.EventUserJoined), &joined)
	if joined.ID != b.id || string(joined.User) != `{"name":"B"}` {
		t.Fatalf("user-joined %+v", joined)
	}
	b.expectIdle()

	_ = b.ws.Close()
	var left domain.ConnID
	a.decode(a.expect(domain.EventUserLeft), &left)
	if left != b.id {
		t.Fatalf("user-left %s, want %s", left, b.id)
	}
	a.expectIdle()

	members := e.Members("127.0.0.1")
	if len(members) != 1 || members[a.id] == nil {
		t.Fatalf("room membership %v", members)
	}
}

func TestSignalRelayOverWebsocket(t *testing.T) {
	g, _, url := startServer(t, testOptions())
	a := dial(t, url)
	b := dial(t, url)

	a.emit(domain.EventSignal, `{"to":"`+string(b.id)+`","signal":{"type":"offer"}}`)
	var relay struct {
		From   domain.ConnID   `json:"from"`
		Signal json.RawMessage `json:"signal"`
	}
	b.decode(b.expect(domain.EventSignal), &relay)
	if relay.From != a.id || string(relay.Signal) != `{"type":"offer"}` {
		t.Fatalf("relay %+v", relay)
	}
	b.expectIdle()

	_ = b.ws.Close()
	waitFor(t, func() bool { return g.Len() == 1 })

	a.emit(domain.EventSignal, `{"to":"`+string(b.id)+`","signal":{"type":"offer"}}`)
	a.expectIdle()
}

func TestFalsyJoinAndGarbageAreIgnored(t *testing.T) {
	_, e, url := startServer(t, testOptions())
	a := dial(t, url)
	b := dial(t, url)
	b.emit(domain.EventJoinRoom, `{}`)
	b.expect(domain.EventExistingUsers)

	a.emit(domain.EventJoinRoom, "")
	a.emit(domain.EventJoinRoom, `null`)
	a.emit(domain.EventJoinRoom, `""`)
	a.emit("no-such-event", `1`)
	a.emit(domain.EventSignal, `"not an object"`)
	if err := a.ws.WriteMessage(websocket.TextMessage, []byte("{broken")); err != nil {
		t.Fatal(err)
	}
	a.expectIdle()
	b.expectIdle()

	if len(e.Members("127.0.0.1")) != 1 {
		t.Fatal("falsy join changed membership")
	}
}

func TestQueryRoomKeysIsolateRooms(t *testing.T) {
	opts := testOptions()
	opts.RoomKey = KeyFromQuery
	_, e, url := startServer(t, opts)

	a := dial(t, url+"?room=alpha")
	x := dial(t, url+"?room=beta")
	a.emit(domain.EventJoinRoom, `{"n":1}`)
	a.expect(domain.EventExistingUsers)
	x.emit(domain.EventJoinRoom, `{"n":2}`)
	x.expect(domain.EventExistingUsers)
	a.expectIdle()

	if len(e.Members("alpha")) != 1 || len(e.Members("beta")) != 1 {
		t.Fatal("rooms not isolated")
	}

	resp, err := http.Get(strings.Replace(url, "ws", "http", 1))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing room got %d", resp.StatusCode)
	}
}

func TestShutdownClosesSessions(t *testing.T) {
	g, e, url := startServer(t, testOptions())
	a := dial(t, url)
	a.emit(domain.EventJoinRoom, `{}`)
	a.expect(domain.EventExistingUsers)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if g.Len() != 0 || e.RoomCount() != 0 {
		t.Fatalf("sessions=%d rooms=%d after shutdown", g.Len(), e.RoomCount())
	}
	_ = a.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := a.ws.ReadMessage(); err == nil {
		t.Fatal("connection still open after shutdown")
	}
}

func TestBackpressurePolicy(t *testing.T) {
	for name, tc := range map[string]struct {
		policy     core.Policy
		wantClosed bool
	}{
		"drop": {core.DropPolicy{}, false},
		"kick": {core.KickPolicy{}, true},
	} {
		t.Run(name, func(t *testing.T) {
			g := NewGateway(Options{Policy: tc.policy})
			s := &session{id: "slow", key: "r", conn: newWsSignalConn(nil, 1)}
			g.register(s)
			g.AddToRoom("slow", "r")

			if !g.Send("slow", domain.EventPong, nil) {
				t.Fatal("first frame refused")
			}
			res := g.BroadcastToRoom("r", domain.EventPong, nil, "")
			if res.SendTo != 0 || len(res.Dropped) != 1 {
				t.Fatalf("broadcast result %+v", res)
			}
			if s.conn.isClosed() != tc.wantClosed {
				t.Fatalf("closed = %v", s.conn.isClosed())
			}
		})
	}
}

func TestSendToUnknownIsNoop(t *testing.T) {
	g := NewGateway(Options{})
	if g.Send("ghost", domain.EventPong, nil) {
		t.Fatal("send to unknown connection reported delivery")
	}
	g.AddToRoom("ghost", "r")
	if res := g.BroadcastToRoom("r", domain.EventPong, nil, ""); res.SendTo != 0 {
		t.Fatal("unknown connection joined a group")
	}
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	g, _, url := startServer(t, testOptions())
	g.OnMessage("boom", func(domain.ConnID, []byte) { panic("bad handler") })

	a := dial(t, url)
	a.emit("boom", `1`)
	a.expectIdle()
}

func TestNewGatewayKeepaliveDefaults(t *testing.T) {
	g := NewGateway(Options{})
	if g.opts.PongWait != 60*time.Second || g.opts.PingPeriod != 54*time.Second || g.opts.WriteWait != 10*time.Second {
		t.Fatalf("zero options: ping %s pong %s write %s", g.opts.PingPeriod, g.opts.PongWait, g.opts.WriteWait)
	}
	if g.opts.SendBuffer != 64 {
		t.Fatalf("send buffer %d", g.opts.SendBuffer)
	}

	g = NewGateway(Options{PingPeriod: 5 * time.Second, PongWait: 2 * time.Second})
	if g.opts.PingPeriod >= g.opts.PongWait {
		t.Fatalf("ping %s must stay below pong %s", g.opts.PingPeriod, g.opts.PongWait)
	}
}
