package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/catalog"
	"github.com/roach88/offsync/internal/devserver"
	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/state"
	"github.com/roach88/offsync/internal/testutil"
)

type fixture struct {
	engine *engine.Engine
	dash   *Server
	url    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st := state.NewStore()
	st.Register(state.NewTodosSlice(), true)
	e := engine.New(devserver.New(devserver.WithLogger(logger)), st,
		engine.WithLogger(logger),
	)

	dash := New(e, WithLogger(logger), WithClock(func() time.Time { return testutil.Epoch }))
	srv := httptest.NewServer(dash.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = dash.Stop(ctx)
	})

	return &fixture{engine: e, dash: dash, url: srv.URL}
}

func (f *fixture) dial(t *testing.T, ctx context.Context) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.url, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func (f *fixture) dispatchAdd(t *testing.T, clientID, title string) {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	action, err := cat.Build(ir.NewAction(state.AddTodo, ir.Obj(
		ir.O(ir.KeyClientID, ir.IRString(clientID)),
		ir.O("title", ir.IRString(title)),
	)))
	require.NoError(t, err)
	require.NoError(t, f.engine.Dispatch(action))
	f.engine.Flush(context.Background())
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func readNotification(t *testing.T, ctx context.Context, conn *websocket.Conn) engine.Notification {
	t.Helper()
	msg := readMessage(t, ctx, conn)
	require.Equal(t, MessageTypeNotification, msg.Type)

	var n engine.Notification
	require.NoError(t, json.Unmarshal(msg.Data, &n))
	return n
}

func TestDashboard_SnapshotIsFirstFrame(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f.dispatchAdd(t, "c1", "milk")
	conn := f.dial(t, ctx)

	msg := readMessage(t, ctx, conn)
	assert.Equal(t, MessageTypeSnapshot, msg.Type)
	assert.True(t, testutil.Epoch.Equal(msg.Timestamp))

	var snap Snapshot
	require.NoError(t, json.Unmarshal(msg.Data, &snap))
	assert.Equal(t, ir.NetworkState{Online: true, Ready: false}, snap.Network)
	assert.Equal(t, ir.StatusIdle, snap.Status.Status)
	require.Len(t, snap.Queue, 1)
	assert.Equal(t, state.AddTodo, snap.Queue[0].Kind)
	assert.Equal(t, int64(1), snap.Queue[0].Seq)
}

func TestDashboard_BroadcastsNotifications(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := f.dial(t, ctx)
	readMessage(t, ctx, conn) // snapshot
	require.Eventually(t, func() bool { return f.dash.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	f.dispatchAdd(t, "c1", "milk")
	n := readNotification(t, ctx, conn)
	assert.Equal(t, engine.NotifyQueue, n.Kind)
	assert.Equal(t, 1, n.QueueLen)

	f.engine.Monitor().MarkReady()
	f.engine.Flush(context.Background())

	n = readNotification(t, ctx, conn)
	assert.Equal(t, engine.NotifyNetwork, n.Kind)
	require.NotNil(t, n.Network)
	assert.True(t, n.Network.Ready)

	var sent *engine.Notification
	for sent == nil {
		n := readNotification(t, ctx, conn)
		if n.Kind == engine.NotifySent {
			sent = &n
		}
	}
	require.NotNil(t, sent.Operation)
	assert.Equal(t, state.AddTodo, sent.Operation.Kind)
	assert.Equal(t, 0, sent.QueueLen)
}

func TestDashboard_MultipleClients(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = f.dial(t, ctx)
		readMessage(t, ctx, conns[i])
	}
	require.Eventually(t, func() bool { return f.dash.ClientCount() == 3 }, time.Second, 10*time.Millisecond)

	f.engine.Monitor().SetOnline(false)
	f.engine.Flush(context.Background())

	for _, conn := range conns {
		n := readNotification(t, ctx, conn)
		assert.Equal(t, engine.NotifyNetwork, n.Kind)
		assert.False(t, n.Network.Online)
	}
}

func TestDashboard_ClientDisconnect(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := f.dial(t, ctx)
	readMessage(t, ctx, conn)
	require.Eventually(t, func() bool { return f.dash.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	assert.Eventually(t, func() bool { return f.dash.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestDashboard_StatusEndpoint(t *testing.T) {
	f := newFixture(t)
	f.dispatchAdd(t, "c1", "milk")
	f.dispatchAdd(t, "c2", "eggs")

	resp, err := http.Get(f.url + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Len(t, snap.Queue, 2)
	assert.Equal(t, []int64{1, 2}, []int64{snap.Queue[0].Seq, snap.Queue[1].Seq})
}

func TestDashboard_Health(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.url + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["clients"])
}

func TestDashboard_StartStop(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := state.NewStore()
	e := engine.New(devserver.New(devserver.WithLogger(logger)), st, engine.WithLogger(logger))

	dash := New(e, WithLogger(logger))
	assert.Empty(t, dash.Addr())
	require.NoError(t, dash.Start("127.0.0.1:0"))
	assert.NotEmpty(t, dash.Addr())

	resp, err := http.Get("http://" + dash.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, dash.Stop(ctx))
}
