package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"tradesee/core/events"
	"tradesee/core/tx"
	"tradesee/core/types"
	"tradesee/crypto"
	"tradesee/native/escrow"
	"tradesee/rpc/middleware"
)

type rawEvent struct{ evt *types.Event }

func (r rawEvent) EventType() string   { return r.evt.Type }
func (r rawEvent) Event() *types.Event { return r.evt }

var _ events.Event = rawEvent{}

func contractEvent(kind, contract string) rawEvent {
	return rawEvent{evt: &types.Event{Type: kind, Attributes: map[string]string{"contract": contract}}}
}

func TestEventHubFilters(t *testing.T) {
	hub := NewEventHub()
	all, cancelAll := hub.Subscribe(StreamFilter{})
	defer cancelAll()
	byContract, cancelContract := hub.Subscribe(StreamFilter{Contract: "tseec1a"})
	defer cancelContract()
	byType, cancelType := hub.Subscribe(StreamFilter{Type: escrow.EventTypeRefunded})
	defer cancelType()

	hub.Emit(contractEvent(escrow.EventTypePayinDeposited, "tseec1a"))
	hub.Emit(contractEvent(escrow.EventTypeRefunded, "tseec1b"))

	require.Len(t, all, 2)
	require.Len(t, byContract, 1)
	require.Equal(t, escrow.EventTypePayinDeposited, (<-byContract).Type)
	require.Len(t, byType, 1)
	require.Equal(t, "tseec1b", (<-byType).Attr("contract"))
}

func TestEventHubDeliversCopies(t *testing.T) {
	hub := NewEventHub()
	ch, cancel := hub.Subscribe(StreamFilter{})
	defer cancel()
	evt := contractEvent(escrow.EventTypeRefunded, "tseec1a")
	hub.Emit(evt)
	evt.evt.Attributes["contract"] = "mutated"
	require.Equal(t, "tseec1a", (<-ch).Attr("contract"))
}

func TestEventHubDropsSlowSubscriber(t *testing.T) {
	hub := NewEventHub()
	ch, cancel := hub.Subscribe(StreamFilter{})
	defer cancel()
	for i := 0; i <= subscriberBuffer; i++ {
		hub.Emit(contractEvent(escrow.EventTypeRefunded, "tseec1a"))
	}
	require.Equal(t, 0, hub.Subscribers())
	drained := 0
	for range ch {
		drained++
	}
	require.Equal(t, subscriberBuffer, drained)
}

func TestEventHubCancelClosesChannel(t *testing.T) {
	hub := NewEventHub()
	ch, cancel := hub.Subscribe(StreamFilter{})
	require.Equal(t, 1, hub.Subscribers())
	cancel()
	cancel()
	_, ok := <-ch
	require.False(t, ok)
	require.Equal(t, 0, hub.Subscribers())
}

func readStream(t *testing.T, ctx context.Context, conn *websocket.Conn) streamMessage {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg streamMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestEventStreamBacklogAndLive(t *testing.T) {
	env := newTestEnv(t, middleware.AuthConfig{})
	initIn := initializeInstruction(t, env, 1, false)
	contract := initIn.Contract
	_, resp := call(t, env.srv, "", "escrow_submit", signed(t, env.buyer, initIn))
	require.Nil(t, resp.Error)

	ts := httptest.NewServer(env.srv)
	defer ts.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events?cursor=0&contract=" + crypto.FormatContract(contract)
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	backlog := readStream(t, ctx, conn)
	require.Equal(t, escrow.EventTypeContractInitialized, backlog.Type)
	require.EqualValues(t, 1, backlog.Sequence)
	require.Equal(t, crypto.FormatContract(contract), backlog.Contract)

	deposit, err := tx.NewDeposit(2, contract, testMint, 600)
	require.NoError(t, err)
	_, resp = call(t, env.srv, "", "escrow_submit", signed(t, env.buyer, deposit))
	require.Nil(t, resp.Error)

	live := readStream(t, ctx, conn)
	require.Equal(t, escrow.EventTypePayinDeposited, live.Type)
	require.Zero(t, live.Sequence)
	require.Equal(t, "600", live.Attributes["amount"])
}

func TestEventStreamRejectsBadCursor(t *testing.T) {
	env := newTestEnv(t, middleware.AuthConfig{})
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/events?cursor=-4", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventStreamPagesFullBacklog(t *testing.T) {
	env := newTestEnv(t, middleware.AuthConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	total := wsBacklogPage + 100
	for i := 0; i < total; i++ {
		_, err := env.index.Append(ctx, &types.Event{Type: escrow.EventTypeTrustScoreAnchored, Attributes: map[string]string{"score": "1"}})
		require.NoError(t, err)
	}

	ts := httptest.NewServer(env.srv)
	defer ts.Close()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/events?cursor=0", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var last int64
	for i := 0; i < total; i++ {
		msg := readStream(t, ctx, conn)
		require.Equal(t, last+1, msg.Sequence)
		last = msg.Sequence
	}
	require.EqualValues(t, total, last)
}

func TestEventStreamOrigins(t *testing.T) {
	env := newTestEnv(t, middleware.AuthConfig{})
	ts := httptest.NewServer(env.srv)
	defer ts.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"

	foreign := &websocket.DialOptions{HTTPHeader: http.Header{"Origin": {"https://evil.example"}}}
	_, resp, err := websocket.Dial(ctx, url, foreign)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	same := &websocket.DialOptions{HTTPHeader: http.Header{"Origin": {ts.URL}}}
	conn, _, err := websocket.Dial(ctx, url, same)
	require.NoError(t, err)
	conn.Close(websocket.StatusNormalClosure, "")
}

func TestWSOriginPatterns(t *testing.T) {
	require.Nil(t, wsOriginPatterns(nil))
	require.Nil(t, wsOriginPatterns([]string{" "}))
	require.Equal(t, []string{"app.example:8443", "*"}, wsOriginPatterns([]string{"https://app.example:8443", "*"}))
	require.Equal(t, []string{"*.example"}, wsOriginPatterns([]string{"*.example"}))
}
