package fastbreak

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

func TestEndToEndOverWebSocket(t *testing.T) {
	subscribes := make(chan outboundAction, 1)
	pings := make(chan outboundAction, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("session_token") == "" {
			t.Error("missing session_token query parameter")
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()

		// The subscription filter arrives before anything else.
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var sub outboundAction
		if json.Unmarshal(data, &sub) == nil {
			subscribes <- sub
		}

		// Push one event, then probe liveness.
		evt := `{"type":"score_update","data":{"game_id":"g1","home_score":101,"away_score":99}}`
		if err := conn.Write(ctx, websocket.MessageText, []byte(evt)); err != nil {
			return
		}
		if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
			return
		}

		_, data, err = conn.Read(ctx)
		if err != nil {
			return
		}
		var ack outboundAction
		if json.Unmarshal(data, &ack) == nil {
			pings <- ack
		}

		// Hold the connection open until the client disconnects.
		_, _, _ = conn.Read(ctx)
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	defer c.Close()

	scores := make(chan ScoreUpdatePayload, 1)
	c.OnScoreUpdate(func(p ScoreUpdatePayload) { scores <- p })
	c.Subscribe(map[string]string{"team": "LAL"})
	c.Connect()

	select {
	case sub := <-subscribes:
		if sub.Action != actionSubscribe || sub.Filters["team"] != "LAL" {
			t.Fatalf("unexpected subscribe frame: %+v", sub)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for subscribe")
	}

	select {
	case p := <-scores:
		if p.GameID != "g1" || p.HomeScore != 101 || p.AwayScore != 99 {
			t.Fatalf("unexpected score payload: %+v", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for score event")
	}

	select {
	case ack := <-pings:
		if ack.Action != actionPing {
			t.Fatalf("expected ping ack, got %+v", ack)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for ping ack")
	}

	c.Disconnect()
}

func TestEndToEndServerCloseCode(t *testing.T) {
	var dials int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&dials, 1)
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn.Close(websocket.StatusCode(CloseDisabled), "realtime disabled")
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	defer c.Close()

	codes := make(chan CloseCode, 1)
	c.OnDisconnect(func(code CloseCode, reason string) { codes <- code })
	c.Connect()

	select {
	case code := <-codes:
		if code != CloseDisabled {
			t.Fatalf("expected close code %d, got %d", CloseDisabled, code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for close")
	}

	// Feature-disabled closes must not trigger reconnection.
	time.Sleep(100 * time.Millisecond)
	if got := atomic.LoadInt32(&dials); got != 1 {
		t.Fatalf("expected no reconnect after feature-disabled close, got %d dials", got)
	}
}
