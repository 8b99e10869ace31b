package repmgrd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// fakeDaemon serves the request/response contract this package's Client
// dials against, tracking pause state and the last notified primary so
// tests can assert on the sequence of calls a caller made.
type fakeDaemon struct {
	paused         bool
	lastNotifyID   int
	refuseRequests bool
}

func (d *fakeDaemon) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	_, raw, err := conn.Read(ctx)
	if err != nil {
		return
	}
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}

	var resp response
	switch {
	case d.refuseRequests:
		resp = response{OK: false, Error: "daemon busy"}
	default:
		switch req.Action {
		case "status":
			resp = response{OK: true, Paused: d.paused}
		case "pause":
			d.paused = true
			resp = response{OK: true, Paused: true}
		case "unpause":
			d.paused = false
			resp = response{OK: true, Paused: false}
		case "notify_follow_primary":
			d.lastNotifyID = req.NewPrimaryID
			resp = response{OK: true}
		default:
			resp = response{OK: false, Error: "unknown action"}
		}
	}

	data, _ := json.Marshal(resp)
	_ = conn.Write(ctx, websocket.MessageText, data)
}

func newTestServer(t *testing.T, d *fakeDaemon) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(d.handler))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestPauseReportsAlreadyPaused(t *testing.T) {
	d := &fakeDaemon{paused: true}
	c := Client{Addr: newTestServer(t, d), Timeout: 2 * time.Second}

	alreadyPaused, err := c.Pause(context.Background())
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if !alreadyPaused {
		t.Error("expected alreadyPaused=true when daemon was already paused")
	}
}

func TestPauseThenUnpauseRoundTrip(t *testing.T) {
	d := &fakeDaemon{}
	c := Client{Addr: newTestServer(t, d), Timeout: 2 * time.Second}
	ctx := context.Background()

	alreadyPaused, err := c.Pause(ctx)
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if alreadyPaused {
		t.Error("expected alreadyPaused=false for a fresh daemon")
	}

	paused, err := c.Paused(ctx)
	if err != nil {
		t.Fatalf("Paused: %v", err)
	}
	if !paused {
		t.Error("expected daemon to report paused after Pause")
	}

	if err := c.Unpause(ctx); err != nil {
		t.Fatalf("Unpause: %v", err)
	}
	paused, err = c.Paused(ctx)
	if err != nil {
		t.Fatalf("Paused after unpause: %v", err)
	}
	if paused {
		t.Error("expected daemon to report unpaused after Unpause")
	}
}

func TestNotifyFollowPrimary(t *testing.T) {
	d := &fakeDaemon{}
	c := Client{Addr: newTestServer(t, d), Timeout: 2 * time.Second}

	if err := c.NotifyFollowPrimary(context.Background(), 7); err != nil {
		t.Fatalf("NotifyFollowPrimary: %v", err)
	}
	if d.lastNotifyID != 7 {
		t.Errorf("lastNotifyID = %d, want 7", d.lastNotifyID)
	}
}

func TestCallFailsWhenDaemonRefuses(t *testing.T) {
	d := &fakeDaemon{refuseRequests: true}
	c := Client{Addr: newTestServer(t, d), Timeout: 2 * time.Second}

	if _, err := c.Paused(context.Background()); err == nil {
		t.Error("expected an error when the daemon refuses the request")
	}
}

func TestCallFailsWithNoAddrConfigured(t *testing.T) {
	var c Client
	if err := c.Ping(context.Background()); err == nil {
		t.Error("expected an error when no RPC address is configured")
	}
}
