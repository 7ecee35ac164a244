package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/eventecho/internal/config"
	"github.com/dukerupert/eventecho/internal/database"
	"github.com/dukerupert/eventecho/internal/model"
	eventws "github.com/dukerupert/eventecho/internal/websocket"
)

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()
	_, srv := newTestServer(t)
	return srv
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.DBPath = ":memory:"
	cfg.BaseURL = "http://example.test"

	s := New(db, cfg, slog.Default())
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return s, srv
}

func TestHealth(t *testing.T) {
	srv := setupServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["backup"] != "disabled" {
		t.Errorf("backup = %v, want disabled", body["backup"])
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func listEvents(t *testing.T, srv *httptest.Server, owner string) []model.Event {
	t.Helper()
	resp, err := http.Get(srv.URL + "/api/events?owner=" + owner)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer resp.Body.Close()

	var events []model.Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	return events
}

func TestEventAPI(t *testing.T) {
	srv := setupServer(t)

	body := `{"owner":"@alice","description":"Dinner","date":"2099-12-31","time":"19:00"}`
	resp, err := http.Post(srv.URL+"/api/events", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}

	events := listEvents(t, srv, "@alice")
	if len(events) != 1 || events[0].Description != "Dinner" {
		t.Fatalf("events = %+v", events)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/events?owner=@alice", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	var cleared map[string]bool
	json.NewDecoder(resp.Body).Decode(&cleared)
	resp.Body.Close()
	if !cleared["ok"] {
		t.Error("clear ok = false, want true")
	}

	if events := listEvents(t, srv, "@alice"); len(events) != 0 {
		t.Errorf("events after clear = %+v", events)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := setupServer(t)

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func readMessage(t *testing.T, conn *ws.Conn) eventws.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg eventws.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func TestChatOverWebSocket(t *testing.T) {
	srv := setupServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?username=alice&user_id=7", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	if err := conn.Write(ctx, ws.MessageText, []byte("/add 2099-12-31 19:00 Party")); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply := readMessage(t, conn)
	if reply.Type != "reply" || !strings.Contains(reply.Text, "Saved #1") {
		t.Fatalf("reply = %+v", reply)
	}

	if events := listEvents(t, srv, "@alice"); len(events) != 1 {
		t.Fatalf("events = %+v, want the chat-added event", events)
	}

	// Events added over HTTP are pushed to the owner's chat.
	body := `{"owner":"@alice","description":"Lunch","date":"2099-12-30"}`
	resp, err := http.Post(srv.URL+"/api/events", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()

	note := readMessage(t, conn)
	if note.Type != "event_created" || note.ID != 2 {
		t.Errorf("notification = %+v, want event_created #2", note)
	}

	if err := conn.Write(ctx, ws.MessageText, []byte("/export")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if reply := readMessage(t, conn); !strings.Contains(reply.Text, "http://example.test/calendar.ics?owner=") {
		t.Errorf("export reply = %q", reply.Text)
	}
}

func TestNotifyShutdown(t *testing.T) {
	s, srv := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var conns []*ws.Conn
	for _, name := range []string{"alice", "bob"} {
		conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?username="+name, nil)
		if err != nil {
			t.Fatalf("dial %s: %v", name, err)
		}
		defer conn.CloseNow()

		// A round trip guarantees the client is registered with the hub.
		if err := conn.Write(ctx, ws.MessageText, []byte("/help")); err != nil {
			t.Fatalf("write: %v", err)
		}
		readMessage(t, conn)
		conns = append(conns, conn)
	}

	s.NotifyShutdown()

	for i, conn := range conns {
		msg := readMessage(t, conn)
		if msg.Type != "shutdown" || msg.Text != shutdownNotice {
			t.Errorf("client %d got %+v, want shutdown notice", i, msg)
		}
	}
}
