package web

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mkarlsson/tunesync/internal/bridge"
)

func TestHub_PublishToClient(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))
	srv := httptest.NewServer(http.HandlerFunc(hub.handleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.After(2 * time.Second)
	for hub.ClientCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("client never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	temp := 21.5
	hub.Publish(bridge.Event{
		RoomUUID:    "room-uuid",
		Mode:        "manual",
		Temperature: &temp,
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got bridge.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	if got.RoomUUID != "room-uuid" || got.Temperature == nil || *got.Temperature != 21.5 {
		t.Errorf("unexpected event: %+v", got)
	}
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))
	srv := httptest.NewServer(http.HandlerFunc(hub.handleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for hub.ClientCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("client never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	conn.Close()
	deadline = time.After(2 * time.Second)
	for hub.ClientCount() != 0 {
		select {
		case <-deadline:
			t.Fatal("client never unregistered after disconnect")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestHub_PublishWithoutClients(t *testing.T) {
	hub := NewHub(nil)
	// Must not block or panic with nobody listening.
	hub.Publish(bridge.Event{RoomUUID: "room-uuid"})
}
