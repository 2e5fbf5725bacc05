package netatmo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mkarlsson/tunesync/internal/httpkit"
)

func TestFetchToken_PasswordGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/token" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "password" {
			t.Errorf("expected password grant, got %q", got)
		}
		if got := r.PostForm.Get("username"); got != "user@example.com" {
			t.Errorf("unexpected username %q", got)
		}
		if got := r.PostForm.Get("scope"); got != "read_thermostat write_thermostat" {
			t.Errorf("unexpected scope %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "bearer-na"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "cid", "csecret", "user@example.com", "hunter2", nil)
	tok, err := c.FetchToken(context.Background())
	if err != nil {
		t.Fatalf("FetchToken: %v", err)
	}
	if tok != "bearer-na" {
		t.Errorf("expected bearer-na, got %q", tok)
	}
}

func TestFetchToken_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "cid", "csecret", "user", "wrong", nil)
	if _, err := c.FetchToken(context.Background()); err == nil {
		t.Fatal("expected error for rejected grant")
	}
}

func TestSetRoomThermpoint_ManualWrite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/setthermpoint" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer bearer-na" {
			t.Errorf("expected bearer header, got %q", got)
		}
		var payload struct {
			Home struct {
				ID    string `json:"id"`
				Rooms []struct {
					ID          string   `json:"id"`
					Mode        string   `json:"therm_setpoint_mode"`
					Temperature *float64 `json:"therm_setpoint_temperature"`
					EndTime     *int64   `json:"therm_setpoint_end_time"`
				} `json:"rooms"`
			} `json:"home"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload.Home.ID != "home-1" {
			t.Errorf("expected home-1, got %q", payload.Home.ID)
		}
		if len(payload.Home.Rooms) != 1 {
			t.Fatalf("expected 1 room, got %d", len(payload.Home.Rooms))
		}
		room := payload.Home.Rooms[0]
		if room.Mode != "manual" {
			t.Errorf("expected manual mode, got %q", room.Mode)
		}
		if room.Temperature == nil || *room.Temperature != 21.5 {
			t.Errorf("expected temperature 21.5, got %v", room.Temperature)
		}
		if room.EndTime == nil || *room.EndTime != 1700000000 {
			t.Errorf("expected end time 1700000000, got %v", room.EndTime)
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "cid", "csecret", "user", "pass", nil)
	temp := 21.5
	end := int64(1700000000)
	err := c.SetRoomThermpoint(context.Background(), "bearer-na", Setpoint{
		HomeID:      "home-1",
		RoomID:      "room-1",
		Mode:        ModeManual,
		Temperature: &temp,
		EndTime:     &end,
	})
	if err != nil {
		t.Fatalf("SetRoomThermpoint: %v", err)
	}
}

func TestSetRoomThermpoint_ProgramOmitsFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		rooms := raw["home"].(map[string]any)["rooms"].([]any)
		room := rooms[0].(map[string]any)
		if room["therm_setpoint_mode"] != "program" {
			t.Errorf("expected program mode, got %v", room["therm_setpoint_mode"])
		}
		if _, present := room["therm_setpoint_temperature"]; present {
			t.Error("temperature must be omitted for a program write")
		}
		if _, present := room["therm_setpoint_end_time"]; present {
			t.Error("end time must be omitted for a program write")
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "cid", "csecret", "user", "pass", nil)
	err := c.SetRoomThermpoint(context.Background(), "bearer-na", Setpoint{
		HomeID: "home-1",
		RoomID: "room-1",
		Mode:   ModeProgram,
	})
	if err != nil {
		t.Fatalf("SetRoomThermpoint: %v", err)
	}
}

func TestSetRoomThermpoint_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"code":3,"message":"Access token expired"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "cid", "csecret", "user", "pass", nil)
	err := c.SetRoomThermpoint(context.Background(), "stale", Setpoint{
		HomeID: "home-1", RoomID: "room-1", Mode: ModeProgram,
	})
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !httpkit.IsStatus(err, http.StatusUnauthorized) {
		t.Errorf("expected a 401 StatusError, got %v", err)
	}
}
